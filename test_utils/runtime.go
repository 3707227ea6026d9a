// Package testutils holds a scripted in-memory Runtime used across the
// session tests: it records every request it receives and replays queued
// callbacks only from inside Poll, mimicking the cooperative delivery
// contract of a real federation runtime.
package testutils

import (
	"time"

	"github.com/simfed/fedkit"
)

type Runtime struct {
	Listener fedkit.Listener

	// Calls is the ordered log of requests, e.g. "connect", "join".
	Calls []string
	// Polls counts Poll invocations.
	Polls int

	// Scripted failures; nil means success.
	ConnectErr error
	CreateErr  error
	JoinErr    error
	AdvanceErr error
	ResignErr  error
	DestroyErr error

	// AutoGrant replays a TimeAdvanceGrant for the requested time on the
	// next Poll. AutoEnable does the same for the two enablement requests.
	AutoGrant  bool
	AutoEnable bool

	// Updates and Interactions record outbound traffic for assertions.
	Updates      []Sent
	Interactions []Sent

	queue   []func(fedkit.Listener)
	handles map[string]fedkit.Handle
	next    fedkit.Handle
	time    float64
}

// Sent is one recorded outbound transmission.
type Sent struct {
	Target fedkit.Handle
	Values map[fedkit.Handle][]byte
	Time   float64
}

func NewRuntime() *Runtime {
	return &Runtime{handles: make(map[string]fedkit.Handle)}
}

// Script queues a callback for delivery on the next Poll.
func (rt *Runtime) Script(cb func(fedkit.Listener)) {
	rt.queue = append(rt.queue, cb)
}

// Handle mints a stable handle for a structural name.
func (rt *Runtime) Handle(name string) fedkit.Handle {
	h, ok := rt.handles[name]
	if !ok {
		rt.next++
		h = rt.next
		rt.handles[name] = h
	}
	return h
}

func (rt *Runtime) record(op string) { rt.Calls = append(rt.Calls, op) }

func (rt *Runtime) Connect(l fedkit.Listener) error {
	rt.record("connect")
	if rt.ConnectErr != nil {
		return rt.ConnectErr
	}
	rt.Listener = l
	return nil
}

func (rt *Runtime) Disconnect() error {
	rt.record("disconnect")
	rt.Listener = nil
	return nil
}

func (rt *Runtime) CreateFederation(federation string) error {
	rt.record("create:" + federation)
	return rt.CreateErr
}

func (rt *Runtime) Join(federation, federate, federateType string) error {
	rt.record("join:" + federate)
	return rt.JoinErr
}

func (rt *Runtime) Resign() error {
	rt.record("resign")
	return rt.ResignErr
}

func (rt *Runtime) DestroyFederation(federation string) error {
	rt.record("destroy:" + federation)
	return rt.DestroyErr
}

func (rt *Runtime) RegisterObjectClass(class string, attributes []string, publish, subscribe bool) (fedkit.Handle, map[string]fedkit.Handle, error) {
	rt.record("object:" + class)
	attrs := make(map[string]fedkit.Handle, len(attributes))
	for _, a := range attributes {
		attrs[a] = rt.Handle(class + "." + a)
	}
	return rt.Handle(class), attrs, nil
}

func (rt *Runtime) RegisterInteractionClass(name string, parameters []string, publish, subscribe bool) (fedkit.Handle, map[string]fedkit.Handle, error) {
	rt.record("interaction:" + name)
	params := make(map[string]fedkit.Handle, len(parameters))
	for _, p := range parameters {
		params[p] = rt.Handle(name + "." + p)
	}
	return rt.Handle(name), params, nil
}

func (rt *Runtime) RegisterInstance(class fedkit.Handle, name string) (fedkit.Handle, error) {
	rt.record("instance:" + name)
	return rt.Handle("instance/" + name), nil
}

func (rt *Runtime) UpdateAttributes(instance fedkit.Handle, values map[fedkit.Handle][]byte, t float64) error {
	rt.record("update")
	rt.Updates = append(rt.Updates, Sent{Target: instance, Values: values, Time: t})
	return nil
}

func (rt *Runtime) SendInteraction(class fedkit.Handle, values map[fedkit.Handle][]byte, t float64) error {
	rt.record("send")
	rt.Interactions = append(rt.Interactions, Sent{Target: class, Values: values, Time: t})
	return nil
}

func (rt *Runtime) RegisterSyncPoint(label string) error {
	rt.record("syncreg:" + label)
	return nil
}

func (rt *Runtime) AchieveSyncPoint(label string) error {
	rt.record("achieve:" + label)
	return nil
}

func (rt *Runtime) EnableTimeRegulation(lookahead float64) error {
	rt.record("regulation")
	if rt.AutoEnable {
		t := rt.time
		rt.Script(func(l fedkit.Listener) { l.TimeRegulationEnabled(t) })
	}
	return nil
}

func (rt *Runtime) DisableTimeRegulation() error {
	rt.record("noregulation")
	return nil
}

func (rt *Runtime) EnableTimeConstrained() error {
	rt.record("constrained")
	if rt.AutoEnable {
		t := rt.time
		rt.Script(func(l fedkit.Listener) { l.TimeConstrainedEnabled(t) })
	}
	return nil
}

func (rt *Runtime) DisableTimeConstrained() error {
	rt.record("noconstrained")
	return nil
}

func (rt *Runtime) TimeAdvanceRequest(t float64) error {
	rt.record("advance")
	if rt.AdvanceErr != nil {
		return rt.AdvanceErr
	}
	if rt.AutoGrant {
		rt.time = t
		rt.Script(func(l fedkit.Listener) { l.TimeAdvanceGrant(t) })
	}
	return nil
}

func (rt *Runtime) NextMessageRequest(t float64) error {
	rt.record("next")
	if rt.AdvanceErr != nil {
		return rt.AdvanceErr
	}
	if rt.AutoGrant {
		rt.time = t
		rt.Script(func(l fedkit.Listener) { l.TimeAdvanceGrant(t) })
	}
	return nil
}

func (rt *Runtime) Poll(min, max time.Duration) error {
	rt.Polls++
	pending := rt.queue
	rt.queue = nil
	for _, cb := range pending {
		if rt.Listener != nil {
			cb(rt.Listener)
		}
	}
	return nil
}

var _ fedkit.Runtime = (*Runtime)(nil)

// Monitor is a JoinMonitor driven by plain functions.
type Monitor struct {
	AllJoinedFunc func() bool
	ExpiredFunc   func() bool
}

func (m Monitor) AllJoined() bool {
	return m.AllJoinedFunc != nil && m.AllJoinedFunc()
}

func (m Monitor) Expired() bool {
	return m.ExpiredFunc != nil && m.ExpiredFunc()
}
