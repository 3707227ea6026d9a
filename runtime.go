package fedkit

import (
	"fmt"
	"time"
)

// Handle is an opaque runtime identifier for a structural name (object
// class, attribute, interaction class, parameter) or an object instance.
// Handles are minted by the Runtime and only ever compared or mapped.
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("%x", uint64(h)) }

// Runtime is the externally supplied federation runtime (the model
// registry): it performs discovery, ordering and delivery. The session
// drives it synchronously; all asynchronous events come back through the
// Listener, and only ever from inside Poll.
type Runtime interface {
	// Connect attaches the listener. All later callbacks are delivered to
	// it from inside Poll, never spontaneously.
	Connect(l Listener) error
	Disconnect() error

	// CreateFederation returns ErrFederationExists when the federation is
	// already running; callers treat that as success.
	CreateFederation(federation string) error
	Join(federation, federate, federateType string) error
	Resign() error
	DestroyFederation(federation string) error

	// RegisterObjectClass resolves a class and its attributes to handles,
	// optionally publishing and/or subscribing them.
	RegisterObjectClass(class string, attributes []string, publish, subscribe bool) (Handle, map[string]Handle, error)
	RegisterInteractionClass(name string, parameters []string, publish, subscribe bool) (Handle, map[string]Handle, error)
	RegisterInstance(class Handle, name string) (Handle, error)

	UpdateAttributes(instance Handle, values map[Handle][]byte, t float64) error
	SendInteraction(class Handle, values map[Handle][]byte, t float64) error

	RegisterSyncPoint(label string) error
	AchieveSyncPoint(label string) error

	EnableTimeRegulation(lookahead float64) error
	DisableTimeRegulation() error
	EnableTimeConstrained() error
	DisableTimeConstrained() error
	TimeAdvanceRequest(t float64) error
	NextMessageRequest(t float64) error

	// Poll yields control to the runtime so it can deliver pending
	// callbacks. It waits at least min (when idle) and at most max.
	Poll(min, max time.Duration) error
}

// Listener receives the runtime's asynchronous events. The Federate session
// implements it; embedding NopListener keeps custom implementations source
// compatible when the surface grows.
type Listener interface {
	AnnounceSyncPoint(label string)
	FederationSynchronized(label string)

	TimeRegulationEnabled(t float64)
	TimeConstrainedEnabled(t float64)
	TimeAdvanceGrant(t float64)

	DiscoverInstance(instance, class Handle, name string)
	ReflectAttributes(instance Handle, values map[Handle][]byte, t float64)
	ReceiveInteraction(class Handle, values map[Handle][]byte, t float64)
	RemoveInstance(instance Handle)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) AnnounceSyncPoint(string)                              {}
func (NopListener) FederationSynchronized(string)                         {}
func (NopListener) TimeRegulationEnabled(float64)                         {}
func (NopListener) TimeConstrainedEnabled(float64)                        {}
func (NopListener) TimeAdvanceGrant(float64)                              {}
func (NopListener) DiscoverInstance(Handle, Handle, string)               {}
func (NopListener) ReflectAttributes(Handle, map[Handle][]byte, float64)  {}
func (NopListener) ReceiveInteraction(Handle, map[Handle][]byte, float64) {}
func (NopListener) RemoveInstance(Handle)                                 {}

// JoinMonitor tells the session when all required federates have joined,
// and when to give up waiting. Implementations are runtime-specific.
type JoinMonitor interface {
	AllJoined() bool
	Expired() bool
}
