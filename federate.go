// Package fedkit removes the boilerplate around participating in a
// distributed, time-synchronized federation: change-tracked records,
// selective attribute encoding, synchronization points and the
// advance-request/advance-grant time protocol. The federation runtime
// itself is an external collaborator behind the Runtime interface.
package fedkit

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/simfed/fedkit/utils"
)

// Reserved synchronization point labels. Run marks federation start;
// Shutdown is interpreted even when never registered locally, because a
// federate must be able to react to shutdown without opting in.
const (
	RunSyncPoint      = "Run"
	ShutdownSyncPoint = "Shutdown"
)

// SyncPointState tracks one federation-wide label. Transitions are
// monotonic: None → Registered → Achieved, never backwards.
type SyncPointState int

const (
	SyncNone SyncPointState = iota
	SyncRegistered
	SyncAchieved
)

func (s SyncPointState) String() string {
	return []string{"None", "Registered", "Achieved"}[s]
}

// Stage is the session's connection lifecycle.
type Stage int

const (
	Disconnected Stage = iota
	Joining
	Idle
	Advancing
	Resigning
)

func (s Stage) String() string {
	return []string{"Disconnected", "Joining", "Idle", "Advancing", "Resigning"}[s]
}

// Options configures a Federate session.
type Options struct {
	Federation string
	Name       string
	Type       string

	Lookahead  float64
	StepSize   float64
	TimeOffset float64

	// SyncPoints are the locally known labels; the Run label is always
	// tracked whether listed or not.
	SyncPoints []string

	// RequiredFederates marks this federate as the federation initiator:
	// it attempts creation and, together with JoinMonitor, waits for the
	// named federates before Setup returns.
	RequiredFederates []string
	JoinMonitor       JoinMonitor

	// PublishSubscribe registers the federate's object and interaction
	// classes during Setup, populating the session's handle tables.
	PublishSubscribe func(f *Federate) error

	Log utils.Logger
}

// Federate is one participant's session: connection identity, time
// parameters, sync point bookkeeping and the structural name↔handle tables.
// It is deliberately single-threaded: every callback-driven transition
// happens inside Runtime.Poll. The one concurrent reader is a metrics
// scrape, so the fields a Collector reads are guarded by mx.
type Federate struct {
	rt   Runtime
	log  utils.Logger
	opts Options

	stage        Stage
	federateTime float64

	regulationEnabled  bool
	constrainedEnabled bool
	running            bool
	advancing          bool
	shutdown           bool
	done               bool

	syncPoints map[string]SyncPointState

	classHandles       map[string]Handle
	classNames         map[Handle]string
	attrHandles        map[string]map[string]Handle // class → attribute → handle
	attrNames          map[Handle]string
	interactionHandles map[string]Handle
	interactionNames   map[Handle]string
	paramHandles       map[string]map[string]Handle
	paramNames         map[Handle]string
	instanceClasses    map[Handle]Handle

	// Inbound dispatch hooks, called from inside Poll with handle maps
	// already resolved to structural names.
	OnDiscover     func(class string, instance Handle, name string)
	OnReflect      func(class string, instance Handle, values map[string][]byte, t float64)
	OnInteraction  func(name string, values map[string][]byte, t float64)
	OnRemove       func(instance Handle)
	OnSyncAchieved func(label string)

	grants    uint64
	anomalies uint64

	// mx guards the state a Collector scrapes from its own goroutine:
	// federateTime, the protocol flags, the counters and syncPoints.
	mx sync.Mutex
}

// New prepares a session over the given runtime. Nothing touches the
// network until Setup.
func New(rt Runtime, opts Options) *Federate {
	if opts.Log == nil {
		opts.Log = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return &Federate{
		rt:                 rt,
		log:                opts.Log,
		opts:               opts,
		syncPoints:         make(map[string]SyncPointState),
		classHandles:       make(map[string]Handle),
		classNames:         make(map[Handle]string),
		attrHandles:        make(map[string]map[string]Handle),
		attrNames:          make(map[Handle]string),
		interactionHandles: make(map[string]Handle),
		interactionNames:   make(map[Handle]string),
		paramHandles:       make(map[string]map[string]Handle),
		paramNames:         make(map[Handle]string),
		instanceClasses:    make(map[Handle]Handle),
	}
}

func (f *Federate) Name() string       { return f.opts.Name }
func (f *Federate) Federation() string { return f.opts.Federation }
func (f *Federate) Stage() Stage       { return f.stage }
func (f *Federate) Time() float64      { return f.federateTime }
func (f *Federate) Lookahead() float64 { return f.opts.Lookahead }
func (f *Federate) StepSize() float64  { return f.opts.StepSize }

func (f *Federate) Running() bool            { return f.running }
func (f *Federate) ShuttingDown() bool       { return f.shutdown }
func (f *Federate) Done() bool               { return f.done }
func (f *Federate) RegulationEnabled() bool  { return f.regulationEnabled }
func (f *Federate) ConstrainedEnabled() bool { return f.constrainedEnabled }

func (f *Federate) SyncPoint(label string) SyncPointState {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.syncPoints[label]
}

// Timestamp is the time attached to outgoing messages: current logical
// time plus lookahead.
func (f *Federate) Timestamp() float64 {
	return f.federateTime + f.opts.Lookahead
}

// Setup runs the join sequence: seed the sync point table, connect, create
// the federation when acting as initiator (idempotently), join, run the
// caller's publish/subscribe registration, then wait for the required
// federates. Each step is fatal on failure and aborts the remainder.
func (f *Federate) Setup(ctx context.Context) error {
	f.stage = Joining

	f.mx.Lock()
	for _, label := range f.opts.SyncPoints {
		f.syncPoints[label] = SyncNone
	}
	if _, ok := f.syncPoints[RunSyncPoint]; !ok {
		f.syncPoints[RunSyncPoint] = SyncNone
	}
	f.mx.Unlock()

	if err := f.rt.Connect(f); err != nil {
		f.stage = Disconnected
		return errors.Wrapf(ErrConnection, "connect: %v", err)
	}

	if len(f.opts.RequiredFederates) > 0 {
		err := f.rt.CreateFederation(f.opts.Federation)
		switch {
		case errors.Is(err, ErrFederationExists):
			f.log.Info("federation already exists", "federation", f.opts.Federation)
		case err != nil:
			f.stage = Disconnected
			return errors.Wrapf(err, "create federation %s", f.opts.Federation)
		}
	}

	if err := f.rt.Join(f.opts.Federation, f.opts.Name, f.opts.Type); err != nil {
		f.stage = Disconnected
		return errors.Wrapf(err, "join federation %s", f.opts.Federation)
	}
	f.log.Info("joined the federation", "federate", f.opts.Name, "federation", f.opts.Federation)

	if f.opts.PublishSubscribe != nil {
		if err := f.opts.PublishSubscribe(f); err != nil {
			f.stage = Disconnected
			return errors.Wrap(err, "publish and subscribe")
		}
	}

	if len(f.opts.RequiredFederates) > 0 && f.opts.JoinMonitor != nil {
		mon := f.opts.JoinMonitor
		for !mon.AllJoined() && !mon.Expired() {
			if err := ctx.Err(); err != nil {
				f.stage = Disconnected
				return errors.Wrapf(ErrJoinTimeout, "%v", err)
			}
			if err := f.rt.Poll(joinPollMin, joinPollMax); err != nil {
				f.stage = Disconnected
				return err
			}
		}
		if mon.Expired() {
			f.stage = Disconnected
			return ErrJoinTimeout
		}
	}

	f.stage = Idle
	return nil
}

// PublishObjectClass resolves an object class and its attributes to handles,
// publishing and/or subscribing as requested, and records the lookups for
// later encode/decode translation.
func (f *Federate) PublishObjectClass(class string, attributes []string, publish, subscribe bool) error {
	ch, attrs, err := f.rt.RegisterObjectClass(class, attributes, publish, subscribe)
	if err != nil {
		return errors.Wrapf(err, "register object class %s", class)
	}
	f.classHandles[class] = ch
	f.classNames[ch] = class
	byName := make(map[string]Handle, len(attrs))
	for name, h := range attrs {
		byName[name] = h
		f.attrNames[h] = name
	}
	f.attrHandles[class] = byName
	return nil
}

// PublishInteractionClass is the interaction counterpart of
// PublishObjectClass.
func (f *Federate) PublishInteractionClass(name string, parameters []string, publish, subscribe bool) error {
	ih, params, err := f.rt.RegisterInteractionClass(name, parameters, publish, subscribe)
	if err != nil {
		return errors.Wrapf(err, "register interaction class %s", name)
	}
	f.interactionHandles[name] = ih
	f.interactionNames[ih] = name
	byName := make(map[string]Handle, len(params))
	for pname, h := range params {
		byName[pname] = h
		f.paramNames[h] = pname
	}
	f.paramHandles[name] = byName
	return nil
}

// RegisterInstance registers a new object instance of a published class.
func (f *Federate) RegisterInstance(class, name string) (Handle, error) {
	ch, ok := f.classHandles[class]
	if !ok {
		return 0, errors.Wrapf(ErrNotJoined, "class %s is not registered", class)
	}
	ih, err := f.rt.RegisterInstance(ch, name)
	if err != nil {
		return 0, errors.Wrapf(err, "register instance of %s", class)
	}
	f.instanceClasses[ih] = ch
	return ih, nil
}

// SendUpdate transmits the record's dirty attributes for the given instance
// at the outgoing timestamp, then clears the dirty flags. An empty dirty
// set is a no-op, not an error.
func (f *Federate) SendUpdate(instance Handle, rec *ObjectRecord) error {
	handles, ok := f.attrHandles[rec.ClassName()]
	if !ok {
		return errors.Wrapf(ErrNotJoined, "class %s is not registered", rec.ClassName())
	}
	wire := f.toWire(rec.ClassName(), rec.EncodeDirty(), handles)
	if len(wire) == 0 {
		return nil
	}
	if err := f.rt.UpdateAttributes(instance, wire, f.Timestamp()); err != nil {
		return errors.Wrapf(err, "update %s", rec.ClassName())
	}
	rec.ResetDirty()
	return nil
}

// SendInteraction transmits the record's dirty parameters at the outgoing
// timestamp, then clears the dirty flags.
func (f *Federate) SendInteraction(rec *InteractionRecord) error {
	ih, ok := f.interactionHandles[rec.InteractionName()]
	if !ok {
		return errors.Wrapf(ErrNotJoined, "interaction %s is not registered", rec.InteractionName())
	}
	wire := f.toWire(rec.InteractionName(), rec.EncodeDirty(), f.paramHandles[rec.InteractionName()])
	if len(wire) == 0 {
		return nil
	}
	if err := f.rt.SendInteraction(ih, wire, f.Timestamp()); err != nil {
		return errors.Wrapf(err, "send %s", rec.InteractionName())
	}
	rec.ResetDirty()
	return nil
}

func (f *Federate) toWire(class string, values map[string][]byte, handles map[string]Handle) map[Handle][]byte {
	wire := make(map[Handle][]byte, len(values))
	for name, b := range values {
		h, ok := handles[name]
		if !ok {
			f.anomaly("no handle for field", "class", class, "field", name)
			continue
		}
		wire[h] = b
	}
	return wire
}

func (f *Federate) RegisterSyncPoint(label string) error {
	return f.rt.RegisterSyncPoint(label)
}

func (f *Federate) AchieveSyncPoint(label string) error {
	return f.rt.AchieveSyncPoint(label)
}

// Resign leaves the federation: resign with unconditional attribute
// divestiture, best-effort federation destruction, then disconnect. All
// three steps run in order no matter what fails; failures are logged,
// never propagated, so teardown always completes.
func (f *Federate) Resign() {
	f.stage = Resigning

	if err := f.rt.Resign(); err != nil {
		f.log.Error("resign failed", "federate", f.opts.Name, "err", err)
	}
	if err := f.rt.DestroyFederation(f.opts.Federation); err != nil {
		// another federate may still be using the federation
		f.log.Info("federation not destroyed", "federation", f.opts.Federation, "err", err)
	}
	if err := f.rt.Disconnect(); err != nil {
		f.log.Error("disconnect failed", "federate", f.opts.Name, "err", err)
	}

	f.stage = Disconnected
}

func (f *Federate) anomaly(msg string, args ...any) {
	f.mx.Lock()
	f.anomalies++
	f.mx.Unlock()
	f.log.Warn(msg, args...)
}

// --- Listener ---

// AnnounceSyncPoint moves a locally known label to Registered. The shutdown
// label is special: its announcement sets the shutdown flag even when never
// registered, preempting any in-flight advance wait.
func (f *Federate) AnnounceSyncPoint(label string) {
	label = strings.TrimSpace(label)
	f.mx.Lock()
	defer f.mx.Unlock()
	if state, ok := f.syncPoints[label]; ok {
		if state < SyncRegistered {
			f.syncPoints[label] = SyncRegistered
		}
		return
	}
	if strings.EqualFold(label, ShutdownSyncPoint) {
		f.shutdown = true
	}
}

// FederationSynchronized moves a tracked label to Achieved. The Run label
// flips the running flag, the Shutdown label the done flag; any other
// unknown label is an anomaly, reported but not fatal.
func (f *Federate) FederationSynchronized(label string) {
	label = strings.TrimSpace(label)
	f.mx.Lock()
	known := false
	if state, ok := f.syncPoints[label]; ok {
		known = true
		if state < SyncAchieved {
			f.syncPoints[label] = SyncAchieved
		}
	}
	unknown := false
	switch {
	case strings.EqualFold(label, RunSyncPoint):
		f.running = true
	case strings.EqualFold(label, ShutdownSyncPoint):
		f.done = true
	case !known:
		unknown = true
	}
	f.mx.Unlock()
	if unknown {
		f.anomaly("achieved unknown synchronization point", "federate", f.opts.Name, "label", label)
	}
	if f.OnSyncAchieved != nil {
		f.OnSyncAchieved(label)
	}
}

func (f *Federate) TimeRegulationEnabled(t float64) {
	f.mx.Lock()
	f.federateTime = t
	f.regulationEnabled = true
	f.mx.Unlock()
}

func (f *Federate) TimeConstrainedEnabled(t float64) {
	f.mx.Lock()
	f.federateTime = t
	f.constrainedEnabled = true
	f.mx.Unlock()
}

// TimeAdvanceGrant adopts the granted time, which is authoritative and may
// differ from the requested time under event-stepped advances.
func (f *Federate) TimeAdvanceGrant(t float64) {
	f.mx.Lock()
	f.federateTime = t
	f.advancing = false
	f.grants++
	f.mx.Unlock()
	if f.stage == Advancing {
		f.stage = Idle
	}
}

func (f *Federate) DiscoverInstance(instance, class Handle, name string) {
	f.instanceClasses[instance] = class
	if f.OnDiscover != nil {
		f.OnDiscover(f.classNames[class], instance, name)
	}
}

func (f *Federate) ReflectAttributes(instance Handle, values map[Handle][]byte, t float64) {
	class, ok := f.instanceClasses[instance]
	if !ok {
		f.anomaly("update for unknown instance", "instance", instance)
		return
	}
	if f.OnReflect == nil {
		return
	}
	f.OnReflect(f.classNames[class], instance, f.fromWire(values, f.attrNames), t)
}

func (f *Federate) ReceiveInteraction(class Handle, values map[Handle][]byte, t float64) {
	name, ok := f.interactionNames[class]
	if !ok {
		f.anomaly("interaction of unknown class", "class", class)
		return
	}
	if f.OnInteraction == nil {
		return
	}
	f.OnInteraction(name, f.fromWire(values, f.paramNames), t)
}

func (f *Federate) RemoveInstance(instance Handle) {
	delete(f.instanceClasses, instance)
	if f.OnRemove != nil {
		f.OnRemove(instance)
	}
}

func (f *Federate) fromWire(values map[Handle][]byte, names map[Handle]string) map[string][]byte {
	out := make(map[string][]byte, len(values))
	for h, b := range values {
		name, ok := names[h]
		if !ok {
			f.anomaly("value for unknown handle", "handle", h)
			continue
		}
		out[name] = b
	}
	return out
}
