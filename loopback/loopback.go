// Package loopback is an in-process federation runtime: every federate in
// the process connects to the same Bus, and updates, interactions and
// synchronization points are routed between them without any network. Time
// requests are granted immediately, which makes the loopback runtime
// suitable for demos and integration tests but not for coordinated
// multi-process time management.
package loopback

import (
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/simfed/fedkit"
)

var (
	ErrNoFederation  = errors.New("loopback: no such federation")
	ErrMembersRemain = errors.New("loopback: federation still has members")
	ErrNotConnected  = errors.New("loopback: runtime is not connected")
	ErrDuplicateName = errors.New("loopback: federate name already joined")
	ErrUnknownHandle = errors.New("loopback: unknown handle")
)

// handleOf derives a stable handle from a structural name. Callbacks carry
// handles only; both sides recover names through their own tables.
func handleOf(name string) fedkit.Handle {
	return fedkit.Handle(xxhash.Sum64String(name))
}

// Bus hosts the federations of one process.
type Bus struct {
	federations *xsync.MapOf[string, *Federation]
}

func NewBus() *Bus {
	return &Bus{federations: xsync.NewMapOf[string, *Federation]()}
}

// NewRuntime returns a disconnected runtime attached to the bus. Each
// federate session needs its own.
func (b *Bus) NewRuntime() *Runtime {
	return &Runtime{bus: b, subs: make(map[fedkit.Handle]bool)}
}

func (b *Bus) create(name string) error {
	_, loaded := b.federations.LoadOrStore(name, newFederation(name))
	if loaded {
		return errors.Wrapf(fedkit.ErrFederationExists, "%s", name)
	}
	return nil
}

func (b *Bus) lookup(name string) (*Federation, error) {
	fed, ok := b.federations.Load(name)
	if !ok {
		return nil, errors.Wrapf(ErrNoFederation, "%s", name)
	}
	return fed, nil
}

func (b *Bus) destroy(name string) error {
	fed, err := b.lookup(name)
	if err != nil {
		return err
	}
	if fed.members.Size() > 0 {
		return errors.Wrapf(ErrMembersRemain, "%s", name)
	}
	b.federations.Delete(name)
	return nil
}

type instanceInfo struct {
	class fedkit.Handle
	name  string
	owner string
}

// Federation is one named routing domain on the bus.
type Federation struct {
	name      string
	members   *xsync.MapOf[string, *Runtime]
	instances *xsync.MapOf[fedkit.Handle, instanceInfo]

	lock     sync.Mutex
	achieved map[string]map[string]bool // label → federate names done
}

func newFederation(name string) *Federation {
	return &Federation{
		name:      name,
		members:   xsync.NewMapOf[string, *Runtime](),
		instances: xsync.NewMapOf[fedkit.Handle, instanceInfo](),
	}
}

func (fed *Federation) Name() string { return fed.name }

// MemberCount reports the currently joined federates; join monitors poll it.
func (fed *Federation) MemberCount() int { return fed.members.Size() }

func (fed *Federation) HasMember(name string) bool {
	_, ok := fed.members.Load(name)
	return ok
}

// announce registers a sync point and tells every member about it.
func (fed *Federation) announce(label string) {
	fed.lock.Lock()
	if fed.achieved == nil {
		fed.achieved = make(map[string]map[string]bool)
	}
	if _, ok := fed.achieved[label]; !ok {
		fed.achieved[label] = make(map[string]bool)
	}
	fed.lock.Unlock()
	fed.members.Range(func(_ string, m *Runtime) bool {
		m.deliver(func(l fedkit.Listener) { l.AnnounceSyncPoint(label) })
		return true
	})
}

// achieve records one member's achievement; once every current member has
// achieved the label, the federation is synchronized and the label retires.
func (fed *Federation) achieve(label, member string) {
	fed.lock.Lock()
	if fed.achieved == nil {
		fed.achieved = make(map[string]map[string]bool)
	}
	done, ok := fed.achieved[label]
	if !ok {
		done = make(map[string]bool)
		fed.achieved[label] = done
	}
	done[member] = true
	complete := true
	fed.members.Range(func(name string, _ *Runtime) bool {
		complete = done[name]
		return complete
	})
	if complete {
		delete(fed.achieved, label)
	}
	fed.lock.Unlock()
	if !complete {
		return
	}
	fed.members.Range(func(_ string, m *Runtime) bool {
		m.deliver(func(l fedkit.Listener) { l.FederationSynchronized(label) })
		return true
	})
}

// fanout queues cb at every subscribed member except the sender.
func (fed *Federation) fanout(sender string, class fedkit.Handle, cb func(fedkit.Listener)) {
	fed.members.Range(func(name string, m *Runtime) bool {
		if name != sender && m.subscribed(class) {
			m.deliver(cb)
		}
		return true
	})
}

// Runtime is one federate's endpoint on the bus. It implements
// fedkit.Runtime; callbacks are queued by peers and replayed only from
// inside Poll, matching the evoked-callback model.
type Runtime struct {
	bus      *Bus
	fed      *Federation
	name     string
	listener fedkit.Listener
	time     float64

	lock  sync.Mutex
	queue []func(fedkit.Listener)
	subs  map[fedkit.Handle]bool
}

var _ fedkit.Runtime = (*Runtime)(nil)

func (rt *Runtime) deliver(cb func(fedkit.Listener)) {
	rt.lock.Lock()
	rt.queue = append(rt.queue, cb)
	rt.lock.Unlock()
}

func (rt *Runtime) subscribed(class fedkit.Handle) bool {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	return rt.subs[class]
}

func (rt *Runtime) Connect(l fedkit.Listener) error {
	rt.listener = l
	return nil
}

func (rt *Runtime) Disconnect() error {
	rt.listener = nil
	return nil
}

func (rt *Runtime) CreateFederation(federation string) error {
	return rt.bus.create(federation)
}

func (rt *Runtime) DestroyFederation(federation string) error {
	return rt.bus.destroy(federation)
}

func (rt *Runtime) Join(federation, federate, federateType string) error {
	if rt.listener == nil {
		return ErrNotConnected
	}
	fed, err := rt.bus.lookup(federation)
	if err != nil {
		return err
	}
	if _, loaded := fed.members.LoadOrStore(federate, rt); loaded {
		return errors.Wrapf(ErrDuplicateName, "%s", federate)
	}
	rt.fed = fed
	rt.name = federate
	return nil
}

// Resign leaves the federation and removes the federate's instances at
// every subscriber.
func (rt *Runtime) Resign() error {
	if rt.fed == nil {
		return ErrNotConnected
	}
	fed := rt.fed
	fed.members.Delete(rt.name)
	fed.instances.Range(func(h fedkit.Handle, info instanceInfo) bool {
		if info.owner == rt.name {
			fed.instances.Delete(h)
			fed.fanout(rt.name, info.class, func(l fedkit.Listener) { l.RemoveInstance(h) })
		}
		return true
	})
	rt.fed = nil
	return nil
}

func (rt *Runtime) RegisterObjectClass(class string, attributes []string, publish, subscribe bool) (fedkit.Handle, map[string]fedkit.Handle, error) {
	ch := handleOf(class)
	attrs := make(map[string]fedkit.Handle, len(attributes))
	for _, a := range attributes {
		attrs[a] = handleOf(class + "." + a)
	}
	if subscribe {
		rt.lock.Lock()
		rt.subs[ch] = true
		rt.lock.Unlock()
	}
	return ch, attrs, nil
}

func (rt *Runtime) RegisterInteractionClass(name string, parameters []string, publish, subscribe bool) (fedkit.Handle, map[string]fedkit.Handle, error) {
	ih := handleOf(name)
	params := make(map[string]fedkit.Handle, len(parameters))
	for _, p := range parameters {
		params[p] = handleOf(name + "." + p)
	}
	if subscribe {
		rt.lock.Lock()
		rt.subs[ih] = true
		rt.lock.Unlock()
	}
	return ih, params, nil
}

// RegisterInstance announces a new instance to subscribers. An empty name
// gets a generated one; the handle is derived from federation, class and
// name so reregistration of the same name collides predictably.
func (rt *Runtime) RegisterInstance(class fedkit.Handle, name string) (fedkit.Handle, error) {
	if rt.fed == nil {
		return 0, ErrNotConnected
	}
	if name == "" {
		name = uuid.NewString()
	}
	ih := handleOf(rt.fed.name + "/" + class.String() + "/" + name)
	rt.fed.instances.Store(ih, instanceInfo{class: class, name: name, owner: rt.name})
	rt.fed.fanout(rt.name, class, func(l fedkit.Listener) { l.DiscoverInstance(ih, class, name) })
	return ih, nil
}

func (rt *Runtime) UpdateAttributes(instance fedkit.Handle, values map[fedkit.Handle][]byte, t float64) error {
	if rt.fed == nil {
		return ErrNotConnected
	}
	info, ok := rt.fed.instances.Load(instance)
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "instance %s", instance)
	}
	rt.fed.fanout(rt.name, info.class, func(l fedkit.Listener) {
		l.ReflectAttributes(instance, values, t)
	})
	return nil
}

func (rt *Runtime) SendInteraction(class fedkit.Handle, values map[fedkit.Handle][]byte, t float64) error {
	if rt.fed == nil {
		return ErrNotConnected
	}
	rt.fed.fanout(rt.name, class, func(l fedkit.Listener) {
		l.ReceiveInteraction(class, values, t)
	})
	return nil
}

func (rt *Runtime) RegisterSyncPoint(label string) error {
	if rt.fed == nil {
		return ErrNotConnected
	}
	rt.fed.announce(label)
	return nil
}

func (rt *Runtime) AchieveSyncPoint(label string) error {
	if rt.fed == nil {
		return ErrNotConnected
	}
	rt.fed.achieve(label, rt.name)
	return nil
}

func (rt *Runtime) EnableTimeRegulation(lookahead float64) error {
	t := rt.time
	rt.deliver(func(l fedkit.Listener) { l.TimeRegulationEnabled(t) })
	return nil
}

func (rt *Runtime) DisableTimeRegulation() error { return nil }

func (rt *Runtime) EnableTimeConstrained() error {
	t := rt.time
	rt.deliver(func(l fedkit.Listener) { l.TimeConstrainedEnabled(t) })
	return nil
}

func (rt *Runtime) DisableTimeConstrained() error { return nil }

// TimeAdvanceRequest grants immediately: the loopback runtime has no
// cross-federate time coordination.
func (rt *Runtime) TimeAdvanceRequest(t float64) error {
	rt.time = t
	rt.deliver(func(l fedkit.Listener) { l.TimeAdvanceGrant(t) })
	return nil
}

func (rt *Runtime) NextMessageRequest(t float64) error {
	return rt.TimeAdvanceRequest(t)
}

// Poll drains the queued callbacks; when there are none it sleeps min so
// polling loops back off instead of spinning.
func (rt *Runtime) Poll(min, max time.Duration) error {
	rt.lock.Lock()
	pending := rt.queue
	rt.queue = nil
	rt.lock.Unlock()
	if len(pending) == 0 {
		time.Sleep(min)
		return nil
	}
	for _, cb := range pending {
		if rt.listener != nil {
			cb(rt.listener)
		}
	}
	return nil
}
