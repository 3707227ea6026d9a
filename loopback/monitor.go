package loopback

import (
	"time"

	"github.com/simfed/fedkit"
)

// Monitor watches the bus for a set of required federates, with a wall
// clock deadline. It satisfies fedkit.JoinMonitor.
type Monitor struct {
	bus        *Bus
	federation string
	required   []string
	deadline   time.Time
}

func NewMonitor(bus *Bus, federation string, required []string, timeout time.Duration) *Monitor {
	return &Monitor{
		bus:        bus,
		federation: federation,
		required:   required,
		deadline:   time.Now().Add(timeout),
	}
}

func (m *Monitor) AllJoined() bool {
	fed, err := m.bus.lookup(m.federation)
	if err != nil {
		return false
	}
	for _, name := range m.required {
		if !fed.HasMember(name) {
			return false
		}
	}
	return true
}

func (m *Monitor) Expired() bool {
	return time.Now().After(m.deadline)
}

var _ fedkit.JoinMonitor = (*Monitor)(nil)
