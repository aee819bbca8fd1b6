package transport

import (
	"math/rand"
	"sync"

	"github.com/fissionlink/internal/protocol"
)

// Faults configures how a MemBus misbehaves. Rates are probabilities in
// [0,1] applied per delivery (per listener), so one send may reach some
// listeners and not others.
type Faults struct {
	DropRate      float64
	DuplicateRate float64
	// ReorderRate holds a frame back until the next frame for the same
	// listener has been delivered.
	ReorderRate float64
	// Drop, if set, is consulted before the random faults; returning true
	// loses the frame for that listener.
	Drop func(to string, f Frame) bool
}

// MemBus is an in-process broadcast bus for tests and single-binary runs.
type MemBus struct {
	mu        sync.Mutex
	faults    Faults
	rng       *rand.Rand
	endpoints map[*MemEndpoint]struct{}
}

func NewMemBus(seed int64, faults Faults) *MemBus {
	return &MemBus{
		faults:    faults,
		rng:       rand.New(rand.NewSource(seed)),
		endpoints: make(map[*MemEndpoint]struct{}),
	}
}

// SetFaults replaces the fault profile; useful to heal a partition mid-test.
func (b *MemBus) SetFaults(f Faults) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = f
}

// Endpoint attaches a new listener identified by name.
func (b *MemBus) Endpoint(name string, buffer int) *MemEndpoint {
	if buffer <= 0 {
		buffer = 256
	}
	e := &MemEndpoint{
		bus:      b,
		name:     name,
		channels: make(map[protocol.Channel]struct{}),
		inbox:    make(chan Frame, buffer),
	}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *MemBus) send(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := range b.endpoints {
		if _, ok := e.channels[f.Channel]; !ok {
			continue
		}
		b.deliverLocked(e, f)
	}
}

func (b *MemBus) deliverLocked(e *MemEndpoint, f Frame) {
	if b.faults.Drop != nil && b.faults.Drop(e.name, f) {
		return
	}
	if b.roll(b.faults.DropRate) {
		return
	}
	copies := 1
	if b.roll(b.faults.DuplicateRate) {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		if e.held == nil && b.roll(b.faults.ReorderRate) {
			held := f
			e.held = &held
			continue
		}
		e.push(f)
		if e.held != nil {
			e.push(*e.held)
			e.held = nil
		}
	}
}

func (b *MemBus) roll(p float64) bool {
	return p > 0 && b.rng.Float64() < p
}

// Flush releases every held-back frame.
func (b *MemBus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := range b.endpoints {
		if e.held != nil {
			e.push(*e.held)
			e.held = nil
		}
	}
}

// MemEndpoint is one node's view of a MemBus. It implements Transport.
type MemEndpoint struct {
	bus      *MemBus
	name     string
	channels map[protocol.Channel]struct{}
	inbox    chan Frame
	held     *Frame
	closed   bool
}

// push is called with the bus lock held.
func (e *MemEndpoint) push(f Frame) {
	if e.closed {
		return
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	select {
	case e.inbox <- Frame{Channel: f.Channel, Data: data}:
	default:
	}
}

func (e *MemEndpoint) Listen(ch protocol.Channel) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.channels[ch] = struct{}{}
	return nil
}

func (e *MemEndpoint) Send(ch protocol.Channel, data []byte) error {
	e.bus.mu.Lock()
	closed := e.closed
	e.bus.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.bus.send(Frame{Channel: ch, Data: data})
	return nil
}

func (e *MemEndpoint) Inbox() <-chan Frame {
	return e.inbox
}

func (e *MemEndpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	delete(e.bus.endpoints, e)
	close(e.inbox)
	return nil
}
