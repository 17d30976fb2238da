// Package virtual implements an in-process loopback CAN bus, used for
// tests and local demos. It adapts the teacher's TCP-broker virtual bus
// (pkg/can/virtual in the reference repo) into an in-process broadcaster:
// same "shared channel name, every connected bus sees every other bus's
// frames" semantics, without requiring an external broker process.
package virtual

import (
	"sync"

	"github.com/wdfk-prog/iso14229/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
	can.RegisterInterface("virtualcan", NewBus)
}

type broker struct {
	mu      sync.Mutex
	members []*Bus
}

func (b *broker) join(bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, bus)
}

func (b *broker) leave(bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == bus {
			b.members = append(b.members[:i], b.members[i+1:]...)
			return
		}
	}
}

func (b *broker) publish(from *Bus, frame can.Frame) {
	b.mu.Lock()
	members := make([]*Bus, len(b.members))
	copy(members, b.members)
	b.mu.Unlock()
	for _, m := range members {
		if m == from {
			continue
		}
		m.deliver(frame)
	}
}

var (
	brokersMu sync.Mutex
	brokers   = make(map[string]*broker)
)

func brokerFor(channel string) *broker {
	brokersMu.Lock()
	defer brokersMu.Unlock()
	b, ok := brokers[channel]
	if !ok {
		b = &broker{}
		brokers[channel] = b
	}
	return b
}

// Bus is a loopback CAN bus: every Bus constructed with the same channel
// name observes every other such Bus's sent frames.
type Bus struct {
	channel   string
	broker    *broker
	mu        sync.Mutex
	listener  can.FrameListener
	connected bool
}

func NewBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, broker: brokerFor(channel)}, nil
}

func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.broker.join(b)
	return nil
}

func (b *Bus) Disconnect() error {
	b.broker.leave(b)
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	b.broker.publish(b, frame)
	return nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	b.listener = listener
	b.mu.Unlock()
	return nil
}

func (b *Bus) deliver(frame can.Frame) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener.Handle(frame)
	}
}
