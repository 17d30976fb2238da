// Package can defines the CAN frame type and Bus abstraction that the
// ISO-TP layer consumes. The core never talks to silicon directly: it
// consumes a pure frame-send callback and a frame-receive subscription,
// exactly the surface this package exposes.
package can

import "fmt"

// Standard CAN identifier bits, mirrored from linux/can.h so callers don't
// need to import golang.org/x/sys/unix just to mask an ID.
const (
	RtrFlag uint32 = 0x40000000
	EffFlag uint32 = 0x80000000
	SffMask uint32 = 0x000007FF
	EffMask uint32 = 0x1FFFFFFF
)

// Frame is a CAN data or remote frame: an identifier plus up to 8 payload
// bytes.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

// NewFrame builds a data frame from a byte slice, truncating/zero-padding
// to 8 bytes as CAN requires.
func NewFrame(id uint32, data []byte) Frame {
	f := Frame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// IsRTR reports whether the frame is a remote-transmission-request frame.
func (f Frame) IsRTR() bool {
	return f.ID&RtrFlag != 0
}

// FrameListener receives CAN frames off the wire. Handle must not block:
// it runs on the bus's own reception goroutine/interrupt context.
type FrameListener interface {
	Handle(frame Frame)
}

// FrameListenerFunc adapts a plain function to FrameListener.
type FrameListenerFunc func(frame Frame)

func (f FrameListenerFunc) Handle(frame Frame) { f(frame) }

// Bus is the driver-facing surface: connect, disconnect, send, and
// subscribe to all received frames. Implementations (socketcan, virtual)
// live in subpackages and self-register via RegisterInterface.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// NewInterfaceFunc constructs a Bus bound to a channel name (e.g. "can0",
// or a host:port for the virtual bus).
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface makes a Bus implementation available to NewBus under
// the given name. Backends call this from an init() function.
func RegisterInterface(name string, newInterface NewInterfaceFunc) {
	interfaceRegistry[name] = newInterface
}

// NewBus looks up a previously registered backend and constructs it.
func NewBus(interfaceName string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[interfaceName]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", interfaceName)
	}
	return newInterface(channel)
}
