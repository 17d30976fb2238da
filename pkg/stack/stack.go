// Package stack is the top-level facade: it owns the CAN bus, the
// physical+functional ISO-TP transport binding, the bounded frame queue,
// and one UDS endpoint (server or client), and drives all of it from a
// single worker goroutine per spec.md §5. Its embedding-a-transport-plus-
// one-protocol-client shape is grounded on pkg/network.Network, which
// combines a BusManager and an SDOClient behind one owned value the same
// way.
package stack

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/wdfk-prog/iso14229/pkg/can"
	"github.com/wdfk-prog/iso14229/pkg/clock"
	"github.com/wdfk-prog/iso14229/pkg/isotp"
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
	"github.com/wdfk-prog/iso14229/pkg/uds/server"
)

// DefaultTickMs is the worker's poll latency when idle, per spec.md §5's
// "recommended 10 ms".
const DefaultTickMs = 10

// Addressing bundles the physical pair and the optional functional pair
// spec.md §4.3's transport binding needs.
type Addressing struct {
	PhysRxID uint32
	PhysTxID uint32

	HasFunc  bool
	FuncRxID uint32
}

// Stack is the owned value a server or client binary constructs once at
// startup. Exactly one of Server/Client is non-nil depending on role.
type Stack struct {
	clk   clock.Clock
	bus   can.Bus
	queue *clock.FrameQueue

	phys *isotp.Link
	fn   *isotp.Link // nil when Addressing.HasFunc is false

	Server *server.Server
	Client *client.Client

	tickMs uint32
	log    *log.Entry
}

func newTransport(addr Addressing, clk clock.Clock, isotpCfg isotp.Config, bus can.Bus, onPDU isotp.PDUHandler) (phys, fn *isotp.Link) {
	send := func(f can.Frame) error { return bus.Send(f) }

	physCfg := isotpCfg
	physCfg.RxID = addr.PhysRxID
	physCfg.TxID = addr.PhysTxID
	phys = isotp.NewLink("phys", physCfg, clk, send, onPDU)

	if !addr.HasFunc {
		return phys, nil
	}
	funcCfg := isotpCfg
	funcCfg.RxID = addr.FuncRxID
	funcCfg.TxID = addr.PhysTxID
	fn = isotp.NewLink("func", funcCfg, clk, send, onPDU)
	return phys, fn
}

// NewServer builds a server-role Stack: a UDS server driven by disp's
// registered services, reachable on the physical and (if configured)
// functional address pair.
func NewServer(clk clock.Clock, bus can.Bus, queue *clock.FrameQueue, addr Addressing, isotpCfg isotp.Config, disp *dispatcher.Dispatcher, srvCfg server.Config) *Stack {
	s := &Stack{clk: clk, bus: bus, queue: queue, tickMs: DefaultTickMs, log: log.WithField("component", "stack")}

	var srv *server.Server
	onPDU := func(pdu []byte) {
		if len(pdu) == 0 {
			return
		}
		kind, ok := dispatcher.EventKindForSID(pdu[0])
		if !ok {
			return
		}
		srv.HandleRequest(kind, pdu, uds.SuppressPositiveResponseRequested(pdu))
	}

	phys, fn := newTransport(addr, clk, isotpCfg, bus, onPDU)
	srv = server.New(disp, clk, func(pdu []byte) error { return phys.Send(pdu) }, srvCfg)

	s.phys, s.fn, s.Server = phys, fn, srv
	return s
}

// NewClient builds a client-role Stack: a UDS client bound to the
// physical address pair (clients never listen on a functional ID).
func NewClient(clk clock.Clock, bus can.Bus, queue *clock.FrameQueue, addr Addressing, isotpCfg isotp.Config, cliCfg client.Config, disconnect client.DisconnectFunc) *Stack {
	s := &Stack{clk: clk, bus: bus, queue: queue, tickMs: DefaultTickMs, log: log.WithField("component", "stack")}

	var cli *client.Client
	onPDU := func(pdu []byte) { cli.OnResponse(pdu) }

	addr.HasFunc = false
	phys, _ := newTransport(addr, clk, isotpCfg, bus, onPDU)
	cli = client.New(clk, func(pdu []byte) error { return phys.Send(pdu) }, cliCfg, disconnect)

	s.phys, s.Client = phys, cli
	return s
}

// Connect opens the bus and subscribes the frame queue to it. It must be
// called before Run.
func (s *Stack) Connect(args ...any) error {
	if err := s.bus.Connect(args...); err != nil {
		return err
	}
	return s.bus.Subscribe(s.queue.AsListener())
}

// Disconnect closes the bus. Run's goroutine must already have returned
// (cancel its context first) or the worker may observe a send error on
// its next poll.
func (s *Stack) Disconnect() error {
	return s.bus.Disconnect()
}

// sending reports whether either link has a multi-frame transfer in
// flight, the condition under which the worker busy-polls instead of
// blocking on the frame queue (spec.md §5's STmin-tightness requirement).
func (s *Stack) sending() bool {
	if s.phys.Status()&isotp.StatusSending != 0 {
		return true
	}
	if s.fn != nil && s.fn.Status()&isotp.StatusSending != 0 {
		return true
	}
	return false
}

// routeFrame implements spec.md §4.3: physical ID goes to the physical
// link; functional ID goes to the functional link only if the physical
// receive state is idle, otherwise it's dropped per ISO 15765-2.
func (s *Stack) routeFrame(frame can.Frame) {
	switch {
	case frame.ID == s.phys.RxID():
		s.phys.FeedFrame(frame)
	case s.fn != nil && frame.ID == s.fn.RxID():
		if s.phys.Status()&isotp.StatusReceiving == 0 {
			s.fn.FeedFrame(frame)
		}
	}
}

// Run is the single dedicated worker: it drains the frame queue, routes
// frames to the owned links, and polls every owned component, until ctx
// is cancelled. Callers run this in its own goroutine.
func (s *Stack) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		timeoutMs := s.tickMs
		if s.sending() {
			timeoutMs = 0
		}
		if frame, ok := s.queue.Recv(timeoutMs); ok {
			s.routeFrame(frame)
		}

		now := s.clk.NowMs()
		s.phys.Poll(now)
		if s.fn != nil {
			s.fn.Poll(now)
		}
		if s.Server != nil {
			s.Server.Poll(now)
		}
		if s.Client != nil {
			s.Client.Poll(now)
		}
	}
}
