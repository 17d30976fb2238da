// Package dispatcher is the priority-ordered event chain every UDS
// service handler registers against. Its shape is grounded on the
// teacher's BusManager ID-indexed callback dispatch and
// NMT.AddStateChangeCallback's cancel-closure idiom, generalized from a
// single CAN-ID key to a closed EventKind enum with ascending-priority
// insertion, matching the reference server's priority-sorted handler
// chain.
package dispatcher

import (
	"sort"

	"github.com/wdfk-prog/iso14229/pkg/uds"
)

// EventKind identifies what a request or server-internal occurrence is
// about, independent of which service handles it. Dispatch runs the
// chain registered for exactly one EventKind per request.
type EventKind uint8

const (
	EventDiagnosticSessionControl EventKind = iota
	EventECUReset
	EventReadDataByIdentifier
	EventWriteDataByIdentifier
	EventSecurityAccess
	EventCommunicationControl
	EventInputOutputControl
	EventRoutineControl
	EventRequestFileTransfer
	EventTransferData
	EventRequestTransferExit
	EventTesterPresent
	EventSessionTimeout
	EventDoScheduledReset
	eventKindCount
)

// Verdict is a handler's disposition for one dispatch.
type Verdict uint8

const (
	// Handled: positive outcome, stop the chain, respond positive.
	Handled Verdict = iota
	// HandledContinue: an observer claims the event but allows later
	// handlers in the chain to also run.
	HandledContinue
	// NotMine: this handler does not recognize the request; continue.
	NotMine
	// Rejected: a definite negative outcome; stop the chain.
	Rejected
	// ResponsePending: the handler needs more time; stop the chain, the
	// server core begins 0x78 pacing.
	ResponsePending
)

// Result is what a handler returns from one dispatch call.
type Result struct {
	Verdict Verdict
	NRC     uds.NRC // meaningful when Verdict == Rejected
	Payload []byte  // meaningful when Verdict == Handled (response body after SID)
}

// Handler processes one event's request bytes and returns a Result.
// req is the full request PDU (SID included) for request-kind events, or
// nil for internal events (session-timeout, do-scheduled-reset).
type Handler func(req []byte) Result

// EventKindForSID maps a request SID byte to the EventKind a transport
// binding should dispatch it under, the one place that mapping is
// defined so the worker loop and tests don't each grow their own copy.
func EventKindForSID(sid byte) (EventKind, bool) {
	switch sid {
	case uds.SIDDiagnosticSessionControl:
		return EventDiagnosticSessionControl, true
	case uds.SIDECUReset:
		return EventECUReset, true
	case uds.SIDReadDataByIdentifier:
		return EventReadDataByIdentifier, true
	case uds.SIDWriteDataByIdentifier:
		return EventWriteDataByIdentifier, true
	case uds.SIDSecurityAccess:
		return EventSecurityAccess, true
	case uds.SIDCommunicationControl:
		return EventCommunicationControl, true
	case uds.SIDInputOutputControl:
		return EventInputOutputControl, true
	case uds.SIDRoutineControl:
		return EventRoutineControl, true
	case uds.SIDRequestFileTransfer:
		return EventRequestFileTransfer, true
	case uds.SIDTransferData:
		return EventTransferData, true
	case uds.SIDRequestTransferExit:
		return EventRequestTransferExit, true
	case uds.SIDTesterPresent:
		return EventTesterPresent, true
	default:
		return 0, false
	}
}

type registration struct {
	priority int
	seq      uint64 // registration order, breaks priority ties FIFO
	handler  Handler
}

// Dispatcher holds one priority-sorted handler chain per EventKind.
type Dispatcher struct {
	chains [eventKindCount][]registration
	nextSeq uint64
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Register inserts handler into kind's chain in ascending-priority order
// (lower priority value runs first), and returns a func that removes it.
// Equal-priority handlers preserve registration order.
func (d *Dispatcher) Register(kind EventKind, priority int, handler Handler) (unregister func()) {
	reg := registration{priority: priority, seq: d.nextSeq, handler: handler}
	d.nextSeq++

	chain := d.chains[kind]
	i := sort.Search(len(chain), func(i int) bool { return chain[i].priority > priority })
	chain = append(chain, registration{})
	copy(chain[i+1:], chain[i:])
	chain[i] = reg
	d.chains[kind] = chain

	return func() {
		chain := d.chains[kind]
		for i, r := range chain {
			if r.seq == reg.seq {
				d.chains[kind] = append(chain[:i], chain[i+1:]...)
				return
			}
		}
	}
}

// Dispatch runs kind's chain over req per spec: Handled/Rejected stop the
// chain immediately; NotMine continues; HandledContinue remembers that at
// least one handler claimed the event and continues; ResponsePending
// stops the chain so the caller can begin 0x78 pacing. End of chain with
// no handler having claimed the request yields NotMine with NRC
// service-not-supported (0x11); end of chain with at least one
// HandledContinue and no Rejected yields Handled with an empty payload.
func (d *Dispatcher) Dispatch(kind EventKind, req []byte) Result {
	anyHandled := false
	for _, reg := range d.chains[kind] {
		res := reg.handler(req)
		switch res.Verdict {
		case Handled, Rejected, ResponsePending:
			return res
		case HandledContinue:
			anyHandled = true
		case NotMine:
			// fall through to next handler
		}
	}
	if anyHandled {
		return Result{Verdict: Handled}
	}
	return Result{Verdict: NotMine, NRC: uds.NRCServiceNotSupported}
}

// Len reports how many handlers are registered for kind (test/diagnostic
// use).
func (d *Dispatcher) Len(kind EventKind) int {
	return len(d.chains[kind])
}
