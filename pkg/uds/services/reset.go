package services

import (
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// resetCore is the subset of *server.Server the reset service needs.
type resetCore interface {
	ScheduleReset(delayMs uint32)
}

// ResetSubfunction is a valid 0x11 sub-function value.
type ResetSubfunction byte

const (
	ResetHard              ResetSubfunction = 0x01
	ResetKeyOffOn          ResetSubfunction = 0x02
	ResetSoft              ResetSubfunction = 0x03
	ResetEnableRapidPowerShutdown  ResetSubfunction = 0x04
	ResetDisableRapidPowerShutdown ResetSubfunction = 0x05
)

var validResetSubfunctions = map[byte]ResetSubfunction{
	0x01: ResetHard, 0x02: ResetKeyOffOn, 0x03: ResetSoft,
	0x04: ResetEnableRapidPowerShutdown, 0x05: ResetDisableRapidPowerShutdown,
}

// ResetPerformer physically carries out a scheduled reset kind; invoked
// from the do-scheduled-reset event once the flush delay elapses.
type ResetPerformer func(kind ResetSubfunction)

// FlushDelayMs is the time spec.md §4.4.5 allots for the positive
// response to reach the transport before the reset is actually
// performed (typical 50ms).
const FlushDelayMs uint32 = 50

// MountECUReset registers the 0x11 handler (stage one: validate and
// schedule) and the do-scheduled-reset handler (stage two: perform),
// returning the aggregate unmount closure.
func MountECUReset(d *dispatcher.Dispatcher, srv resetCore, perform ResetPerformer) func() {
	var lastScheduled ResetSubfunction

	unregReset := d.Register(dispatcher.EventECUReset, 0, func(req []byte) dispatcher.Result {
		if len(req) < 2 {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
		}
		sub := req[1] &^ uds.SuppressPositiveResponseBit
		kind, ok := validResetSubfunctions[sub]
		if !ok {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCSubFunctionNotSupported}
		}
		lastScheduled = kind
		srv.ScheduleReset(FlushDelayMs)
		return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{byte(sub)}}
	})

	unregFire := d.Register(dispatcher.EventDoScheduledReset, 0, func([]byte) dispatcher.Result {
		perform(lastScheduled)
		return dispatcher.Result{Verdict: dispatcher.HandledContinue}
	})

	return func() {
		unregReset()
		unregFire()
	}
}
