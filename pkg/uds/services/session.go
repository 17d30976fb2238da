package services

import (
	"encoding/binary"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
	"github.com/wdfk-prog/iso14229/pkg/uds/server"
)

// sessionCore is the subset of *server.Server the session service needs,
// narrowed so this file's dependency surface is explicit and testable
// against a fake.
type sessionCore interface {
	SetSession(uds.Session)
	Timing() server.SessionTiming
}

var validSessionSubfunctions = map[byte]uds.Session{
	0x01: uds.SessionDefault,
	0x02: uds.SessionProgramming,
	0x03: uds.SessionExtended,
}

// MountSessionControl registers the 0x10 DiagnosticSessionControl
// handler against srv, returning its unmount closure. The positive
// response echoes P2server_max and P2*server_max per ISO 14229-1 (the
// latter in units of 10ms), matching the session just entered.
func MountSessionControl(d *dispatcher.Dispatcher, srv sessionCore) func() {
	return d.Register(dispatcher.EventDiagnosticSessionControl, 0, func(req []byte) dispatcher.Result {
		if len(req) < 2 {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
		}
		sub := req[1] &^ uds.SuppressPositiveResponseBit
		session, ok := validSessionSubfunctions[sub]
		if !ok {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCSubFunctionNotSupported}
		}
		srv.SetSession(session)
		timing := srv.Timing()

		payload := make([]byte, 5)
		payload[0] = sub
		binary.BigEndian.PutUint16(payload[1:3], uint16(timing.P2Ms))
		binary.BigEndian.PutUint16(payload[3:5], uint16(timing.P2StarMs/10))
		return dispatcher.Result{Verdict: dispatcher.Handled, Payload: payload}
	})
}
