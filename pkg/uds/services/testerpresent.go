package services

import (
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// MountTesterPresent registers the 0x3E handler, returning its unmount
// closure. 0x00 is the only valid sub-function (zeroSubFunction); the
// positive response just echoes it back.
func MountTesterPresent(d *dispatcher.Dispatcher) func() {
	return d.Register(dispatcher.EventTesterPresent, 0, func(req []byte) dispatcher.Result {
		if len(req) < 2 {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
		}
		sub := req[1] &^ uds.SuppressPositiveResponseBit
		if sub != 0x00 {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCSubFunctionNotSupported}
		}
		return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{sub}}
	})
}
