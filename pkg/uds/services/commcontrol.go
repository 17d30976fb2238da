package services

import (
	"encoding/binary"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// commControlCore is the subset of *server.Server the comm-control
// service needs.
type commControlCore interface {
	SetCommState(normal, nm bool)
	CommStateNormal() bool
	CommStateNM() bool
}

// MountCommunicationControl registers the 0x28 handler, returning its
// unmount closure. Sub-functions 0x00-0x03 toggle the addressed comm
// state(s) directly; 0x04/0x05 (enhanced addressing) only apply when the
// request's 16-bit node identifier matches localNodeID.
func MountCommunicationControl(d *dispatcher.Dispatcher, srv commControlCore, localNodeID uint16) func() {
	return d.Register(dispatcher.EventCommunicationControl, 0, func(req []byte) dispatcher.Result {
		if len(req) < 3 {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
		}
		sub := req[1]
		commType := req[2]

		switch sub {
		case 0x00, 0x01, 0x02, 0x03:
			applyCommType(srv, sub, commType)
			return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{sub}}

		case 0x04, 0x05:
			if len(req) < 5 {
				return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
			}
			nodeID := binary.BigEndian.Uint16(req[3:5])
			if nodeID != localNodeID {
				return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{sub}} // not addressed to us, ack silently
			}
			applyCommType(srv, sub-0x04, commType)
			return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{sub}}

		default:
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCSubFunctionNotSupported}
		}
	})
}

// applyCommType maps sub∈{0,1,2,3} × commType's "normal"/"network
// management" bits onto the two comm-state flags. Rx is enabled for
// {0x00 enableRxTx, 0x01 enableRxDisableTx}, disabled for {0x02
// disableRxEnableTx, 0x03 disableRxTx}.
func applyCommType(srv commControlCore, sub byte, commType byte) {
	enable := sub == 0x00 || sub == 0x01
	const (
		commTypeNormal = 0x01
		commTypeNM     = 0x02
	)
	normal, nm := srv.CommStateNormal(), srv.CommStateNM()
	if commType&commTypeNormal != 0 || commType == 0x00 {
		normal = enable
	}
	if commType&commTypeNM != 0 || commType == 0x00 {
		nm = enable
	}
	srv.SetCommState(normal, nm)
}
