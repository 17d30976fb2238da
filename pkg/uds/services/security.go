package services

import (
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// securityCore is the subset of *server.Server the security-access
// service needs; the seed/key bookkeeping itself lives in the server
// core (spec.md §4.4.4 treats it as session/security state, not a
// detachable service), this file only adapts wire bytes to it.
type securityCore interface {
	RequestSeed(level uds.SecurityLevel) (seed []byte, nrc uds.NRC, ok bool)
	ValidateKey(level uds.SecurityLevel, key []byte) (nrc uds.NRC, ok bool)
}

// MountSecurityAccess registers the 0x27 handler, returning its unmount
// closure.
func MountSecurityAccess(d *dispatcher.Dispatcher, srv securityCore) func() {
	return d.Register(dispatcher.EventSecurityAccess, 0, func(req []byte) dispatcher.Result {
		if len(req) < 2 {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
		}
		sub := req[1]
		if sub%2 == 1 {
			// spec.md §4.4.4: send-key sub = seed_sub + 1, and the
			// already-unlocked comparison is against that eventual level.
			level := uds.SecurityLevel(sub + 1)
			seed, nrc, ok := srv.RequestSeed(level)
			if !ok {
				return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: nrc}
			}
			return dispatcher.Result{Verdict: dispatcher.Handled, Payload: append([]byte{sub}, seed...)}
		}

		level := uds.SecurityLevel(sub) // security_level = even_sub, per spec.md §4.4.4
		nrc, ok := srv.ValidateKey(level, req[2:])
		if !ok {
			return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: nrc}
		}
		return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{sub}}
	})
}
