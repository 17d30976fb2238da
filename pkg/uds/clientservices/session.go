// Package clientservices holds the request builders and response
// decoders for every client-initiated UDS service: one file per service,
// each a thin wrapper around client.Client.Do. Grounded on uds_context.c's
// per-service helper functions (uds_set_session, uds_ecu_reset, ...) and
// pkg/network/network.go's convenience-wrapper facade style (Read/Write
// methods that hide the SDO request/response plumbing).
package clientservices

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// SessionResult is the decoded positive response to 0x10.
type SessionResult struct {
	Session  uds.Session
	P2Ms     uint16
	P2StarMs uint16 // already scaled from the wire's 10ms units
}

// SetSession issues DiagnosticSessionControl for session and decodes the
// P2/P2* timing the server echoes back.
func SetSession(ctx context.Context, c *client.Client, session uds.Session) (SessionResult, error) {
	sub := sessionSubfunction(session)
	res, err := c.Do(ctx, []byte{uds.SIDDiagnosticSessionControl, sub})
	if err != nil {
		return SessionResult{}, err
	}
	if err := asNRCError(res); err != nil {
		return SessionResult{}, err
	}
	if len(res.Payload) < 5 {
		return SessionResult{}, fmt.Errorf("uds client: short session-control response")
	}
	return SessionResult{
		Session:  session,
		P2Ms:     binary.BigEndian.Uint16(res.Payload[1:3]),
		P2StarMs: binary.BigEndian.Uint16(res.Payload[3:5]) * 10,
	}, nil
}

func sessionSubfunction(session uds.Session) byte {
	switch session {
	case uds.SessionProgramming:
		return 0x02
	case uds.SessionExtended:
		return 0x03
	default:
		return 0x01
	}
}

// asNRCError turns a non-positive Result into an error; OutcomePositive
// results return nil.
func asNRCError(res client.Result) error {
	switch res.Outcome {
	case client.OutcomePositive:
		return nil
	case client.OutcomeNRC:
		return NRCError{NRC: res.NRC}
	case client.OutcomeTimeout:
		return client.ErrTimeout
	default:
		return fmt.Errorf("uds client: unexpected outcome %v", res.Outcome)
	}
}

// NRCError wraps a negative response's NRC so callers can type-assert or
// errors.As it, per spec.md §7's "exposed as nrc(value) in last_error".
type NRCError struct{ NRC uds.NRC }

func (e NRCError) Error() string { return fmt.Sprintf("uds client: negative response, nrc=0x%02X", byte(e.NRC)) }
