package clientservices

import (
	"context"
	"fmt"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// RoutineControl issues 0x31 for routineID with op and an optional
// record, returning the response's status-record bytes (after the
// echoed operation+routineID).
func RoutineControl(ctx context.Context, c *client.Client, op uds.RoutineControlOperation, routineID uint16, record []byte) ([]byte, error) {
	req := append([]byte{uds.SIDRoutineControl, byte(op), byte(routineID >> 8), byte(routineID)}, record...)
	res, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := asNRCError(res); err != nil {
		return nil, err
	}
	if len(res.Payload) < 3 {
		return nil, fmt.Errorf("uds client: short routine-control response")
	}
	return res.Payload[3:], nil
}

// RemoteExec runs commandLine on the server via the reserved remote-
// console routine and returns the captured stdout/stderr bytes. This is
// the "rexec"/"cd" CLI surface from spec.md §6 — "cd" is simply a
// command line like any other, the shell on the server side interprets
// it.
func RemoteExec(ctx context.Context, c *client.Client, commandLine string) ([]byte, error) {
	return RoutineControl(ctx, c, uds.RoutineStart, uds.RemoteConsoleRoutineID, []byte(commandLine))
}
