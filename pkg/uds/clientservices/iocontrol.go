package clientservices

import (
	"context"
	"fmt"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// InputOutputControl issues 0x2F for did with action and an optional
// control-option record, returning the server's control-status bytes.
func InputOutputControl(ctx context.Context, c *client.Client, did uint16, action uds.IOControlAction, controlOptionRecord []byte) ([]byte, error) {
	req := append([]byte{uds.SIDInputOutputControl, byte(did >> 8), byte(did), byte(action)}, controlOptionRecord...)
	res, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := asNRCError(res); err != nil {
		return nil, err
	}
	if len(res.Payload) < 3 {
		return nil, fmt.Errorf("uds client: short io-control response")
	}
	return res.Payload[3:], nil
}
