package clientservices

import (
	"context"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// TesterPresent issues an explicit (non-suppressed) 0x3E request, useful
// for a CLI "tp" command distinct from the client core's own suppressed
// heartbeat (spec.md §4.6.4).
func TesterPresent(ctx context.Context, c *client.Client) error {
	res, err := c.Do(ctx, []byte{uds.SIDTesterPresent, 0x00})
	if err != nil {
		return err
	}
	return asNRCError(res)
}
