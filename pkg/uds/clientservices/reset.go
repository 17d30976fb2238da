package clientservices

import (
	"context"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// ECUReset sub-function values (ISO 14229-1, mirrored from
// pkg/uds/services.ResetSubfunction so the client doesn't need to
// import the server-side services package for a shared vocabulary type).
const (
	ResetHard     byte = 0x01
	ResetKeyOffOn byte = 0x02
	ResetSoft     byte = 0x03
)

// ECUReset issues ECUReset(kind) and returns once the server has
// acknowledged (the reset itself happens asynchronously after the
// server's flush delay, per spec.md §4.4.5).
func ECUReset(ctx context.Context, c *client.Client, kind byte) error {
	res, err := c.Do(ctx, []byte{uds.SIDECUReset, kind})
	if err != nil {
		return err
	}
	return asNRCError(res)
}
