package clientservices

import (
	"context"
	"fmt"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// KeyTransform computes a key from a seed for the security-access
// challenge/response exchange. Caller-supplied: the algorithm is
// application-specific and out of this stack's scope.
type KeyTransform func(seed []byte) []byte

// SecurityAccess runs the full seed/key exchange for requestSeedSub
// (spec.md §4.6.5: an odd sub-function; the matching send-key
// sub-function is requestSeedSub+1). A returned all-zero seed
// short-circuits to success without calling transform, mirroring the
// server's already-unlocked convention.
func SecurityAccess(ctx context.Context, c *client.Client, requestSeedSub byte, transform KeyTransform) error {
	seedRes, err := c.Do(ctx, []byte{uds.SIDSecurityAccess, requestSeedSub})
	if err != nil {
		return err
	}
	if err := asNRCError(seedRes); err != nil {
		return err
	}
	if len(seedRes.Payload) < 1 {
		return fmt.Errorf("uds client: short security-access seed response")
	}
	seed := seedRes.Payload[1:]
	if allZero(seed) {
		return nil
	}

	key := transform(seed)
	sendKeySub := requestSeedSub + 1
	keyRes, err := c.Do(ctx, append([]byte{uds.SIDSecurityAccess, sendKeySub}, key...))
	if err != nil {
		return err
	}
	return asNRCError(keyRes)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
