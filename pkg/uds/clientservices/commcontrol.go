package clientservices

import (
	"context"
	"encoding/binary"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// CommunicationControl issues 0x28 with the given sub-function and
// comm-type byte. When sub is the enhanced-addressing form (0x04/0x05),
// nodeID selects the target; pass 0 for the plain forms.
func CommunicationControl(ctx context.Context, c *client.Client, sub byte, commType byte, nodeID uint16) error {
	req := []byte{uds.SIDCommunicationControl, sub, commType}
	if sub == 0x04 || sub == 0x05 {
		nodeBytes := make([]byte, 2)
		binary.BigEndian.PutUint16(nodeBytes, nodeID)
		req = append(req, nodeBytes...)
	}
	res, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return asNRCError(res)
}
