package clientservices

import (
	"context"
	"fmt"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// ReadDataByIdentifier issues 0x22 for did and returns the value bytes
// (the response payload after the echoed DID).
func ReadDataByIdentifier(ctx context.Context, c *client.Client, did uint16) ([]byte, error) {
	req := []byte{uds.SIDReadDataByIdentifier, byte(did >> 8), byte(did)}
	res, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := asNRCError(res); err != nil {
		return nil, err
	}
	if len(res.Payload) < 2 {
		return nil, fmt.Errorf("uds client: short rdbi response")
	}
	return res.Payload[2:], nil
}

// WriteDataByIdentifier issues 0x2E for did with value.
func WriteDataByIdentifier(ctx context.Context, c *client.Client, did uint16, value []byte) error {
	req := append([]byte{uds.SIDWriteDataByIdentifier, byte(did >> 8), byte(did)}, value...)
	res, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return asNRCError(res)
}
