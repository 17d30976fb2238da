package clientservices

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/wdfk-prog/iso14229/internal/crc"
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
)

// UploadFile implements spec.md §4.6.5's upload flow: request-file-
// transfer(add), then a loop of TransferData chunks of size
// maxNumberOfBlockLength-2 with a monotonically wrapping
// blockSequenceCounter and a running CRC-32, then transfer-exit carrying
// the CRC-32 big-endian. localPath is read from the host filesystem;
// remotePath is the path argument sent to the server.
func UploadFile(ctx context.Context, c *client.Client, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	fileSize := uint32(info.Size())

	blockLen, err := requestFileTransfer(ctx, c, uds.FileAdd, remotePath, fileSize)
	if err != nil {
		return err
	}
	chunkSize := int(blockLen) - 2
	if chunkSize <= 0 {
		return fmt.Errorf("uds client: server negotiated non-positive chunk size")
	}

	buf := make([]byte, chunkSize)
	var seq byte = 1
	var acc uint32
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			acc = crc.Continue(acc, chunk)
			if err := transferDataChunk(ctx, c, seq, chunk); err != nil {
				return err
			}
			seq = nextBlockSequenceCounter(seq)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	return transferExitUpload(ctx, c, acc)
}

// DownloadFile implements spec.md §4.6.5's download flow: request-file-
// transfer(read), then a loop of zero-data TransferData requests until
// either a zero-length chunk or the advertised file size is reached.
func DownloadFile(ctx context.Context, c *client.Client, remotePath, localPath string) error {
	_, fileSize, err := requestFileTransferRead(ctx, c, remotePath)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	var seq byte = 1
	var received uint32
	var acc uint32
	for received < fileSize {
		chunk, err := transferDataRead(ctx, c, seq)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := out.Write(chunk); err != nil {
			return err
		}
		acc = crc.Continue(acc, chunk)
		received += uint32(len(chunk))
		seq = nextBlockSequenceCounter(seq)
	}

	serverCRC, err := transferExitDownload(ctx, c)
	if err != nil {
		return err
	}
	if serverCRC != acc {
		return fmt.Errorf("uds client: download CRC mismatch, got 0x%08X want 0x%08X", acc, serverCRC)
	}
	return nil
}

// nextBlockSequenceCounter advances seq per spec.md §8's boundary rule:
// wraps from 255 to 0, not to 1.
func nextBlockSequenceCounter(seq byte) byte {
	if seq == 255 {
		return 0
	}
	return seq + 1
}

func requestFileTransfer(ctx context.Context, c *client.Client, op uds.FileTransferOperation, path string, fileSize uint32) (uint16, error) {
	req := buildRequestFileTransferPDU(op, path, fileSize)
	res, err := c.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	if err := asNRCError(res); err != nil {
		return 0, err
	}
	if len(res.Payload) < 2 {
		return 0, fmt.Errorf("uds client: short request-file-transfer response")
	}
	return binary.BigEndian.Uint16(res.Payload[:2]), nil
}

func requestFileTransferRead(ctx context.Context, c *client.Client, path string) (blockLen uint16, fileSize uint32, err error) {
	req := buildRequestFileTransferPDU(uds.FileRead, path, 0)
	res, err := c.Do(ctx, req)
	if err != nil {
		return 0, 0, err
	}
	if err := asNRCError(res); err != nil {
		return 0, 0, err
	}
	if len(res.Payload) < 6 {
		return 0, 0, fmt.Errorf("uds client: short request-file-transfer(read) response")
	}
	return binary.BigEndian.Uint16(res.Payload[:2]), binary.BigEndian.Uint32(res.Payload[2:6]), nil
}

func buildRequestFileTransferPDU(op uds.FileTransferOperation, path string, fileSize uint32) []byte {
	req := []byte{uds.SIDRequestFileTransfer, byte(op)}
	pathLen := make([]byte, 2)
	binary.BigEndian.PutUint16(pathLen, uint16(len(path)))
	req = append(req, pathLen...)
	req = append(req, []byte(path)...)
	if op == uds.FileAdd || op == uds.FileReplace {
		sizeBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(sizeBytes, fileSize)
		req = append(req, sizeBytes...)
	}
	return req
}

func transferDataChunk(ctx context.Context, c *client.Client, seq byte, chunk []byte) error {
	req := append([]byte{uds.SIDTransferData, seq}, chunk...)
	res, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return asNRCError(res)
}

func transferDataRead(ctx context.Context, c *client.Client, seq byte) ([]byte, error) {
	res, err := c.Do(ctx, []byte{uds.SIDTransferData, seq})
	if err != nil {
		return nil, err
	}
	if err := asNRCError(res); err != nil {
		return nil, err
	}
	return res.Payload, nil
}

func transferExitUpload(ctx context.Context, c *client.Client, runningCRC uint32) error {
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, runningCRC)
	res, err := c.Do(ctx, append([]byte{uds.SIDRequestTransferExit}, crcBytes...))
	if err != nil {
		return err
	}
	return asNRCError(res)
}

func transferExitDownload(ctx context.Context, c *client.Client) (uint32, error) {
	res, err := c.Do(ctx, []byte{uds.SIDRequestTransferExit})
	if err != nil {
		return 0, err
	}
	if err := asNRCError(res); err != nil {
		return 0, err
	}
	if len(res.Payload) < 4 {
		return 0, fmt.Errorf("uds client: short transfer-exit response")
	}
	return binary.BigEndian.Uint32(res.Payload[:4]), nil
}
