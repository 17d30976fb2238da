package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeKnownVector(t *testing.T) {
	// "123456789" is the standard CRC-32/ISO-HDLC check string.
	got := Compute([]byte("123456789"))
	assert.EqualValues(t, 0xCBF43926, got)
}

func TestContinueMatchesOneShot(t *testing.T) {
	data := []byte("123456789")
	oneShot := Compute(data)

	var chained uint32
	chained = Continue(chained, data[:4])
	chained = Continue(chained, data[4:])
	assert.EqualValues(t, oneShot, chained)
}

func TestUpdateChainingMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	oneShot := New().Update(data).Sum()

	acc := New()
	for _, b := range data {
		acc = acc.Single(b)
	}
	assert.EqualValues(t, oneShot, acc.Sum())
}

func TestSingleBitFlipChangesCRC(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	base := Compute(data)

	flipped := make([]byte, len(data))
	copy(flipped, data)
	flipped[2] ^= 0x01
	assert.NotEqual(t, base, Compute(flipped))
}

func TestLongTransferChunkedMatchesWholeFile(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	whole := Compute(data)

	var acc uint32
	const chunk = 32
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		acc = Continue(acc, data[off:end])
	}
	assert.Equal(t, whole, acc)
}
