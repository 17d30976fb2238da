// Package crc implements the reflected CRC-32 used by the file-transfer
// service: polynomial 0xEDB88320, initial value 0xFFFFFFFF, final XOR
// 0xFFFFFFFF (ISO 3309 / the classic "CRC-32" used by zip/ethernet).
package crc

// CRC32 is a running CRC-32 accumulator. The zero value is not a valid
// starting point; use New() to get one seeded at the algorithm's initial
// value.
type CRC32 uint32

// New returns an accumulator ready for the first Update call.
func New() CRC32 {
	return CRC32(0xFFFFFFFF)
}

// Update folds data into the accumulator bit by bit, no lookup table,
// matching the bitwise reference algorithm byte for byte.
func (c CRC32) Update(data []byte) CRC32 {
	crc := uint32(c)
	for _, b := range data {
		crc ^= uint32(b)
		for k := 0; k < 8; k++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xEDB88320
			} else {
				crc = crc >> 1
			}
		}
	}
	return CRC32(crc)
}

// Single folds one byte into the accumulator. Kept alongside Update for
// callers that stream bytes one at a time (e.g. a fifo writer).
func (c CRC32) Single(b byte) CRC32 {
	return c.Update([]byte{b})
}

// Sum returns the finished CRC-32 value (the accumulator with the final
// XOR applied). Only call this once the whole message has been folded in.
func (c CRC32) Sum() uint32 {
	return uint32(c) ^ 0xFFFFFFFF
}

// Compute is a convenience one-shot helper: Compute(b) == New().Update(b).Sum().
func Compute(data []byte) uint32 {
	return New().Update(data).Sum()
}

// Continue folds data into a previously finalized CRC-32 value and
// returns the new finalized value, matching the server file-transfer
// reference's crc32_calc(acc, data, len) contract directly: callers pass
// 0 for the first chunk and the prior return value for every subsequent
// chunk of the same transfer.
func Continue(acc uint32, data []byte) uint32 {
	crc := ^acc
	for _, b := range data {
		crc ^= uint32(b)
		for k := 0; k < 8; k++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xEDB88320
			} else {
				crc = crc >> 1
			}
		}
	}
	return ^crc
}
