package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPositiveResponsePrependsOffsetSID(t *testing.T) {
	got := BuildPositiveResponse(SIDDiagnosticSessionControl, []byte{0x03})
	assert.Equal(t, []byte{0x50, 0x03}, got)
}

func TestBuildNegativeResponseTriplet(t *testing.T) {
	got := BuildNegativeResponse(SIDRoutineControl, NRCRequestOutOfRange)
	assert.Equal(t, []byte{SIDNegativeResponse, SIDRoutineControl, 0x31}, got)
}

func TestSuppressPositiveResponseRequested(t *testing.T) {
	assert.True(t, SuppressPositiveResponseRequested([]byte{SIDTesterPresent, SuppressPositiveResponseBit}))
	assert.False(t, SuppressPositiveResponseRequested([]byte{SIDTesterPresent, 0x00}))
	assert.False(t, SuppressPositiveResponseRequested([]byte{SIDTesterPresent}))
	// RoutineControl's second byte is a routine-control-type enum, not a
	// suppress-capable sub-function, even with the high bit set.
	assert.False(t, SuppressPositiveResponseRequested([]byte{SIDRoutineControl, 0x80}))
}
