package isotp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdfk-prog/iso14229/pkg/can"
	"github.com/wdfk-prog/iso14229/pkg/clock"
)

type fakeClock struct{ now uint32 }

func (f *fakeClock) NowMs() uint32     { return f.now }
func (f *fakeClock) SleepMs(uint32)    {}
func (f *fakeClock) advance(ms uint32) { f.now += ms }

func newTestLinks(t *testing.T) (a, b *Link, clk *fakeClock, aOut, bOut *[][]byte) {
	t.Helper()
	clk = &fakeClock{}
	aOut = &[][]byte{}
	bOut = &[][]byte{}

	var linkB *Link
	linkA := NewLink("a", Config{RxID: 0x7E8, TxID: 0x7E0}, clk,
		func(f can.Frame) error { linkB.FeedFrame(f); return nil },
		func(pdu []byte) { *aOut = append(*aOut, pdu) },
	)
	linkB = NewLink("b", Config{RxID: 0x7E0, TxID: 0x7E8}, clk,
		func(f can.Frame) error { linkA.FeedFrame(f); return nil },
		func(pdu []byte) { *bOut = append(*bOut, pdu) },
	)
	return linkA, linkB, clk, aOut, bOut
}

func TestSingleFrameRoundTrip(t *testing.T) {
	a, _, _, _, bOut := newTestLinks(t)
	require.NoError(t, a.Send([]byte{0x01, 0x02, 0x03}))
	require.Len(t, *bOut, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, (*bOut)[0])
}

func TestSendBusyWhileInProgress(t *testing.T) {
	a, _, _, _, _ := newTestLinks(t)
	pdu := make([]byte, 20)
	require.NoError(t, a.Send(pdu))
	err := a.Send([]byte{0x01})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestMultiFrameRoundTripDrivesPollForCFs(t *testing.T) {
	a, _, clk, _, bOut := newTestLinks(t)
	pdu := make([]byte, 20)
	for i := range pdu {
		pdu[i] = byte(i)
	}
	require.NoError(t, a.Send(pdu))
	assert.EqualValues(t, StatusSending, a.Status())

	for i := 0; i < 10; i++ {
		clk.advance(1)
		a.Poll(clk.now)
		if a.Status() == StatusIdle {
			break
		}
	}
	require.Len(t, *bOut, 1)
	assert.Equal(t, pdu, (*bOut)[0])
	assert.Equal(t, StatusIdle, a.Status())
}

func TestPDUExceedingMTURejected(t *testing.T) {
	a, _, _, _, _ := newTestLinks(t)
	err := a.Send(make([]byte, DefaultMTU+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSingleFrameBoundaryAtSevenBytes(t *testing.T) {
	frame := buildSingleFrame(make([]byte, 7), DefaultPadByte)
	assert.EqualValues(t, pciSingleFrame<<4|7, frame[0])
}

func TestFirstFrameEncodesTwelveBitLength(t *testing.T) {
	frame := buildFirstFrame(make([]byte, 6), 4095, DefaultPadByte)
	assert.EqualValues(t, pciFirstFrame<<4|0x0F, frame[0])
	assert.EqualValues(t, 0xFF, frame[1])
}

func TestFlowControlPadsUnusedBytes(t *testing.T) {
	frame := buildFlowControl(flowStatusCTS, 8, 0, DefaultPadByte)
	assert.EqualValues(t, pciFlowControl<<4|flowStatusCTS, frame[0])
	assert.EqualValues(t, 8, frame[1])
	assert.EqualValues(t, 0, frame[2])
	for _, b := range frame[3:] {
		assert.EqualValues(t, DefaultPadByte, b)
	}
}

func TestConsecutiveFrameSequenceMismatchAbortsReceive(t *testing.T) {
	_, b, clk, _, _ := newTestLinks(t)
	ff := can.Frame{ID: 0x7E0, DLC: 8, Data: [8]byte{0x10, 0x0A, 1, 2, 3, 4, 5, 6}}
	b.FeedFrame(ff)
	assert.Equal(t, StatusReceiving, b.Status())

	badCF := can.Frame{ID: 0x7E0, DLC: 8, Data: [8]byte{0x22, 7, 8, 9, 10, 0, 0, 0}}
	b.FeedFrame(badCF)
	assert.Equal(t, StatusIdle, b.Status())
	clk.advance(1)
	b.Poll(clk.now)
}

func TestReceiveTimesOutOnMissingConsecutiveFrame(t *testing.T) {
	_, b, clk, _, _ := newTestLinks(t)
	ff := can.Frame{ID: 0x7E0, DLC: 8, Data: [8]byte{0x10, 0x0A, 1, 2, 3, 4, 5, 6}}
	b.FeedFrame(ff)
	require.Equal(t, StatusReceiving, b.Status())

	clk.advance(DefaultNCrMs + 1)
	b.Poll(clk.now)
	assert.Equal(t, StatusIdle, b.Status())
}

func TestFlowControlOverflowAbortsSend(t *testing.T) {
	clk := &fakeClock{}
	var sent []can.Frame
	a := NewLink("a", Config{RxID: 0x7E8, TxID: 0x7E0}, clk,
		func(f can.Frame) error { sent = append(sent, f); return nil },
		func([]byte) {},
	)
	pdu := make([]byte, 20)
	require.NoError(t, a.Send(pdu))
	assert.Equal(t, StatusSending, a.Status())

	ovflw := can.Frame{ID: 0x7E8, DLC: 8, Data: [8]byte{pciFlowControl<<4 | flowStatusOvflw, 0, 0, 0, 0, 0, 0, 0}}
	a.FeedFrame(ovflw)
	clk.advance(1)
	a.Poll(clk.now)
	assert.EqualValues(t, StatusError, a.Status())

	require.NoError(t, a.Send([]byte{0x01}))
	assert.Len(t, sent, 2)
}

func TestRxIDReportsConfiguredAddress(t *testing.T) {
	a, b, _, _, _ := newTestLinks(t)
	assert.EqualValues(t, 0x7E8, a.RxID())
	assert.EqualValues(t, 0x7E0, b.RxID())
}
