package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdfk-prog/iso14229/pkg/uds"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) NowMs() uint32    { return c.now }
func (c *fakeClock) SleepMs(uint32)   {}
func (c *fakeClock) advance(ms uint32) { c.now += ms }

func newTestClient(t *testing.T, sent *[][]byte) (*Client, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: 1000}
	send := func(pdu []byte) error {
		cp := append([]byte(nil), pdu...)
		*sent = append(*sent, cp)
		return nil
	}
	c := New(clk, send, Config{}, nil)
	return c, clk
}

func TestSubmitRejectsWhileAwaitingResponse(t *testing.T) {
	var sent [][]byte
	c, _ := newTestClient(t, &sent)

	_, err := c.Submit([]byte{uds.SIDDiagnosticSessionControl, 0x03})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingResponse, c.State())

	_, err = c.Submit([]byte{uds.SIDECUReset, 0x01})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, sent, 1)
}

func TestPositiveResponseCompletesTransactionAndDispatchesRegistry(t *testing.T) {
	var sent [][]byte
	c, _ := newTestClient(t, &sent)

	var observed []byte
	c.Registry().Register(uds.SIDDiagnosticSessionControl+uds.ResponseSIDOffset, func(payload []byte) {
		observed = payload
	})

	resultCh, err := c.Submit([]byte{uds.SIDDiagnosticSessionControl, 0x03})
	require.NoError(t, err)

	c.OnResponse([]byte{0x50, 0x03, 0x00, 0x32, 0x00, 0xC8})

	select {
	case res := <-resultCh:
		assert.Equal(t, OutcomePositive, res.Outcome)
		assert.Equal(t, []byte{0x03, 0x00, 0x32, 0x00, 0xC8}, res.Payload)
	default:
		t.Fatal("expected result")
	}
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []byte{0x03, 0x00, 0x32, 0x00, 0xC8}, observed)
}

func TestNegativeResponseCompletesWithNRC(t *testing.T) {
	var sent [][]byte
	c, _ := newTestClient(t, &sent)

	resultCh, _ := c.Submit([]byte{uds.SIDECUReset, 0x01})
	c.OnResponse([]byte{uds.SIDNegativeResponse, uds.SIDECUReset, byte(uds.NRCSubFunctionNotSupported)})

	res := <-resultCh
	assert.Equal(t, OutcomeNRC, res.Outcome)
	assert.Equal(t, uds.NRCSubFunctionNotSupported, res.NRC)
	assert.Equal(t, StateIdle, c.State())
}

func TestResponsePendingRestartsTimerWithP2Star(t *testing.T) {
	var sent [][]byte
	c, clk := newTestClient(t, &sent)
	c.cfg.P2Ms = 50
	c.cfg.P2StarMs = 2000

	resultCh, _ := c.Submit([]byte{uds.SIDRoutineControl, 0x01, 0xF0, 0x00})
	c.OnResponse([]byte{uds.SIDNegativeResponse, uds.SIDRoutineControl, byte(uds.NRCResponsePending)})
	assert.Equal(t, StateAwaitingResponse, c.State())

	clk.advance(60) // would have expired the original P2 budget
	c.Poll(clk.NowMs())
	assert.Equal(t, StateAwaitingResponse, c.State(), "p2* extension should keep the transaction alive")

	c.OnResponse([]byte{0x71, 0x01, 0xF0, 0x00, 'o', 'k'})
	res := <-resultCh
	assert.Equal(t, OutcomePositive, res.Outcome)
}

func TestP2TimeoutCompletesTransactionAndIncrementsHeartbeatFail(t *testing.T) {
	var sent [][]byte
	c, clk := newTestClient(t, &sent)
	c.cfg.P2Ms = 50

	resultCh, _ := c.Submit([]byte{uds.SIDTesterPresent, 0x00})
	clk.advance(60)
	c.Poll(clk.NowMs())

	res := <-resultCh
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, c.heartbeatFailCount)
}

func TestTesterPresentHeartbeatSentWhenIdle(t *testing.T) {
	var sent [][]byte
	c, clk := newTestClient(t, &sent)
	c.cfg.HeartbeatIntervalMs = 100
	c.heartbeatDue = clk.NowMs() + c.cfg.HeartbeatIntervalMs

	clk.advance(150)
	c.Poll(clk.NowMs())

	require.Len(t, sent, 1)
	assert.Equal(t, []byte{uds.SIDTesterPresent, uds.SuppressPositiveResponseBit}, sent[0])
}

func TestTesterPresentSkippedWhenBusy(t *testing.T) {
	var sent [][]byte
	c, clk := newTestClient(t, &sent)
	c.cfg.HeartbeatIntervalMs = 100
	c.cfg.P2Ms = 1000 // keep the request in flight past the heartbeat due time
	c.heartbeatDue = clk.NowMs() + c.cfg.HeartbeatIntervalMs

	_, _ = c.Submit([]byte{uds.SIDECUReset, 0x01})
	clk.advance(150)
	c.Poll(clk.NowMs())

	// only the original ECUReset submit, no heartbeat
	require.Len(t, sent, 1)
	assert.Equal(t, byte(uds.SIDECUReset), sent[0][0])
}

func TestHeartbeatFailureThresholdFiresDisconnect(t *testing.T) {
	var sent [][]byte
	clk := &fakeClock{now: 1000}
	failNext := true
	send := func(pdu []byte) error {
		if failNext && pdu[0] == uds.SIDTesterPresent {
			return errors.New("bus down")
		}
		sent = append(sent, pdu)
		return nil
	}
	var disconnected bool
	c := New(clk, send, Config{HeartbeatIntervalMs: 10, HeartbeatFailThreshold: 2}, func() { disconnected = true })

	clk.advance(20)
	c.Poll(clk.NowMs())
	assert.False(t, disconnected)

	clk.advance(20)
	c.Poll(clk.NowMs())
	assert.True(t, disconnected)
}

func TestDoReturnsPositiveResultConcurrently(t *testing.T) {
	var sent [][]byte
	c, _ := newTestClient(t, &sent)

	done := make(chan Result, 1)
	go func() {
		res, err := c.Do(context.Background(), []byte{uds.SIDDiagnosticSessionControl, 0x01})
		require.NoError(t, err)
		done <- res
	}()

	// give the goroutine a chance to submit
	time.Sleep(10 * time.Millisecond)
	c.OnResponse([]byte{0x50, 0x01, 0x00, 0x32, 0x00, 0xC8})

	res := <-done
	assert.Equal(t, OutcomePositive, res.Outcome)
}

func TestDoReturnsBusyImmediately(t *testing.T) {
	var sent [][]byte
	c, _ := newTestClient(t, &sent)

	_, _ = c.Submit([]byte{uds.SIDECUReset, 0x01})
	_, err := c.Do(context.Background(), []byte{uds.SIDDiagnosticSessionControl, 0x01})
	assert.ErrorIs(t, err, ErrBusy)
}
