package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

type fakeClock struct{ now uint32 }

func (f *fakeClock) NowMs() uint32  { return f.now }
func (f *fakeClock) SleepMs(uint32) {}

func newTestServer(t *testing.T) (*Server, *dispatcher.Dispatcher, *fakeClock, *[][]byte) {
	t.Helper()
	clk := &fakeClock{}
	disp := dispatcher.New()
	var sent [][]byte
	cfg := Config{
		GenerateSeed: func(uds.SecurityLevel) []byte { return []byte{0x11, 0x22, 0x33, 0x44} },
		ValidateKey: func(level uds.SecurityLevel, seed, key []byte) bool {
			return len(key) > 0 && len(seed) > 0 && key[0] == seed[0]^0xFF
		},
		SecurityDelayMs: 1000,
	}
	s := New(disp, clk, func(pdu []byte) error { sent = append(sent, pdu); return nil }, cfg)
	return s, disp, clk, &sent
}

func TestUnknownServiceYieldsServiceNotSupported(t *testing.T) {
	s, _, _, sent := newTestServer(t)
	s.HandleRequest(dispatcher.EventReadDataByIdentifier, []byte{0x22, 0xF1, 0x90}, false)
	require.Len(t, *sent, 1)
	assert.Equal(t, []byte{0x7F, 0x22, 0x11}, (*sent)[0])
}

func TestHandledResponseEncodesPositive(t *testing.T) {
	s, disp, _, sent := newTestServer(t)
	disp.Register(dispatcher.EventReadDataByIdentifier, 0, func([]byte) dispatcher.Result {
		return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{0xF1, 0x90, 0x01}}
	})
	s.HandleRequest(dispatcher.EventReadDataByIdentifier, []byte{0x22, 0xF1, 0x90}, false)
	require.Len(t, *sent, 1)
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0x01}, (*sent)[0])
}

func TestSuppressPositiveMutesPositiveResponse(t *testing.T) {
	s, disp, _, sent := newTestServer(t)
	disp.Register(dispatcher.EventTesterPresent, 0, func([]byte) dispatcher.Result {
		return dispatcher.Result{Verdict: dispatcher.Handled}
	})
	s.HandleRequest(dispatcher.EventTesterPresent, []byte{0x3E, 0x80}, true)
	assert.Empty(t, *sent)
}

func TestSuppressPositiveStillSendsNegative(t *testing.T) {
	s, _, _, sent := newTestServer(t)
	s.HandleRequest(dispatcher.EventTesterPresent, []byte{0x3E, 0x80}, true)
	require.Len(t, *sent, 1)
	assert.Equal(t, byte(0x7F), (*sent)[0][0])
}

func TestSecurityAccessRequestingCurrentLevelReturnsZeroSeed(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	seed, nrc, ok := s.RequestSeed(0)
	require.True(t, ok)
	assert.EqualValues(t, 0, nrc)
	assert.Equal(t, []byte{0, 0, 0, 0}, seed)
}

func TestSecurityAccessSeedThenKeyUnlocks(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	seed, _, ok := s.RequestSeed(1)
	require.True(t, ok)
	key := []byte{seed[0] ^ 0xFF}
	nrc, ok := s.ValidateKey(1, key)
	assert.True(t, ok)
	assert.EqualValues(t, 0, nrc)
	assert.EqualValues(t, 1, s.SecurityLevel())
}

func TestSecurityAccessWrongKeyStartsDelay(t *testing.T) {
	s, _, clk, _ := newTestServer(t)
	_, _, ok := s.RequestSeed(1)
	require.True(t, ok)
	nrc, ok := s.ValidateKey(1, []byte{0x00})
	assert.False(t, ok)
	assert.Equal(t, uds.NRCInvalidKey, nrc)

	_, nrc, ok = s.RequestSeed(1)
	assert.False(t, ok)
	assert.Equal(t, uds.NRCRequiredTimeDelayNotExpired, nrc)

	clk.now += 1000
	_, _, ok = s.RequestSeed(1)
	assert.True(t, ok)
}

func TestValidateKeyWithNoPendingSeedIsSequenceError(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	nrc, ok := s.ValidateKey(1, []byte{0x01})
	assert.False(t, ok)
	assert.Equal(t, uds.NRCRequestSequenceError, nrc)
}

func TestSessionTransitionResetsSecurityAndActivity(t *testing.T) {
	s, _, clk, _ := newTestServer(t)
	s.securityLevel = 3
	clk.now = 100
	s.SetSession(uds.SessionExtended)
	assert.EqualValues(t, 0, s.SecurityLevel())
	assert.Equal(t, uds.SessionExtended, s.Session())
	assert.EqualValues(t, 100, s.lastActivityMs)
}

func TestS3TimeoutRevertsToDefaultSession(t *testing.T) {
	s, disp, clk, _ := newTestServer(t)
	fired := false
	disp.Register(dispatcher.EventSessionTimeout, 0, func([]byte) dispatcher.Result {
		fired = true
		return dispatcher.Result{Verdict: dispatcher.HandledContinue}
	})
	s.SetSession(uds.SessionExtended)
	clk.now += 5001
	s.Poll(clk.now)
	assert.True(t, fired)
	assert.Equal(t, uds.SessionDefault, s.Session())
}

func TestResponsePendingPacesUntilHandlerCompletes(t *testing.T) {
	s, disp, clk, sent := newTestServer(t)
	calls := 0
	disp.Register(dispatcher.EventRoutineControl, 0, func([]byte) dispatcher.Result {
		calls++
		if calls < 2 {
			return dispatcher.Result{Verdict: dispatcher.ResponsePending}
		}
		return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{0x01}}
	})
	s.HandleRequest(dispatcher.EventRoutineControl, []byte{0x31, 0x01, 0xF0, 0x00}, false)
	require.Len(t, *sent, 1)
	assert.Equal(t, byte(0x78), (*sent)[0][2])

	clk.now += s.Timing().P2StarMs
	s.Poll(clk.now)
	require.Len(t, *sent, 2)
	assert.Equal(t, []byte{0x71, 0x01}, (*sent)[1])
}

func TestResponsePendingAbortsAfterMaxRepeats(t *testing.T) {
	s, disp, clk, sent := newTestServer(t)
	disp.Register(dispatcher.EventRoutineControl, 0, func([]byte) dispatcher.Result {
		return dispatcher.Result{Verdict: dispatcher.ResponsePending}
	})
	s.HandleRequest(dispatcher.EventRoutineControl, []byte{0x31, 0x01, 0xF0, 0x00}, false)
	for i := 0; i < s.cfg.MaxResponsePendingRepeats; i++ {
		clk.now += s.Timing().P2StarMs
		s.Poll(clk.now)
	}
	last := (*sent)[len(*sent)-1]
	assert.Equal(t, []byte{0x7F, 0x31, byte(uds.NRCGeneralReject)}, last)
}

func TestScheduledResetFiresAfterDelay(t *testing.T) {
	s, disp, clk, _ := newTestServer(t)
	fired := false
	disp.Register(dispatcher.EventDoScheduledReset, 0, func([]byte) dispatcher.Result {
		fired = true
		return dispatcher.Result{Verdict: dispatcher.HandledContinue}
	})
	s.ScheduleReset(50)
	clk.now += 49
	s.Poll(clk.now)
	assert.False(t, fired)
	clk.now += 2
	s.Poll(clk.now)
	assert.True(t, fired)
}

func TestCommControlFilterDropsSilently(t *testing.T) {
	s, disp, _, sent := newTestServer(t)
	disp.Register(dispatcher.EventTesterPresent, 0, func([]byte) dispatcher.Result {
		return dispatcher.Result{Verdict: dispatcher.Handled}
	})
	s.SetCommState(false, true)
	s.HandleRequest(dispatcher.EventTesterPresent, []byte{0x3E, 0x00}, false)
	assert.Empty(t, *sent)
}
