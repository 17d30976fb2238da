package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

func TestIOControlShortTermAdjustSetsOverride(t *testing.T) {
	d := dispatcher.New()
	svc := NewIOControlService()
	var lastAction uds.IOControlAction
	svc.Register(0xABCD, func(action uds.IOControlAction, data []byte) ([]byte, bool) {
		lastAction = action
		return []byte{0x01}, true
	})
	unmount := MountIOControl(d, svc)
	defer unmount()

	req := []byte{uds.SIDInputOutputControl, 0xAB, 0xCD, byte(uds.IOShortTermAdjust), 0x7F}
	res := d.Dispatch(dispatcher.EventInputOutputControl, req)
	require.Equal(t, dispatcher.Handled, res.Verdict)
	assert.Equal(t, uds.IOShortTermAdjust, lastAction)
	assert.True(t, svc.overridden[0xABCD])
}

func TestIOControlSessionTimeoutForceReleasesOverrides(t *testing.T) {
	d := dispatcher.New()
	svc := NewIOControlService()
	released := false
	svc.Register(0xABCD, func(action uds.IOControlAction, data []byte) ([]byte, bool) {
		if action == uds.IOReturnControl {
			released = true
		}
		return nil, true
	})
	unmount := MountIOControl(d, svc)
	defer unmount()

	d.Dispatch(dispatcher.EventInputOutputControl, []byte{uds.SIDInputOutputControl, 0xAB, 0xCD, byte(uds.IOFreezeState)})
	require.True(t, svc.overridden[0xABCD])

	d.Dispatch(dispatcher.EventSessionTimeout, nil)
	assert.True(t, released)
	assert.False(t, svc.overridden[0xABCD])
}

func TestIOControlUnknownDIDIsNotMine(t *testing.T) {
	d := dispatcher.New()
	svc := NewIOControlService()
	unmount := MountIOControl(d, svc)
	defer unmount()

	res := d.Dispatch(dispatcher.EventInputOutputControl, []byte{uds.SIDInputOutputControl, 0x00, 0x01, 0x00})
	assert.Equal(t, dispatcher.NotMine, res.Verdict)
	assert.Equal(t, uds.NRCRequestOutOfRange, res.NRC)
}
