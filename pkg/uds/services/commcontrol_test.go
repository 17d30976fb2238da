package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

type fakeCommCore struct{ normal, nm bool }

func (f *fakeCommCore) SetCommState(normal, nm bool) { f.normal, f.nm = normal, nm }
func (f *fakeCommCore) CommStateNormal() bool        { return f.normal }
func (f *fakeCommCore) CommStateNM() bool            { return f.nm }

func TestCommControlDisablesBothOnSub03(t *testing.T) {
	d := dispatcher.New()
	core := &fakeCommCore{normal: true, nm: true}
	unmount := MountCommunicationControl(d, core, 0x1234)
	defer unmount()

	res := d.Dispatch(dispatcher.EventCommunicationControl, []byte{uds.SIDCommunicationControl, 0x03, 0x00})
	require.Equal(t, dispatcher.Handled, res.Verdict)
	assert.False(t, core.normal)
	assert.False(t, core.nm)
}

func TestCommControlEnableRxDisableTxOnSub01(t *testing.T) {
	d := dispatcher.New()
	core := &fakeCommCore{normal: false, nm: false}
	unmount := MountCommunicationControl(d, core, 0x1234)
	defer unmount()

	res := d.Dispatch(dispatcher.EventCommunicationControl, []byte{uds.SIDCommunicationControl, 0x01, 0x00})
	require.Equal(t, dispatcher.Handled, res.Verdict)
	assert.True(t, core.normal) // Rx enabled
	assert.True(t, core.nm)
}

func TestCommControlDisableRxEnableTxOnSub02(t *testing.T) {
	d := dispatcher.New()
	core := &fakeCommCore{normal: true, nm: true}
	unmount := MountCommunicationControl(d, core, 0x1234)
	defer unmount()

	res := d.Dispatch(dispatcher.EventCommunicationControl, []byte{uds.SIDCommunicationControl, 0x02, 0x00})
	require.Equal(t, dispatcher.Handled, res.Verdict)
	assert.False(t, core.normal) // Rx disabled
	assert.False(t, core.nm)
}

func TestCommControlEnhancedAddressingIgnoredWhenNodeMismatch(t *testing.T) {
	d := dispatcher.New()
	core := &fakeCommCore{normal: true, nm: true}
	unmount := MountCommunicationControl(d, core, 0x1234)
	defer unmount()

	req := []byte{uds.SIDCommunicationControl, 0x05, 0x00, 0x56, 0x78}
	res := d.Dispatch(dispatcher.EventCommunicationControl, req)
	require.Equal(t, dispatcher.Handled, res.Verdict)
	assert.True(t, core.normal) // untouched: node id didn't match
}

func TestCommControlEnhancedAddressingAppliesOnNodeMatch(t *testing.T) {
	d := dispatcher.New()
	core := &fakeCommCore{normal: false, nm: false}
	unmount := MountCommunicationControl(d, core, 0x1234)
	defer unmount()

	req := []byte{uds.SIDCommunicationControl, 0x04, 0x00, 0x12, 0x34}
	res := d.Dispatch(dispatcher.EventCommunicationControl, req)
	require.Equal(t, dispatcher.Handled, res.Verdict)
	assert.True(t, core.normal) // sub 0x04 (enhanced enable), node id matched
}
