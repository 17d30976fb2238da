package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdfk-prog/iso14229/pkg/uds"
)

const sampleConfig = `
[can]
can_interface_name = socketcan
channel = can0
phys_source_addr = 0x7E0
phys_target_addr = 0x7E8
func_source_addr = 0x7DF
func_target_addr = none

[isotp]
isotp_mtu = 4095
block_size = 8
stmin_ms = 10
pad_byte = 0xAA

[server]
p2_ms_std = 50
p2_star_ms_std = 2000
p2_ms_ext = 5000
p2_star_ms_ext = 5000
s3_ms = 5000
file_chunk_size = 1024

[client]
heartbeat_interval_ms = 1500
heartbeat_fail_threshold = 5

[log]
level = debug
`

func writeSample(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "uds.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeSample(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "socketcan", cfg.CAN.InterfaceName)
	assert.Equal(t, "can0", cfg.CAN.Channel)
	assert.EqualValues(t, 0x7E0, cfg.CAN.PhysSourceAddr)
	assert.EqualValues(t, 0x7E8, cfg.CAN.PhysTargetAddr)
	assert.EqualValues(t, 0x7DF, cfg.CAN.FuncSourceAddr)
	assert.False(t, cfg.CAN.HasFuncTarget)

	assert.Equal(t, 4095, cfg.ISOTP.MTU)
	assert.EqualValues(t, 8, cfg.ISOTP.BlockSize)
	assert.EqualValues(t, 10, cfg.ISOTP.STminMs)
	assert.EqualValues(t, 0xAA, cfg.ISOTP.PadByte)

	assert.EqualValues(t, 5000, cfg.Server.S3Ms)
	assert.Equal(t, 1024, cfg.Server.FileChunkSize)

	assert.EqualValues(t, 1500, cfg.Client.HeartbeatIntervalMs)
	assert.Equal(t, 5, cfg.Client.HeartbeatFailThreshold)

	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	path := writeSample(t, "[can]\ncan_interface_name = virtual\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "virtual", cfg.CAN.InterfaceName)
	assert.EqualValues(t, 50, cfg.Server.P2MsStd)
	assert.EqualValues(t, 5000, cfg.Server.S3Ms)
	assert.EqualValues(t, 2000, cfg.Client.HeartbeatIntervalMs)
	assert.Equal(t, 3, cfg.Client.HeartbeatFailThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFuncTargetAddrNoneSentinel(t *testing.T) {
	path := writeSample(t, "[can]\nfunc_target_addr = none\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.CAN.HasFuncTarget)
	assert.Zero(t, cfg.CAN.FuncTargetAddr)
}

func TestFuncTargetAddrExplicitID(t *testing.T) {
	path := writeSample(t, "[can]\nfunc_target_addr = 0x123\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.CAN.HasFuncTarget)
	assert.EqualValues(t, 0x123, cfg.CAN.FuncTargetAddr)
}

func TestToServerConfigMapsSessionTimings(t *testing.T) {
	path := writeSample(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	sc := cfg.Server.ToServerConfig()
	require.Contains(t, sc.SessionTimings, uds.SessionDefault)
	assert.EqualValues(t, 50, sc.SessionTimings[uds.SessionDefault].P2Ms)
	assert.EqualValues(t, 5000, sc.SessionTimings[uds.SessionExtended].P2Ms)
}

func TestApplyLogLevelRejectsInvalidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "not-a-level"}}
	err := cfg.ApplyLogLevel()
	assert.Error(t, err)
}

func TestApplyLogLevelAcceptsValidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn"}}
	assert.NoError(t, cfg.ApplyLogLevel())
}
