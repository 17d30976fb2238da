// Package config loads the INI-format configuration surface from spec.md
// §6 into typed values the rest of the module consumes directly, the same
// section/key-reading idiom pkg/od/parser.go uses for EDS files.
package config

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/wdfk-prog/iso14229/pkg/can"
	"github.com/wdfk-prog/iso14229/pkg/isotp"
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/client"
	"github.com/wdfk-prog/iso14229/pkg/uds/server"
)

// addrNone is the sentinel spec.md §6 names for "no functional target".
const addrNone = "none"

// CANConfig is the [can] section: bus selection and the physical/
// functional addressing pairs.
type CANConfig struct {
	InterfaceName  string
	Channel        string
	PhysSourceAddr uint32
	PhysTargetAddr uint32
	FuncSourceAddr uint32
	FuncTargetAddr uint32 // 0 with HasFuncTarget == false when the config said "none"
	HasFuncTarget  bool
}

// ISOTPConfig is the [isotp] section: link tuning handed straight to
// isotp.Config.WithDefaults.
type ISOTPConfig struct {
	MTU       int
	BlockSize uint8
	STminMs   uint8
	PadByte   byte
}

// ToLinkConfig builds an isotp.Config for one direction of the physical
// pair; rxID/txID come from the [can] section since isotp.Config is
// per-link, not per-file.
func (c ISOTPConfig) ToLinkConfig(rxID, txID uint32) isotp.Config {
	return isotp.Config{
		RxID:      rxID,
		TxID:      txID,
		MTU:       c.MTU,
		PadByte:   c.PadByte,
		BlockSize: c.BlockSize,
		STmin:     c.STminMs,
	}
}

// ServerConfig is the [server] section: session timing and file-transfer
// limits.
type ServerConfig struct {
	P2MsStd       uint32
	P2StarMsStd   uint32
	P2MsExt       uint32
	P2StarMsExt   uint32
	S3Ms          uint32
	FileChunkSize int
}

// ToServerConfig builds a server.Config with the standard/extended
// session timings spec.md §4.4.3 requires, leaving security/reset
// callbacks for the caller to fill in (they have no INI representation).
func (c ServerConfig) ToServerConfig() server.Config {
	return server.Config{
		SessionTimings: map[uds.Session]server.SessionTiming{
			uds.SessionDefault:     {P2Ms: c.P2MsStd, P2StarMs: c.P2StarMsStd},
			uds.SessionProgramming: {P2Ms: c.P2MsExt, P2StarMs: c.P2StarMsExt},
			uds.SessionExtended:    {P2Ms: c.P2MsExt, P2StarMs: c.P2StarMsExt},
		},
		S3Ms: c.S3Ms,
	}
}

// ClientConfig is the [client] section: P2 expectation and heartbeat
// tuning handed to client.Config.
type ClientConfig struct {
	P2Ms                   uint32
	P2StarMs               uint32
	HeartbeatIntervalMs    uint32
	HeartbeatFailThreshold int
}

// ToClientConfig builds a client.Config.
func (c ClientConfig) ToClientConfig() client.Config {
	return client.Config{
		P2Ms:                   c.P2Ms,
		P2StarMs:               c.P2StarMs,
		HeartbeatIntervalMs:    c.HeartbeatIntervalMs,
		HeartbeatFailThreshold: c.HeartbeatFailThreshold,
	}
}

// LogConfig is the [log] section: the ambient logrus level.
type LogConfig struct {
	Level string
}

// Config is the fully parsed configuration file.
type Config struct {
	CAN    CANConfig
	ISOTP  ISOTPConfig
	Server ServerConfig
	Client ClientConfig
	Log    LogConfig
}

// Load reads and parses an INI file at path per spec.md §6's
// configuration surface. Keys the file omits take the default values
// written in Load itself; the owning layers' WithDefaults then only fill
// fields that still end up zero.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{}

	canSec := f.Section("can")
	cfg.CAN.InterfaceName = canSec.Key("can_interface_name").MustString("virtual")
	cfg.CAN.Channel = canSec.Key("channel").String()
	cfg.CAN.PhysSourceAddr = mustUint32Hex(canSec, "phys_source_addr", 0)
	cfg.CAN.PhysTargetAddr = mustUint32Hex(canSec, "phys_target_addr", 0)
	cfg.CAN.FuncSourceAddr = mustUint32Hex(canSec, "func_source_addr", 0)

	funcTarget := canSec.Key("func_target_addr").MustString(addrNone)
	if funcTarget == addrNone || funcTarget == "" {
		cfg.CAN.HasFuncTarget = false
	} else {
		cfg.CAN.HasFuncTarget = true
		cfg.CAN.FuncTargetAddr = mustUint32Hex(canSec, "func_target_addr", 0)
	}

	isotpSec := f.Section("isotp")
	cfg.ISOTP.MTU = isotpSec.Key("isotp_mtu").MustInt(isotp.DefaultMTU)
	cfg.ISOTP.BlockSize = uint8(isotpSec.Key("block_size").MustUint(uint(isotp.DefaultBlockSize)))
	cfg.ISOTP.STminMs = uint8(isotpSec.Key("stmin_ms").MustUint(uint(isotp.DefaultSTmin)))
	cfg.ISOTP.PadByte = byte(mustUint32Hex(isotpSec, "pad_byte", isotp.DefaultPadByte))

	serverSec := f.Section("server")
	cfg.Server.P2MsStd = uint32(serverSec.Key("p2_ms_std").MustUint(50))
	cfg.Server.P2StarMsStd = uint32(serverSec.Key("p2_star_ms_std").MustUint(2000))
	cfg.Server.P2MsExt = uint32(serverSec.Key("p2_ms_ext").MustUint(5000))
	cfg.Server.P2StarMsExt = uint32(serverSec.Key("p2_star_ms_ext").MustUint(5000))
	cfg.Server.S3Ms = uint32(serverSec.Key("s3_ms").MustUint(5000))
	cfg.Server.FileChunkSize = serverSec.Key("file_chunk_size").MustInt(4093)

	clientSec := f.Section("client")
	cfg.Client.P2Ms = uint32(clientSec.Key("p2_ms_std").MustUint(50))
	cfg.Client.P2StarMs = uint32(clientSec.Key("p2_star_ms_std").MustUint(2000))
	cfg.Client.HeartbeatIntervalMs = uint32(clientSec.Key("heartbeat_interval_ms").MustUint(2000))
	cfg.Client.HeartbeatFailThreshold = clientSec.Key("heartbeat_fail_threshold").MustInt(3)

	logSec := f.Section("log")
	cfg.Log.Level = logSec.Key("level").MustString("info")

	return cfg, nil
}

// ApplyLogLevel parses Log.Level and sets it on logrus's standard logger,
// the same global-logger convention the teacher's CLI entry points use.
func (c *Config) ApplyLogLevel() error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("config: invalid log level %q: %w", c.Log.Level, err)
	}
	log.SetLevel(level)
	return nil
}

// mustUint32Hex reads key as a CAN identifier: plain decimal or 0x-
// prefixed hex, mirroring pkg/od/parser.go's ObjectType parsing
// (strconv.ParseUint with base 0, letting the "0x" prefix pick the base).
func mustUint32Hex(sec *ini.Section, key string, fallback uint32) uint32 {
	raw := sec.Key(key).String()
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return fallback
	}
	return uint32(v)
}

// NewBus constructs the CAN bus named by InterfaceName. Callers must blank-
// import the backend subpackage (pkg/can/socketcan, pkg/can/virtual) for
// its init() registration to have run first.
func (c CANConfig) NewBus() (can.Bus, error) {
	return can.NewBus(c.InterfaceName, c.Channel)
}
