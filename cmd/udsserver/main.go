// Command udsserver is a minimal UDS diagnostic server: it loads a
// config file, mounts the core service set, and drives the resulting
// stack.Stack until interrupted. Its flag-parse-then-run shape follows
// cmd/canopen's main.go; the interactive command surface spec.md §6
// reserves for a client shell is intentionally not replicated here.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	_ "github.com/wdfk-prog/iso14229/pkg/can/socketcan"
	_ "github.com/wdfk-prog/iso14229/pkg/can/virtual"
	"github.com/wdfk-prog/iso14229/pkg/clock"
	"github.com/wdfk-prog/iso14229/pkg/config"
	"github.com/wdfk-prog/iso14229/pkg/stack"
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
	"github.com/wdfk-prog/iso14229/pkg/uds/server"
	"github.com/wdfk-prog/iso14229/pkg/uds/services"
)

// localNodeID is the enhanced-addressing node identifier this server
// answers to under CommunicationControl sub-functions 0x04/0x05.
const localNodeID = 0x0001

// queueCapacity bounds the frame queue per spec.md §5's "silent drop of
// the newest frame" backpressure policy.
const queueCapacity = 64

func main() {
	configPath := flag.String("config", "", "path to the server's INI configuration file")
	flag.Parse()
	if *configPath == "" {
		log.Fatal("udsserver: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("udsserver: failed to load config")
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		log.WithError(err).Fatal("udsserver: invalid log level")
	}

	bus, err := cfg.CAN.NewBus()
	if err != nil {
		log.WithError(err).Fatalf("udsserver: could not build %q bus", cfg.CAN.InterfaceName)
	}

	srvCfg := cfg.Server.ToServerConfig()
	srvCfg.GenerateSeed = func(uds.SecurityLevel) []byte { return []byte{0x12, 0x34, 0x56, 0x78} }
	srvCfg.ValidateKey = func(level uds.SecurityLevel, seed, key []byte) bool {
		if len(key) != len(seed) {
			return false
		}
		for i, b := range seed {
			if key[i] != b^0xFF {
				return false
			}
		}
		return true
	}
	srvCfg.SecurityDelayMs = 1000
	srvCfg = srvCfg.WithDefaults()

	addr := stack.Addressing{
		PhysRxID: cfg.CAN.PhysTargetAddr,
		PhysTxID: cfg.CAN.PhysSourceAddr,
	}
	if cfg.CAN.HasFuncTarget {
		addr.HasFunc = true
		addr.FuncRxID = cfg.CAN.FuncTargetAddr
	}

	disp := dispatcher.New()
	queue := clock.NewFrameQueue(queueCapacity)
	isotpCfg := cfg.ISOTP.ToLinkConfig(addr.PhysRxID, addr.PhysTxID).WithDefaults()

	st := stack.NewServer(clock.NewSystemClock(), bus, queue, addr, isotpCfg, disp, srvCfg)
	mountDefaultServices(disp, st.Server, isotpCfg.MTU, cfg.Server.FileChunkSize)

	if err := st.Connect(); err != nil {
		log.WithError(err).Fatal("udsserver: could not connect to bus")
	}
	defer st.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("udsserver: shutting down")
		cancel()
	}()

	log.WithFields(log.Fields{
		"interface": cfg.CAN.InterfaceName,
		"phys_rx":   addr.PhysRxID,
		"phys_tx":   addr.PhysTxID,
	}).Info("udsserver: running")
	st.Run(ctx)
}

// mountDefaultServices wires the demonstration service set this binary
// ships with: session control, reset, security access, communication
// control, a remote-console routine backed by an OS shell, file
// transfer, and one illustrative data identifier. A deployment wanting a
// different set would write its own main using pkg/stack directly.
func mountDefaultServices(disp *dispatcher.Dispatcher, srv *server.Server, isotpMTU, fileChunkSize int) {
	services.MountSessionControl(disp, srv)
	services.MountSecurityAccess(disp, srv)
	services.MountCommunicationControl(disp, srv, localNodeID)
	services.MountTesterPresent(disp)

	services.MountECUReset(disp, srv, func(kind services.ResetSubfunction) {
		log.WithField("kind", kind).Warn("udsserver: ECU reset requested; exiting process")
		os.Exit(0)
	})

	routineSvc := services.NewRoutineControlService(4096, execShellCommand)
	services.MountRoutineControl(disp, routineSvc)

	fileSvc := services.NewFileTransferService(services.FileTransferConfig{
		ISOTPMTU:  isotpMTU,
		ChunkSize: fileChunkSize,
	})
	services.MountFileTransfer(disp, fileSvc)

	didSvc := services.NewDataIdentifierService()
	didSvc.RegisterReadable(0xF190, func() []byte { return []byte("UDS-DEMO-VIN-0001") })
	services.MountDataIdentifiers(disp, didSvc)
}
