// Package isotp implements the ISO 15765-2 segmentation layer: a pair of
// independent send/receive state machines per address pair, framing
// single/first/consecutive/flow-control frames over 8-byte CAN payloads.
// The physical+functional transport binding that routes inbound frames to
// the right link lives in pkg/stack.
//
// The state-machine shape (poll-driven deadlines, a single owning
// goroutine, no internal locking) is grounded on the teacher's
// pkg/sdo.SDOServer/SDOClient Process loops, adapted from channel-select
// dispatch to the explicit Poll(nowMs) model spec.md §5 requires.
package isotp

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/wdfk-prog/iso14229/pkg/can"
	"github.com/wdfk-prog/iso14229/pkg/clock"
)

// Default timer values, all legal per ISO 15765-2 (spec.md §4.2.4).
const (
	DefaultNAsMs uint32 = 1000
	DefaultNArMs uint32 = 1000
	DefaultNBsMs uint32 = 1000
	DefaultNBrMs uint32 = 50
	DefaultNCsMs uint32 = 1000
	DefaultNCrMs uint32 = 1000

	DefaultMTU       = 4095
	DefaultPadByte   = 0xCC
	DefaultBlockSize = 0 // 0 = no limit, send all remaining CFs back-to-back
	DefaultSTmin     = 0 // no minimum gap
)

// Status is a bit-set describing a link's current activity.
type Status uint8

const (
	StatusIdle      Status = 0
	StatusSending   Status = 1 << 0
	StatusReceiving Status = 1 << 1
	StatusError     Status = 1 << 2
)

func (s Status) String() string {
	if s == StatusIdle {
		return "idle"
	}
	out := ""
	if s&StatusSending != 0 {
		out += "sending|"
	}
	if s&StatusReceiving != 0 {
		out += "receiving|"
	}
	if s&StatusError != 0 {
		out += "error|"
	}
	if out == "" {
		return "idle"
	}
	return out[:len(out)-1]
}

// Config bundles the address pair and tuning constants for one Link.
type Config struct {
	RxID uint32 // CAN ID this link listens on
	TxID uint32 // CAN ID this link transmits on

	MTU       int
	PadByte   byte
	NoPadding bool

	BlockSize uint8 // BS we advertise in our flow control
	STmin     uint8 // STmin (ms, 0-0x7F) we advertise in our flow control

	NAsMs, NArMs, NBsMs, NBrMs, NCsMs, NCrMs uint32
}

// WithDefaults fills any zero-valued tuning fields with the package
// defaults, leaving RxID/TxID untouched.
func (c Config) WithDefaults() Config {
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.NAsMs == 0 {
		c.NAsMs = DefaultNAsMs
	}
	if c.NArMs == 0 {
		c.NArMs = DefaultNArMs
	}
	if c.NBsMs == 0 {
		c.NBsMs = DefaultNBsMs
	}
	if c.NBrMs == 0 {
		c.NBrMs = DefaultNBrMs
	}
	if c.NCsMs == 0 {
		c.NCsMs = DefaultNCsMs
	}
	if c.NCrMs == 0 {
		c.NCrMs = DefaultNCrMs
	}
	if c.PadByte == 0 && !c.NoPadding {
		c.PadByte = DefaultPadByte
	}
	return c
}

type sendPhase uint8

const (
	sendIdle sendPhase = iota
	sendAwaitingFC
	sendStreamingCF
	sendError
)

type recvPhase uint8

const (
	recvIdle recvPhase = iota
	recvInProgress
)

// SendFunc transmits one CAN frame. Implementations must be synchronous
// and safe to call from the link's owning worker only.
type SendFunc func(can.Frame) error

// PDUHandler is invoked once a complete PDU has been reassembled.
type PDUHandler func(pdu []byte)

// Link is one ISO-TP address pair: an independent send state machine and
// an independent receive state machine, per spec.md §4.2.
type Link struct {
	name   string
	cfg    Config
	clk    clock.Clock
	send   SendFunc
	onPDU  PDUHandler
	logger *log.Entry

	sendPhase    sendPhase
	sendBuf      []byte
	sendOffset   int
	sendSeq      uint8
	sendBS       uint8 // negotiated block size from peer's FC
	sendSTminMs  uint32
	sendBlockCnt uint8
	sendDeadline uint32
	sendCfReady  uint32 // next time a CF may be sent (STmin pacing)

	recvPhase    recvPhase
	recvBuf      []byte
	recvTotal    int
	recvSeq      uint8
	recvBlockCnt uint8
	recvDeadline uint32
}

// NewLink constructs a Link. send transmits outbound frames; onPDU is
// called synchronously from FeedFrame/Poll whenever a full PDU has been
// reassembled.
func NewLink(name string, cfg Config, clk clock.Clock, send SendFunc, onPDU PDUHandler) *Link {
	return &Link{
		name:   name,
		cfg:    cfg.WithDefaults(),
		clk:    clk,
		send:   send,
		onPDU:  onPDU,
		logger: log.WithFields(log.Fields{"component": "isotp", "link": name}),
	}
}

// RxID reports the CAN ID this link listens on, so a transport binding
// owning several links can route an inbound frame without duplicating the
// address pair outside Config.
func (l *Link) RxID() uint32 { return l.cfg.RxID }

// Status reports the link's combined send/receive activity.
func (l *Link) Status() Status {
	var s Status
	switch l.sendPhase {
	case sendAwaitingFC, sendStreamingCF:
		s |= StatusSending
	case sendError:
		s |= StatusError
	}
	if l.recvPhase == recvInProgress {
		s |= StatusReceiving
	}
	return s
}

// Send transmits pdu, either as a single frame or by starting a
// multi-frame transfer that Poll will drive to completion. It fails with
// ErrBusy if a send is already in progress, and does not perturb state in
// that case.
func (l *Link) Send(pdu []byte) error {
	if l.sendPhase != sendIdle && l.sendPhase != sendError {
		return ErrBusy
	}
	if len(pdu) > l.cfg.MTU {
		return ErrTooLarge
	}
	l.sendPhase = sendIdle // clear a prior error state on a fresh send

	if len(pdu) <= 7 {
		frame := buildSingleFrame(pdu, l.cfg.PadByte)
		return l.transmit(frame)
	}

	// Enter the awaiting-FC state before the FF leaves, so a flow control
	// delivered synchronously by the transport is not dropped as unexpected.
	l.sendBuf = pdu
	l.sendOffset = 6
	l.sendSeq = 1
	l.sendPhase = sendAwaitingFC
	l.sendDeadline = l.clk.NowMs() + l.cfg.NBsMs
	frame := buildFirstFrame(pdu[:6], len(pdu), l.cfg.PadByte)
	if err := l.transmit(frame); err != nil {
		l.sendPhase = sendError
		l.sendBuf = nil
		return err
	}
	return nil
}

func (l *Link) transmit(data [8]byte) error {
	frame := can.Frame{ID: l.cfg.TxID, DLC: 8, Data: data}
	if err := l.send(frame); err != nil {
		l.logger.WithError(err).Warn("frame transmit failed")
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// FeedFrame processes one inbound CAN frame addressed to this link.
func (l *Link) FeedFrame(frame can.Frame) {
	if frame.DLC == 0 {
		return
	}
	pci := frame.Data[0] >> 4
	switch pci {
	case pciSingleFrame:
		l.handleSF(frame)
	case pciFirstFrame:
		l.handleFF(frame)
	case pciConsecutiveFrame:
		l.handleCF(frame)
	case pciFlowControl:
		l.handleFC(frame)
	}
}

func (l *Link) handleSF(frame can.Frame) {
	length := int(frame.Data[0] & 0x0F)
	if length == 0 || length > 7 || length > int(frame.DLC)-1 {
		return
	}
	pdu := make([]byte, length)
	copy(pdu, frame.Data[1:1+length])
	l.onPDU(pdu)
}

func (l *Link) handleFF(frame can.Frame) {
	total := (int(frame.Data[0]&0x0F) << 8) | int(frame.Data[1])
	if total <= 7 || total > l.cfg.MTU {
		return
	}
	if l.recvPhase == recvInProgress {
		l.logger.Warn("new first frame aborted an in-progress receive")
	}
	l.recvBuf = make([]byte, 0, total)
	l.recvBuf = append(l.recvBuf, frame.Data[2:8]...)
	l.recvTotal = total
	l.recvSeq = 1
	l.recvPhase = recvInProgress
	l.recvBlockCnt = l.cfg.BlockSize
	l.recvDeadline = l.clk.NowMs() + l.cfg.NCrMs

	fc := buildFlowControl(flowStatusCTS, l.cfg.BlockSize, encodeSTmin(l.cfg.STmin), l.cfg.PadByte)
	_ = l.transmit(fc)
}

func (l *Link) handleCF(frame can.Frame) {
	if l.recvPhase != recvInProgress {
		return
	}
	seq := frame.Data[0] & 0x0F
	if seq != l.recvSeq {
		l.logger.WithFields(log.Fields{"expected": l.recvSeq, "got": seq}).Warn("consecutive frame sequence mismatch")
		l.abortRecv()
		return
	}
	remaining := l.recvTotal - len(l.recvBuf)
	n := remaining
	if n > 7 {
		n = 7
	}
	if n > int(frame.DLC)-1 {
		n = int(frame.DLC) - 1
	}
	l.recvBuf = append(l.recvBuf, frame.Data[1:1+n]...)
	l.recvSeq = (l.recvSeq + 1) & 0x0F
	l.recvDeadline = l.clk.NowMs() + l.cfg.NCrMs

	if len(l.recvBuf) >= l.recvTotal {
		pdu := l.recvBuf
		l.recvPhase = recvIdle
		l.recvBuf = nil
		l.onPDU(pdu)
		return
	}

	if l.cfg.BlockSize > 0 {
		l.recvBlockCnt--
		if l.recvBlockCnt == 0 {
			l.recvBlockCnt = l.cfg.BlockSize
			fc := buildFlowControl(flowStatusCTS, l.cfg.BlockSize, encodeSTmin(l.cfg.STmin), l.cfg.PadByte)
			_ = l.transmit(fc)
		}
	}
}

func (l *Link) abortRecv() {
	l.recvPhase = recvIdle
	l.recvBuf = nil
}

func (l *Link) handleFC(frame can.Frame) {
	if l.sendPhase != sendAwaitingFC {
		return
	}
	status := frame.Data[0] & 0x0F
	switch status {
	case flowStatusCTS:
		l.sendBS = frame.Data[1]
		l.sendSTminMs = decodeSTminMs(frame.Data[2])
		l.sendBlockCnt = l.sendBS
		l.sendPhase = sendStreamingCF
		l.sendCfReady = l.clk.NowMs()
	case flowStatusWait:
		l.sendDeadline = l.clk.NowMs() + l.cfg.NBsMs
	case flowStatusOvflw:
		l.logger.Warn("peer reported flow-control overflow, aborting send")
		l.sendPhase = sendError
		l.sendBuf = nil
	}
}

// Poll drives timers and, while a multi-frame send is streaming
// consecutive frames, emits the next CF once STmin has elapsed. Must be
// called with cadence at least as tight as the smallest configured timer.
func (l *Link) Poll(nowMs uint32) {
	if l.recvPhase == recvInProgress && !clock.Before(nowMs, l.recvDeadline) {
		l.logger.Warn("N_Cr timeout, aborting receive")
		l.abortRecv()
	}

	switch l.sendPhase {
	case sendAwaitingFC:
		if !clock.Before(nowMs, l.sendDeadline) {
			l.logger.Warn("N_Bs timeout, aborting send")
			l.sendPhase = sendError
			l.sendBuf = nil
		}
	case sendStreamingCF:
		if clock.Before(nowMs, l.sendCfReady) {
			return
		}
		l.sendNextCF(nowMs)
	}
}

func (l *Link) sendNextCF(nowMs uint32) {
	remaining := l.sendBuf[l.sendOffset:]
	n := len(remaining)
	if n > 7 {
		n = 7
	}
	frame := buildConsecutiveFrame(l.sendSeq, remaining[:n], l.cfg.PadByte)
	if err := l.transmit(frame); err != nil {
		l.sendPhase = sendError
		l.sendBuf = nil
		return
	}
	l.sendOffset += n
	l.sendSeq = (l.sendSeq + 1) & 0x0F

	if l.sendOffset >= len(l.sendBuf) {
		l.sendPhase = sendIdle
		l.sendBuf = nil
		return
	}

	if l.sendBS > 0 {
		l.sendBlockCnt--
		if l.sendBlockCnt == 0 {
			l.sendPhase = sendAwaitingFC
			l.sendDeadline = nowMs + l.cfg.NBsMs
			return
		}
	}
	l.sendCfReady = nowMs + l.sendSTminMs
}
