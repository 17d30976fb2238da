package services

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// CommandExecutor runs commandLine to completion, writing its combined
// stdout/stderr into out. Grounded on service_0x31_console.c's
// vcon_write capture device, generalized from an RT-Thread virtual
// console device to a plain *CaptureBuffer sink (an io.Writer).
type CommandExecutor func(commandLine string, out *CaptureBuffer) error

// CaptureBuffer is a fixed-capacity byte sink that appends a truncation
// marker instead of growing once full, mirroring vcon_write's
// overflow-with-"[TRUNCATED]" behavior.
type CaptureBuffer struct {
	buf      []byte
	capacity int
	overflow bool
}

// NewCaptureBuffer constructs an empty buffer with the given capacity.
func NewCaptureBuffer(capacity int) *CaptureBuffer {
	return &CaptureBuffer{capacity: capacity}
}

const truncationMarker = "\n[TRUNCATED]\n"

// Write implements io.Writer. Once the buffer is full, further writes are
// silently dropped (the marker having already been appended).
func (c *CaptureBuffer) Write(p []byte) (int, error) {
	if c.overflow {
		return len(p), nil
	}
	available := c.capacity - len(c.buf)
	if len(p) <= available {
		c.buf = append(c.buf, p...)
		return len(p), nil
	}

	marker := []byte(truncationMarker)
	writeLen := 0
	if available > len(marker) {
		writeLen = available - len(marker)
	} else if len(c.buf) > len(marker)-available {
		c.buf = c.buf[:len(c.buf)-(len(marker)-available)]
	} else {
		c.buf = c.buf[:0]
	}
	c.buf = append(c.buf, p[:writeLen]...)
	c.buf = append(c.buf, marker...)
	c.overflow = true
	return len(p), nil
}

// Bytes returns the captured content so far.
func (c *CaptureBuffer) Bytes() []byte { return c.buf }

// RoutineControlService dispatches 0x31 start/stop/request-results, with
// a reserved routine (0xF000) that executes a UTF-8 command line through
// a host-provided executor.
type RoutineControlService struct {
	mu         sync.Mutex
	executor   CommandExecutor
	bufferCap  int
	custom     map[uint16]RoutineHandler
	log        *log.Entry
}

// RoutineHandler implements start/stop/request-results for one routine
// identifier other than the reserved remote-console routine.
type RoutineHandler func(op uds.RoutineControlOperation, record []byte) ([]byte, bool)

// NewRoutineControlService constructs a service with the given capture
// buffer capacity (spec.md §4.4.9 typical 4 KiB) and command executor.
func NewRoutineControlService(bufferCap int, executor CommandExecutor) *RoutineControlService {
	return &RoutineControlService{
		bufferCap: bufferCap,
		executor:  executor,
		custom:    make(map[uint16]RoutineHandler),
		log:       log.WithField("component", "uds-routine-service"),
	}
}

// Register makes routineID respond via handler for sub-functions other
// than the reserved remote-console routine.
func (s *RoutineControlService) Register(routineID uint16, handler RoutineHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[routineID] = handler
}

// MountRoutineControl registers the 0x31 handler, returning its unmount
// closure.
func MountRoutineControl(d *dispatcher.Dispatcher, svc *RoutineControlService) func() {
	return d.Register(dispatcher.EventRoutineControl, 0, svc.handle)
}

func (s *RoutineControlService) handle(req []byte) dispatcher.Result {
	if len(req) < 4 {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
	}
	op := uds.RoutineControlOperation(req[1])
	routineID := uint16(req[2])<<8 | uint16(req[3])
	record := req[4:]

	if routineID == uds.RemoteConsoleRoutineID {
		return s.handleRemoteConsole(op, record)
	}

	s.mu.Lock()
	handler, ok := s.custom[routineID]
	s.mu.Unlock()
	if !ok {
		return dispatcher.Result{Verdict: dispatcher.NotMine, NRC: uds.NRCRequestOutOfRange}
	}
	status, ok := handler(op, record)
	if !ok {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCConditionsNotCorrect}
	}
	return dispatcher.Result{Verdict: dispatcher.Handled, Payload: append(routineIDBytes(routineID, op), status...)}
}

func routineIDBytes(routineID uint16, op uds.RoutineControlOperation) []byte {
	return []byte{byte(op), byte(routineID >> 8), byte(routineID)}
}

func (s *RoutineControlService) handleRemoteConsole(op uds.RoutineControlOperation, record []byte) dispatcher.Result {
	if op != uds.RoutineStart {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCSubFunctionNotSupported}
	}
	commandLine := string(record)
	capture := NewCaptureBuffer(s.bufferCap)

	err := s.runCaptured(commandLine, capture)
	if err != nil {
		s.log.WithError(err).Warn("remote console command failed")
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCGeneralProgrammingFailure}
	}

	payload := append(routineIDBytes(uds.RemoteConsoleRoutineID, op), capture.Bytes()...)
	return dispatcher.Result{Verdict: dispatcher.Handled, Payload: payload}
}

// runCaptured executes the command into capture and turns an executor
// panic into an error, so the handler returns on every exit path
// (success, executor error, or panic), mirroring
// capture_start/capture_stop's save-then-always-restore idiom.
func (s *RoutineControlService) runCaptured(commandLine string, capture *CaptureBuffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("remote console executor panicked")
			err = fmt.Errorf("remote console executor panicked: %v", r)
		}
	}()
	return s.executor(commandLine, capture)
}
