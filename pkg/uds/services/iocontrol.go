package services

import (
	"sync"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// IOControlHandler applies an IOControlAction to a registered DID and
// returns the response-specific control-status bytes (may be empty).
type IOControlHandler func(action uds.IOControlAction, controlOptionRecord []byte) ([]byte, bool)

// IOControlService maintains the per-DID override flag spec.md §4.4.8
// requires and force-releases every overridden DID on session-timeout.
type IOControlService struct {
	mu        sync.Mutex
	handlers  map[uint16]IOControlHandler
	overridden map[uint16]bool
}

// NewIOControlService constructs an empty registry.
func NewIOControlService() *IOControlService {
	return &IOControlService{handlers: make(map[uint16]IOControlHandler), overridden: make(map[uint16]bool)}
}

// Register makes did respond to 0x2F InputOutputControlByIdentifier.
func (s *IOControlService) Register(did uint16, handler IOControlHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[did] = handler
}

// MountIOControl registers the 0x2F handler and a session-timeout
// force-release handler, returning the aggregate unmount closure.
func MountIOControl(d *dispatcher.Dispatcher, svc *IOControlService) func() {
	unregControl := d.Register(dispatcher.EventInputOutputControl, 0, svc.handleControl)
	unregTimeout := d.Register(dispatcher.EventSessionTimeout, -100, svc.handleSessionTimeout)
	return func() {
		unregControl()
		unregTimeout()
	}
}

func (s *IOControlService) handleControl(req []byte) dispatcher.Result {
	if len(req) < 4 {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	action := uds.IOControlAction(req[3])

	s.mu.Lock()
	handler, ok := s.handlers[did]
	s.mu.Unlock()
	if !ok {
		return dispatcher.Result{Verdict: dispatcher.NotMine, NRC: uds.NRCRequestOutOfRange}
	}

	status, ok := handler(action, req[4:])
	if !ok {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCConditionsNotCorrect}
	}

	s.mu.Lock()
	switch action {
	case uds.IOFreezeState, uds.IOShortTermAdjust:
		s.overridden[did] = true
	case uds.IOReturnControl, uds.IOResetToDefault:
		delete(s.overridden, did)
	}
	s.mu.Unlock()

	payload := append([]byte{req[1], req[2], byte(action)}, status...)
	return dispatcher.Result{Verdict: dispatcher.Handled, Payload: payload}
}

func (s *IOControlService) handleSessionTimeout([]byte) dispatcher.Result {
	s.mu.Lock()
	overridden := make([]uint16, 0, len(s.overridden))
	for did := range s.overridden {
		overridden = append(overridden, did)
	}
	handlers := make(map[uint16]IOControlHandler, len(overridden))
	for _, did := range overridden {
		handlers[did] = s.handlers[did]
	}
	s.mu.Unlock()

	for _, did := range overridden {
		if handler, ok := handlers[did]; ok {
			handler(uds.IOReturnControl, nil)
		}
		s.mu.Lock()
		delete(s.overridden, did)
		s.mu.Unlock()
	}
	return dispatcher.Result{Verdict: dispatcher.HandledContinue}
}
