package services

import (
	"sync"

	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// DIDReader returns the current value for a registered data identifier.
type DIDReader func() []byte

// DIDWriter accepts a new value for a registered data identifier and
// reports whether it was accepted.
type DIDWriter func(payload []byte) bool

// DataIdentifierService is a plain DID→callback registry: spec.md
// §4.4.7 deliberately keeps this untyped (key→blob), unlike the
// teacher's EDS-described, strongly-typed object dictionary.
type DataIdentifierService struct {
	mu      sync.Mutex
	readers map[uint16]DIDReader
	writers map[uint16]DIDWriter
}

// NewDataIdentifierService constructs an empty registry.
func NewDataIdentifierService() *DataIdentifierService {
	return &DataIdentifierService{readers: make(map[uint16]DIDReader), writers: make(map[uint16]DIDWriter)}
}

// RegisterReadable makes did respond to 0x22 ReadDataByIdentifier.
func (s *DataIdentifierService) RegisterReadable(did uint16, read DIDReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers[did] = read
}

// RegisterWritable makes did respond to 0x2E WriteDataByIdentifier.
func (s *DataIdentifierService) RegisterWritable(did uint16, write DIDWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writers[did] = write
}

// MountDataIdentifiers registers the 0x22/0x2E handlers, returning the
// aggregate unmount closure.
func MountDataIdentifiers(d *dispatcher.Dispatcher, svc *DataIdentifierService) func() {
	unregRead := d.Register(dispatcher.EventReadDataByIdentifier, 0, svc.handleRead)
	unregWrite := d.Register(dispatcher.EventWriteDataByIdentifier, 0, svc.handleWrite)
	return func() {
		unregRead()
		unregWrite()
	}
}

func (s *DataIdentifierService) handleRead(req []byte) dispatcher.Result {
	if len(req) < 3 {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	s.mu.Lock()
	read, ok := s.readers[did]
	s.mu.Unlock()
	if !ok {
		return dispatcher.Result{Verdict: dispatcher.NotMine, NRC: uds.NRCRequestOutOfRange}
	}
	payload := append([]byte{req[1], req[2]}, read()...)
	return dispatcher.Result{Verdict: dispatcher.Handled, Payload: payload}
}

func (s *DataIdentifierService) handleWrite(req []byte) dispatcher.Result {
	if len(req) < 3 {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCIncorrectMessageLengthOrInvalidFormat}
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	s.mu.Lock()
	write, ok := s.writers[did]
	s.mu.Unlock()
	if !ok {
		return dispatcher.Result{Verdict: dispatcher.NotMine, NRC: uds.NRCRequestOutOfRange}
	}
	if !write(req[3:]) {
		return dispatcher.Result{Verdict: dispatcher.Rejected, NRC: uds.NRCConditionsNotCorrect}
	}
	return dispatcher.Result{Verdict: dispatcher.Handled, Payload: []byte{req[1], req[2]}}
}
