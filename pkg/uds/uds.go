// Package uds holds the wire-level constants shared by the server,
// client, and both service-handler packages: service IDs, negative
// response codes, and the session/security types the dispatcher events
// carry no opinion about but every service handler needs.
package uds

// NRC is a UDS negative response code (ISO 14229-1 Table A.1, the subset
// this stack's core and services emit).
type NRC byte

const (
	NRCGeneralReject                        NRC = 0x10
	NRCServiceNotSupported                  NRC = 0x11
	NRCSubFunctionNotSupported              NRC = 0x12
	NRCIncorrectMessageLengthOrInvalidFormat NRC = 0x13
	NRCConditionsNotCorrect                 NRC = 0x22
	NRCRequestSequenceError                 NRC = 0x24
	NRCRequestOutOfRange                    NRC = 0x31
	NRCSecurityAccessDenied                 NRC = 0x33
	NRCInvalidKey                           NRC = 0x35
	NRCExceedNumberOfAttempts               NRC = 0x36
	NRCRequiredTimeDelayNotExpired          NRC = 0x37
	NRCGeneralProgrammingFailure            NRC = 0x72
	NRCResponsePending                      NRC = 0x78
	NRCSubFunctionNotSupportedInSession     NRC = 0x7E
	NRCServiceNotSupportedInSession         NRC = 0x7F
)

// Service IDs this stack implements.
const (
	SIDDiagnosticSessionControl byte = 0x10
	SIDECUReset                 byte = 0x11
	SIDReadDataByIdentifier     byte = 0x22
	SIDSecurityAccess           byte = 0x27
	SIDCommunicationControl     byte = 0x28
	SIDWriteDataByIdentifier    byte = 0x2E
	SIDInputOutputControl       byte = 0x2F
	SIDRoutineControl           byte = 0x31
	SIDRequestFileTransfer      byte = 0x38
	SIDTransferData             byte = 0x36
	SIDRequestTransferExit      byte = 0x37
	SIDTesterPresent            byte = 0x3E

	SIDNegativeResponse byte = 0x7F
	ResponseSIDOffset   byte = 0x40

	SuppressPositiveResponseBit byte = 0x80
)

// Session is the active diagnostic session.
type Session uint8

const (
	SessionDefault Session = iota
	SessionProgramming
	SessionExtended
)

// SecurityLevel 0 means locked. Even values are access levels reached by
// SecurityAccess send-key sub-functions; by convention the send-key
// sub-function equals the request-seed sub-function + 1.
type SecurityLevel uint8

// RoutineControlOperation is the 0x31 sub-function.
type RoutineControlOperation byte

const (
	RoutineStart     RoutineControlOperation = 0x01
	RoutineStop      RoutineControlOperation = 0x02
	RoutineRequestResults RoutineControlOperation = 0x03
)

// IOControlAction is the 0x2F sub-function / action byte.
type IOControlAction byte

const (
	IOReturnControl    IOControlAction = 0x00
	IOResetToDefault   IOControlAction = 0x01
	IOFreezeState      IOControlAction = 0x02
	IOShortTermAdjust  IOControlAction = 0x03
)

// FileTransferOperation is the 0x38 "moop" operand.
type FileTransferOperation byte

const (
	FileAdd     FileTransferOperation = 0x01
	FileDelete  FileTransferOperation = 0x02
	FileReplace FileTransferOperation = 0x03
	FileRead    FileTransferOperation = 0x04
	FileResume  FileTransferOperation = 0x05
)

// RemoteConsoleRoutineID is the reserved routine identifier carrying a
// shell command line through 0x31 start.
const RemoteConsoleRoutineID uint16 = 0xF000

// BuildPositiveResponse prepends the positive-response SID to payload.
func BuildPositiveResponse(requestSID byte, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, requestSID+ResponseSIDOffset)
	return append(out, payload...)
}

// BuildNegativeResponse builds the 3-byte 0x7F/SID/NRC triplet.
func BuildNegativeResponse(requestSID byte, nrc NRC) []byte {
	return []byte{SIDNegativeResponse, requestSID, byte(nrc)}
}

// suppressCapableSIDs are the services whose sub-function byte (req[1])
// carries the suppressPosRspMsgIndicationBit per ISO 14229-1; RoutineControl
// and the data-identifier/file-transfer services don't use that byte this
// way, so they're deliberately excluded.
var suppressCapableSIDs = map[byte]bool{
	SIDDiagnosticSessionControl: true,
	SIDECUReset:                 true,
	SIDCommunicationControl:     true,
	SIDTesterPresent:            true,
}

// SuppressPositiveResponseRequested reports whether req asks the server to
// omit its positive response, for the subset of services where the
// sub-function byte carries that bit.
func SuppressPositiveResponseRequested(req []byte) bool {
	if len(req) < 2 || !suppressCapableSIDs[req[0]] {
		return false
	}
	return req[1]&SuppressPositiveResponseBit != 0
}
