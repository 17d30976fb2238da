package isotp

import "errors"

// Error taxonomy per the transport/ISO-TP-protocol split: transport
// errors come from the CAN send callback or the frame queue, protocol
// errors are this layer's own timer/sequence violations.
var (
	ErrBusy          = errors.New("isotp: send already in progress")
	ErrTooLarge      = errors.New("isotp: pdu exceeds configured MTU")
	ErrSequenceError = errors.New("isotp: consecutive frame sequence mismatch")
	ErrTimeoutNBs    = errors.New("isotp: timed out waiting for flow control (N_Bs)")
	ErrTimeoutNCr    = errors.New("isotp: timed out waiting for consecutive frame (N_Cr)")
	ErrOverflow      = errors.New("isotp: receiver reported overflow")
	ErrTransport     = errors.New("isotp: transport send failed")
)
