// Package client is the UDS client core: single-in-flight transaction
// discipline, P2/P2* timing, response routing, and tester-present
// heartbeat with disconnect escalation. Its timer-accumulation shape is
// grounded on SDOClient's timeoutTimer deadline pattern, adapted from a
// channel/state-machine mix into the synchronous Poll(nowMs) the
// single-worker concurrency model requires.
package client

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/wdfk-prog/iso14229/pkg/clock"
	"github.com/wdfk-prog/iso14229/pkg/uds"
)

// ErrBusy is returned by Do when a transaction is already in flight.
var ErrBusy = errors.New("uds client: transaction already in flight")

// ErrSendFailed is returned by Do when the transport write failed.
var ErrSendFailed = errors.New("uds client: request send failed")

// ErrTimeout is returned by Do when P2/P2* elapses without a matching
// response.
var ErrTimeout = errors.New("uds client: P2 timeout")

// State is the client's transaction state.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateError
)

// Outcome is how one transaction ended.
type Outcome uint8

const (
	OutcomePositive Outcome = iota
	OutcomeNRC
	OutcomeTimeout
	OutcomeSendError
	OutcomeBusy
)

// Result is what Do/Poll resolve a submitted transaction to.
type Result struct {
	Outcome Outcome
	NRC     uds.NRC
	Payload []byte // response bytes after the response SID, when Outcome == OutcomePositive
}

// SendFunc transmits one request PDU.
type SendFunc func(pdu []byte) error

// ResponseHandler observes a positive response's payload as a side
// effect (cache population, printed output); it does not decide
// transaction success.
type ResponseHandler func(payload []byte)

// DisconnectFunc is invoked once the heartbeat failure threshold is
// reached.
type DisconnectFunc func()

// Config bundles client tunables.
type Config struct {
	P2Ms                  uint32
	P2StarMs              uint32
	HeartbeatIntervalMs    uint32
	HeartbeatFailThreshold int
}

// WithDefaults fills unset fields with spec.md §6's stated defaults.
func (c Config) WithDefaults() Config {
	if c.P2Ms == 0 {
		c.P2Ms = 50
	}
	if c.P2StarMs == 0 {
		c.P2StarMs = 2000
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = 2000
	}
	if c.HeartbeatFailThreshold == 0 {
		c.HeartbeatFailThreshold = 3
	}
	return c
}

type pendingCall struct {
	requestSID byte
	deadlineMs uint32
	resultCh   chan Result
}

// Client is one diagnostic client instance: transaction state, response
// registry, and heartbeat bookkeeping, all driven synchronously from the
// owning worker via Poll.
type Client struct {
	cfg  Config
	clk  clock.Clock
	send SendFunc
	log  *log.Entry

	registry *ResponseRegistry

	state   State
	pending *pendingCall

	heartbeatDue       uint32
	heartbeatFailCount int
	disconnect         DisconnectFunc
	disconnected       bool
}

// New constructs a Client bound to send. disconnect may be nil.
func New(clk clock.Clock, send SendFunc, cfg Config, disconnect DisconnectFunc) *Client {
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:        cfg,
		clk:        clk,
		send:       send,
		log:        log.WithField("component", "uds-client"),
		registry:   NewResponseRegistry(),
		disconnect: disconnect,
	}
	c.heartbeatDue = clk.NowMs() + cfg.HeartbeatIntervalMs
	return c
}

// State reports the current transaction state.
func (c *Client) State() State { return c.state }

// Registry exposes the response registry for handler registration.
func (c *Client) Registry() *ResponseRegistry { return c.registry }

// Submit starts a transaction for pdu (request SID in byte 0) per
// spec.md §4.6.1/§4.6.2. It returns ErrBusy immediately without
// perturbing state if a transaction is already in flight, and
// ErrSendFailed immediately if the transport write fails.
// The resultCh receives exactly one Result once the transaction
// terminates (positive, nrc, or timeout); Poll must be called regularly
// for transactions to progress.
func (c *Client) Submit(pdu []byte) (resultCh chan Result, err error) {
	if c.state != StateIdle {
		return nil, ErrBusy
	}
	// Mark the transaction in flight before the bytes leave the wire: the
	// P2 timer is defined to start "on submit" (spec.md §4.6.2), and a
	// synchronous transport could in principle deliver the response
	// before send() returns.
	ch := make(chan Result, 1)
	c.pending = &pendingCall{
		requestSID: pdu[0],
		deadlineMs: c.clk.NowMs() + c.cfg.P2Ms,
		resultCh:   ch,
	}
	c.state = StateAwaitingResponse

	if err := c.send(pdu); err != nil {
		c.log.WithError(err).Warn("request send failed")
		c.pending = nil
		c.state = StateIdle
		c.onHeartbeatObservedError()
		return nil, ErrSendFailed
	}
	return ch, nil
}

// Do submits pdu and blocks until the transaction resolves or ctx is
// cancelled, mirroring uds_wait_transaction_result's poll-loop-with-
// timeout shape minus the CLI spinner rendering. The caller's worker
// thread must still be driving Poll/OnResponse concurrently for this to
// ever return other than via ctx.
func (c *Client) Do(ctx context.Context, pdu []byte) (Result, error) {
	resultCh, err := c.Submit(pdu)
	if err != nil {
		switch err {
		case ErrBusy:
			return Result{Outcome: OutcomeBusy}, err
		default:
			return Result{Outcome: OutcomeSendError}, err
		}
	}
	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return Result{Outcome: OutcomeTimeout}, ctx.Err()
	}
}

// OnResponse feeds one received response PDU to the pending transaction.
// Responses that don't match the pending request SID are ignored (they
// belong to a different exchange, e.g. a stray retransmit).
func (c *Client) OnResponse(pdu []byte) {
	if c.pending == nil || len(pdu) == 0 {
		return
	}
	if pdu[0] == uds.SIDNegativeResponse {
		c.onNegativeResponse(pdu)
		return
	}
	if pdu[0] != c.pending.requestSID+uds.ResponseSIDOffset {
		return
	}
	c.completePositive(pdu)
}

func (c *Client) onNegativeResponse(pdu []byte) {
	if len(pdu) < 3 || pdu[1] != c.pending.requestSID {
		return
	}
	nrc := uds.NRC(pdu[2])
	if nrc == uds.NRCResponsePending {
		c.pending.deadlineMs = c.clk.NowMs() + c.cfg.P2StarMs
		return
	}
	p := c.pending
	c.pending = nil
	c.state = StateIdle
	p.resultCh <- Result{Outcome: OutcomeNRC, NRC: nrc}
}

func (c *Client) completePositive(pdu []byte) {
	payload := pdu[1:]
	c.registry.Dispatch(pdu[0], payload)

	p := c.pending
	c.pending = nil
	c.state = StateIdle
	p.resultCh <- Result{Outcome: OutcomePositive, Payload: payload}
}

// Poll drives the P2/P2* deadline and the heartbeat schedule. It must be
// called at least as often as the smallest configured timer.
func (c *Client) Poll(nowMs uint32) {
	if c.pending != nil && !clock.Before(nowMs, c.pending.deadlineMs) {
		p := c.pending
		c.pending = nil
		c.state = StateIdle
		p.resultCh <- Result{Outcome: OutcomeTimeout}
		c.onHeartbeatObservedError()
	}

	if !clock.Before(nowMs, c.heartbeatDue) {
		c.heartbeatDue = nowMs + c.cfg.HeartbeatIntervalMs
		c.sendTesterPresentIfIdle()
	}
}

// sendTesterPresentIfIdle implements spec.md §4.6.4: submits a
// suppress-positive-response tester-present when idle, else reports
// skipped without touching heartbeat bookkeeping (a busy client is not a
// failure).
func (c *Client) sendTesterPresentIfIdle() (sent bool) {
	if c.state != StateIdle {
		return false
	}
	pdu := []byte{uds.SIDTesterPresent, 0x00 | uds.SuppressPositiveResponseBit}
	if err := c.send(pdu); err != nil {
		c.log.WithError(err).Debug("tester-present send failed")
		c.onHeartbeatObservedError()
		return false
	}
	c.heartbeatFailCount = 0
	return true
}

// onHeartbeatObservedError implements the fail-count/disconnect
// escalation: exactly one increment per discrete transport error or
// timeout observed, never doubled (spec.md §9 open question, resolved:
// the reference C source's dual-increment on the same event is treated
// as a defect and not reproduced here).
func (c *Client) onHeartbeatObservedError() {
	c.heartbeatFailCount++
	if c.heartbeatFailCount >= c.cfg.HeartbeatFailThreshold && !c.disconnected {
		c.disconnected = true
		c.log.Warn("heartbeat failure threshold reached, disconnecting")
		if c.disconnect != nil {
			c.disconnect()
		}
	}
}
