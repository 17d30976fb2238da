// Package server is the UDS server core: session/security state, request
// decode, response-pending pacing, scheduled reset, and the dispatch
// call into pkg/uds/dispatcher. Its poll-driven timer shape is grounded
// on SDOServer.Process's state-check-then-act loop, adapted from a
// channel-select dispatch into the synchronous Poll(nowMs) the single-
// worker concurrency model requires.
package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/wdfk-prog/iso14229/pkg/clock"
	"github.com/wdfk-prog/iso14229/pkg/uds"
	"github.com/wdfk-prog/iso14229/pkg/uds/dispatcher"
)

// SessionTiming holds the P2/P2* budgets in force for one session.
type SessionTiming struct {
	P2Ms     uint32
	P2StarMs uint32
}

// DefaultSessionTimings returns the per-session P2/P2* defaults spec.md
// §4.4.3 names.
func DefaultSessionTimings() map[uds.Session]SessionTiming {
	return map[uds.Session]SessionTiming{
		uds.SessionDefault:     {P2Ms: 50, P2StarMs: 2000},
		uds.SessionProgramming: {P2Ms: 5000, P2StarMs: 5000},
		uds.SessionExtended:    {P2Ms: 5000, P2StarMs: 5000},
	}
}

// SeedGenerator produces a fresh security-access seed for level.
type SeedGenerator func(level uds.SecurityLevel) []byte

// KeyValidator reports whether key is the correct response to seed for
// the target security level.
type KeyValidator func(level uds.SecurityLevel, seed, key []byte) bool

// SendFunc transmits one response PDU.
type SendFunc func(pdu []byte) error

// Config bundles the tunables a Server needs beyond its dispatcher.
type Config struct {
	SessionTimings map[uds.Session]SessionTiming
	S3Ms           uint32

	GenerateSeed  SeedGenerator
	ValidateKey   KeyValidator
	SecurityDelayMs uint32 // lockout duration after a key mismatch

	MaxResponsePendingRepeats int // spec.md §4.4.2 step 6, conventionally 8
}

// WithDefaults fills unset fields with spec.md's stated defaults.
func (c Config) WithDefaults() Config {
	if c.SessionTimings == nil {
		c.SessionTimings = DefaultSessionTimings()
	}
	if c.S3Ms == 0 {
		c.S3Ms = 5000
	}
	if c.MaxResponsePendingRepeats == 0 {
		c.MaxResponsePendingRepeats = 8
	}
	return c
}

type pendingTransaction struct {
	requestSID byte
	kind       dispatcher.EventKind
	req        []byte
	repeats    int
	nextFireMs uint32
}

type scheduledReset struct {
	fireAtMs uint32
	active   bool
}

// Server is one diagnostic server instance: session/security context,
// request decode/response encode, and the P2/response-pending/S3/
// scheduled-reset timers that Poll drives.
type Server struct {
	cfg  Config
	clk  clock.Clock
	disp *dispatcher.Dispatcher
	send SendFunc
	log  *log.Entry

	session       uds.Session
	securityLevel uds.SecurityLevel
	lastActivityMs uint32

	pendingSeed      []byte
	seedLevel        uds.SecurityLevel
	securityLockUntil uint32

	commStateNormal bool
	commStateNM     bool

	scheduled scheduledReset
	pending   *pendingTransaction
}

// New constructs a Server bound to disp and send. The server starts in
// the default session, security level 0, both comm states enabled.
func New(disp *dispatcher.Dispatcher, clk clock.Clock, send SendFunc, cfg Config) *Server {
	cfg = cfg.WithDefaults()
	s := &Server{
		cfg:             cfg,
		clk:             clk,
		disp:            disp,
		send:            send,
		log:             log.WithField("component", "uds-server"),
		session:         uds.SessionDefault,
		commStateNormal: true,
		commStateNM:     true,
	}
	s.lastActivityMs = clk.NowMs()
	return s
}

// Session reports the active diagnostic session.
func (s *Server) Session() uds.Session { return s.session }

// SecurityLevel reports the current unlocked level (0 = locked).
func (s *Server) SecurityLevel() uds.SecurityLevel { return s.securityLevel }

// SetSession transitions the session per spec.md §4.4.3: resets security
// to locked, applies the new session's P2/P2* budgets, refreshes the
// activity clock.
func (s *Server) SetSession(session uds.Session) {
	s.session = session
	s.securityLevel = 0
	s.lastActivityMs = s.clk.NowMs()
}

// Timing returns the P2/P2* budget for the active session.
func (s *Server) Timing() SessionTiming {
	return s.cfg.SessionTimings[s.session]
}

// CommStateNormal/CommStateNM report the two comm-control gates 0x28
// toggles.
func (s *Server) CommStateNormal() bool { return s.commStateNormal }
func (s *Server) CommStateNM() bool     { return s.commStateNM }
func (s *Server) SetCommState(normal, nm bool) {
	s.commStateNormal = normal
	s.commStateNM = nm
}

// RequestSeed implements the odd-subfunction half of 0x27: already-
// unlocked short-circuit, fresh-seed generation, single-use remembering.
func (s *Server) RequestSeed(level uds.SecurityLevel) (seed []byte, nrc uds.NRC, ok bool) {
	if now := s.clk.NowMs(); clock.Before(now, s.securityLockUntil) {
		return nil, uds.NRCRequiredTimeDelayNotExpired, false
	}
	if s.securityLevel == level {
		return make([]byte, 4), 0, true // already-unlocked: zero seed
	}
	seed = s.cfg.GenerateSeed(level)
	s.pendingSeed = seed
	s.seedLevel = level
	return seed, 0, true
}

// ValidateKey implements the even-subfunction half of 0x27. The seed is
// cleared on every call regardless of outcome (single-use).
func (s *Server) ValidateKey(level uds.SecurityLevel, key []byte) (nrc uds.NRC, ok bool) {
	seed := s.pendingSeed
	seedLevel := s.seedLevel
	s.pendingSeed = nil
	if seed == nil {
		return uds.NRCRequestSequenceError, false
	}
	if len(seed) == 4 && allZero(seed) {
		s.securityLevel = level
		return 0, true
	}
	if !s.cfg.ValidateKey(seedLevel, seed, key) {
		s.securityLockUntil = s.clk.NowMs() + s.cfg.SecurityDelayMs
		return uds.NRCInvalidKey, false
	}
	s.securityLevel = level
	return 0, true
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ScheduleReset arms the scheduled-reset timer; Poll fires
// EventDoScheduledReset once it elapses.
func (s *Server) ScheduleReset(delayMs uint32) {
	s.scheduled = scheduledReset{fireAtMs: s.clk.NowMs() + delayMs, active: true}
}

// HandleRequest decodes req, applies the comm-control filter, dispatches
// kind through the chain, and sends the encoded response. suppressPositive
// mutes a Handled outcome's response per spec.md §4.4.2 step 1/5. No
// per-service session or security gate is applied: every mounted handler
// is reached in every session and at every security level.
func (s *Server) HandleRequest(kind dispatcher.EventKind, req []byte, suppressPositive bool) {
	if len(req) == 0 {
		return
	}
	requestSID := req[0]
	if !s.commStateNormal {
		// comm-control filter: silently drop. Only the normal-messages gate
		// is consulted here; commStateNM and the addressed-group distinction
		// from ISO 14229-1's CommunicationControl step 2 are not modeled
		// separately, since nothing in this server routes diagnostic
		// requests over a network-management channel.
		return
	}
	s.lastActivityMs = s.clk.NowMs()

	res := s.disp.Dispatch(kind, req)
	switch res.Verdict {
	case dispatcher.Handled, dispatcher.HandledContinue:
		if suppressPositive {
			return
		}
		s.sendResponse(uds.BuildPositiveResponse(requestSID, res.Payload))
	case dispatcher.ResponsePending:
		s.beginResponsePending(requestSID, kind, req)
	default: // NotMine (chain exhausted) or Rejected
		s.sendResponse(uds.BuildNegativeResponse(requestSID, res.NRC))
	}
}

func (s *Server) beginResponsePending(requestSID byte, kind dispatcher.EventKind, req []byte) {
	s.sendResponse(uds.BuildNegativeResponse(requestSID, uds.NRCResponsePending))
	s.pending = &pendingTransaction{
		requestSID: requestSID,
		kind:       kind,
		req:        req,
		repeats:    1,
		nextFireMs: s.clk.NowMs() + s.Timing().P2StarMs,
	}
}

func (s *Server) sendResponse(pdu []byte) {
	if err := s.send(pdu); err != nil {
		s.log.WithError(err).Warn("failed to send response")
	}
}

// Poll drives the S3 session timer, the scheduled-reset timer, and
// response-pending re-emission. It must be called at least as often as
// the smallest of those budgets.
func (s *Server) Poll(nowMs uint32) {
	if s.session != uds.SessionDefault && clock.Elapsed(s.lastActivityMs, nowMs) > s.cfg.S3Ms {
		s.disp.Dispatch(dispatcher.EventSessionTimeout, nil)
		s.SetSession(uds.SessionDefault)
	}

	if s.scheduled.active && !clock.Before(nowMs, s.scheduled.fireAtMs) {
		s.scheduled.active = false
		s.disp.Dispatch(dispatcher.EventDoScheduledReset, nil)
	}

	if s.pending != nil && !clock.Before(nowMs, s.pending.nextFireMs) {
		s.retryPending(nowMs)
	}
}

func (s *Server) retryPending(nowMs uint32) {
	p := s.pending
	res := s.disp.Dispatch(p.kind, p.req)
	switch res.Verdict {
	case dispatcher.ResponsePending:
		p.repeats++
		if p.repeats > s.cfg.MaxResponsePendingRepeats {
			s.sendResponse(uds.BuildNegativeResponse(p.requestSID, uds.NRCGeneralReject))
			s.pending = nil
			return
		}
		s.sendResponse(uds.BuildNegativeResponse(p.requestSID, uds.NRCResponsePending))
		p.nextFireMs = nowMs + s.Timing().P2StarMs
	case dispatcher.Handled, dispatcher.HandledContinue:
		s.sendResponse(uds.BuildPositiveResponse(p.requestSID, res.Payload))
		s.pending = nil
	default:
		s.sendResponse(uds.BuildNegativeResponse(p.requestSID, res.NRC))
		s.pending = nil
	}
}

// Dump is a snapshot of server state for diagnostics, returned by
// DumpState without needing a separate introspection wire service.
type Dump struct {
	Session          uds.Session
	SecurityLevel    uds.SecurityLevel
	CommStateNormal  bool
	CommStateNM      bool
	ResetScheduled   bool
	TransactionPending bool
}

func (s *Server) DumpState() Dump {
	return Dump{
		Session:            s.session,
		SecurityLevel:       s.securityLevel,
		CommStateNormal:     s.commStateNormal,
		CommStateNM:         s.commStateNM,
		ResetScheduled:      s.scheduled.active,
		TransactionPending:  s.pending != nil,
	}
}
