package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSessionTTL = 30 * time.Minute

// Operation names accepted by FailNext.
const (
	OpCreateSession   = "create_session"
	OpQuerySettlement = "query_settlement"
	OpSubmit          = "submit"
)

// SettlementListener is told about every session that reaches a terminal
// state through Submit or expiry.
type SettlementListener func(Session, Settlement)

// Simulator is an in-memory processor for local runs and tests. It honours
// idempotency keys, expires sessions and can inject transient faults.
type Simulator struct {
	mu        sync.Mutex
	sessions  map[string]*simSession
	byKey     map[string]string
	byToken   map[string]string
	faults    map[string]int
	ttl       time.Duration
	now       func() time.Time
	listeners []SettlementListener
}

type simSession struct {
	session    Session
	settlement Settlement
}

// SimulatorOption customises a Simulator.
type SimulatorOption func(*Simulator)

// WithSessionTTL sets how long a session accepts submissions.
func WithSessionTTL(ttl time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSimulatorClock overrides time.Now.
func WithSimulatorClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		sessions: make(map[string]*simSession),
		byKey:    make(map[string]string),
		byToken:  make(map[string]string),
		faults:   make(map[string]int),
		ttl:      defaultSessionTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSettled registers a listener. Listeners run synchronously after the
// simulator lock is released.
func (s *Simulator) OnSettled(fn SettlementListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// FailNext makes the next n calls of op fail with a transient error.
func (s *Simulator) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] += n
}

func (s *Simulator) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, transient("create session", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFault(OpCreateSession); err != nil {
		return Session{}, err
	}
	if req.Amount <= 0 {
		return Session{}, errors.New("create session: amount must be positive")
	}
	if req.IdempotencyKey != "" {
		if ref, ok := s.byKey[req.IdempotencyKey]; ok {
			return s.sessions[ref].session, nil
		}
	}

	now := s.now().UTC()
	session := Session{
		Reference: "sess_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Token:     "tok_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		ExpiresAt: now.Add(s.ttl),
	}
	s.sessions[session.Reference] = &simSession{
		session: session,
		settlement: Settlement{
			Reference: session.Reference,
			Status:    SettlementPending,
			Amount:    session.Amount,
			Currency:  session.Currency,
		},
	}
	s.byToken[session.Token] = session.Reference
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = session.Reference
	}
	return session, nil
}

func (s *Simulator) QuerySettlement(ctx context.Context, reference string) (Settlement, error) {
	if err := ctx.Err(); err != nil {
		return Settlement{}, transient("query settlement", err)
	}
	s.mu.Lock()
	if err := s.takeFault(OpQuerySettlement); err != nil {
		s.mu.Unlock()
		return Settlement{}, err
	}
	sess, ok := s.sessions[reference]
	if !ok {
		s.mu.Unlock()
		return Settlement{}, ErrUnknownReference
	}
	expired := s.expireLocked(sess)
	out := sess.settlement
	session := sess.session
	listeners := s.listenersLocked(expired)
	s.mu.Unlock()

	notify(listeners, session, out)
	return out, nil
}

// Submit charges the session identified by token. Instruments ending in
// 0002 are declined and 9995 fail for insufficient funds; anything else
// succeeds. Submitting to an already settled session returns its settlement.
func (s *Simulator) Submit(ctx context.Context, token string, details PaymentDetails) (Settlement, error) {
	if err := ctx.Err(); err != nil {
		return Settlement{}, transient("submit payment", err)
	}
	s.mu.Lock()
	if err := s.takeFault(OpSubmit); err != nil {
		s.mu.Unlock()
		return Settlement{}, err
	}
	ref, ok := s.byToken[token]
	if !ok {
		s.mu.Unlock()
		return Settlement{}, ErrUnknownReference
	}
	sess := s.sessions[ref]
	if s.expireLocked(sess) {
		out, session, listeners := sess.settlement, sess.session, s.listenersLocked(true)
		s.mu.Unlock()
		notify(listeners, session, out)
		return Settlement{}, ErrSessionExpired
	}
	if sess.settlement.Status == SettlementExpired {
		s.mu.Unlock()
		return Settlement{}, ErrSessionExpired
	}
	if sess.settlement.Status.Terminal() {
		out := sess.settlement
		s.mu.Unlock()
		return out, nil
	}

	now := s.now().UTC()
	sess.settlement.SettledAt = &now
	switch {
	case strings.HasSuffix(details.Instrument, "0002"):
		sess.settlement.Status = SettlementFailed
		sess.settlement.FailureReason = "card_declined"
	case strings.HasSuffix(details.Instrument, "9995"):
		sess.settlement.Status = SettlementFailed
		sess.settlement.FailureReason = "insufficient_funds"
	default:
		sess.settlement.Status = SettlementSucceeded
	}
	out, session, listeners := sess.settlement, sess.session, s.listenersLocked(true)
	s.mu.Unlock()

	notify(listeners, session, out)
	return out, nil
}

// Session returns the session behind a reference.
func (s *Simulator) Session(reference string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[reference]
	if !ok {
		return Session{}, false
	}
	return sess.session, true
}

// SessionCount reports how many distinct sessions were opened.
func (s *Simulator) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Simulator) takeFault(op string) error {
	if s.faults[op] > 0 {
		s.faults[op]--
		return transient(op, errors.New("injected fault"))
	}
	return nil
}

// expireLocked flips a lapsed pending session to expired and reports whether
// it did so on this call.
func (s *Simulator) expireLocked(sess *simSession) bool {
	if sess.settlement.Status != SettlementPending || s.now().Before(sess.session.ExpiresAt) {
		return false
	}
	at := s.now().UTC()
	sess.settlement.Status = SettlementExpired
	sess.settlement.FailureReason = "session_expired"
	sess.settlement.SettledAt = &at
	return true
}

func (s *Simulator) listenersLocked(changed bool) []SettlementListener {
	if !changed {
		return nil
	}
	return append([]SettlementListener(nil), s.listeners...)
}

func notify(listeners []SettlementListener, session Session, settlement Settlement) {
	for _, fn := range listeners {
		fn(session, settlement)
	}
}
