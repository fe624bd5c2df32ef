package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/gametype"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
)

const (
	defaultRating = 1200
	fallbackTTL   = 24 * time.Hour
)

// Archiver persists a finished session to durable storage. Archive failure
// never rolls back a state transition; the store stays the system of record
// until the session expires.
type Archiver interface {
	SaveResult(ctx context.Context, s *Session) error
}

// Manager owns the session state machine. Every mutating operation is a
// read-modify-write against the Store, serialized per session id: two
// concurrent mutations of the same session never interleave.
type Manager struct {
	store        *Store
	engine       *rules.Engine
	types        *gametype.Catalog
	repo         Archiver
	locks        *keyedMutex
	drawOfferTTL time.Duration
}

func NewManager(store *Store, engine *rules.Engine, types *gametype.Catalog, drawOfferTTL time.Duration) *Manager {
	return &Manager{
		store:        store,
		engine:       engine,
		types:        types,
		locks:        newKeyedMutex(),
		drawOfferTTL: drawOfferTTL,
	}
}

// AttachArchiver wires the persistence collaborator for finished sessions.
func (m *Manager) AttachArchiver(a Archiver) {
	if m != nil {
		m.repo = a
	}
}

// CreateParams describes a new session. Black may be empty, in which case
// the session starts in the waiting state and its clock stays unset until
// the second participant joins.
type CreateParams struct {
	White       string
	Black       string
	GameType    string
	WhiteRating int
	BlackRating int
}

func (m *Manager) Create(ctx context.Context, p CreateParams) (*Session, error) {
	white := strings.TrimSpace(p.White)
	black := strings.TrimSpace(p.Black)
	if white == "" || white == black {
		return nil, ErrInvalidArgs
	}
	gt, ok := m.types.Get(p.GameType)
	if !ok {
		return nil, ErrUnknownGameType
	}

	now := time.Now()
	s := &Session{
		ID:          newSessionID(),
		GameType:    gt.ID,
		White:       white,
		Black:       black,
		WhiteRating: ratingOrDefault(p.WhiteRating),
		Status:      StatusWaiting,
		FEN:         m.engine.InitialPosition(),
		MovesUCI:    []string{},
		Moves:       []MoveRecord{},
		Turn:        SideWhite,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if black != "" {
		s.BlackRating = ratingOrDefault(p.BlackRating)
		s.Status = StatusActive
		s.Clock = newClock(gt, now)
	}

	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	if err := m.store.AddParticipant(ctx, s.ID, white, gt.Expiry()); err != nil {
		return nil, err
	}
	if black != "" {
		if err := m.store.AddParticipant(ctx, s.ID, black, gt.Expiry()); err != nil {
			return nil, err
		}
	}
	obslog.L().Info("session_create",
		zap.String("game_id", s.ID),
		zap.String("game_type", s.GameType),
		zap.String("white", s.White),
		zap.String("black", s.Black),
		zap.String("status", string(s.Status)),
	)
	return s, nil
}

// Join attaches the second participant to a waiting session and starts the
// clock.
func (m *Manager) Join(ctx context.Context, id, participantID string) (*Session, error) {
	participantID = strings.TrimSpace(participantID)
	if id == "" || participantID == "" {
		return nil, ErrInvalidArgs
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := s.SideOf(participantID); ok {
		return nil, ErrAlreadyInSession
	}
	if s.Status != StatusWaiting {
		return nil, ErrNotJoinable
	}
	gt, ok := m.types.Get(s.GameType)
	if !ok {
		return nil, ErrUnknownGameType
	}

	now := time.Now()
	s.Black = participantID
	s.BlackRating = defaultRating
	s.Status = StatusActive
	s.Clock = newClock(gt, now)
	s.UpdatedAt = now

	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	if err := m.store.AddParticipant(ctx, s.ID, participantID, gt.Expiry()); err != nil {
		return nil, err
	}
	obslog.L().Info("session_join", zap.String("game_id", s.ID), zap.String("participant", participantID))
	return s, nil
}

// ApplyMove validates and applies one move for the participant. When the
// clock deduction alone exhausts the mover's remaining time the session
// transitions to timeout and the move is not recorded.
func (m *Manager) ApplyMove(ctx context.Context, id, participantID string, req rules.MoveRequest) (*Session, error) {
	if id == "" || strings.TrimSpace(participantID) == "" {
		return nil, ErrInvalidArgs
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	side, ok := s.SideOf(participantID)
	if !ok {
		return nil, ErrNotAPlayer
	}
	if s.Status != StatusActive {
		return nil, ErrGameOver
	}
	if s.Turn != side {
		return nil, ErrNotYourTurn
	}

	now := time.Now()
	if s.Clock != nil {
		elapsed := now.Sub(s.Clock.LastMoveAt).Seconds()
		if s.Clock.Remaining(side)-elapsed <= 0 {
			s.Clock.SetRemaining(side, 0)
			m.finish(s, StatusTimeout, side.Opponent(), EndTimeout, now)
			if err := m.save(ctx, s); err != nil {
				return nil, err
			}
			m.archiveIfFinal(ctx, s)
			obslog.L().Info("session_timeout",
				zap.String("game_id", s.ID),
				zap.String("flagged", string(side)),
				zap.String("winner", string(s.Winner)),
			)
			return s, nil
		}
	}

	res, err := m.engine.Apply(s.MovesUCI, req)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return nil, ErrIllegalMove
		}
		return nil, err
	}

	if s.Clock != nil {
		remaining := s.Clock.Remaining(side) - now.Sub(s.Clock.LastMoveAt).Seconds() + s.Clock.Increment
		s.Clock.SetRemaining(side, remaining)
		s.Clock.LastMoveAt = now
	}

	s.MovesUCI = append(s.MovesUCI, res.UCI)
	s.Moves = append(s.Moves, MoveRecord{
		SAN:       res.SAN,
		UCI:       res.UCI,
		From:      res.From,
		To:        res.To,
		Side:      side,
		Captured:  res.Captured,
		Promotion: res.Promotion,
		Flags:     res.Flags,
		AppliedAt: now,
	})
	s.FEN = res.FEN
	s.Check = res.IsCheck
	s.DrawOffer = nil
	s.UpdatedAt = now

	switch {
	case res.IsCheckmate:
		m.finish(s, StatusCheckmate, side, EndCheckmate, now)
	case res.IsStalemate:
		m.finish(s, StatusDrawn, "", EndStalemate, now)
	case res.IsThreefoldRepetition:
		m.finish(s, StatusDrawn, "", EndThreefoldRepetition, now)
	case res.IsInsufficientMaterial:
		m.finish(s, StatusDrawn, "", EndInsufficientMaterial, now)
	case res.IsFiftyMoveRule:
		m.finish(s, StatusDrawn, "", EndFiftyMoveRule, now)
	default:
		s.Turn = side.Opponent()
	}

	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.archiveIfFinal(ctx, s)
	obslog.L().Info("session_move",
		zap.String("game_id", s.ID),
		zap.String("participant", strings.TrimSpace(participantID)),
		zap.String("san", res.SAN),
		zap.String("turn", string(s.Turn)),
		zap.String("status", string(s.Status)),
	)
	return s, nil
}

// Resign ends an active session in the opponent's favor.
func (m *Manager) Resign(ctx context.Context, id, participantID string) (*Session, error) {
	if id == "" || strings.TrimSpace(participantID) == "" {
		return nil, ErrInvalidArgs
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	side, ok := s.SideOf(participantID)
	if !ok {
		return nil, ErrNotAPlayer
	}
	if s.Status != StatusActive {
		return nil, ErrGameOver
	}

	m.finish(s, StatusResigned, side.Opponent(), EndResignation, time.Now())
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.archiveIfFinal(ctx, s)
	obslog.L().Info("session_resign",
		zap.String("game_id", s.ID),
		zap.String("resigner", strings.TrimSpace(participantID)),
		zap.String("winner", string(s.Winner)),
	)
	return s, nil
}

// OfferDraw records a draw offer. A later offer replaces an earlier one so
// at most one is ever outstanding.
func (m *Manager) OfferDraw(ctx context.Context, id, participantID string) (*Session, error) {
	if id == "" || strings.TrimSpace(participantID) == "" {
		return nil, ErrInvalidArgs
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	side, ok := s.SideOf(participantID)
	if !ok {
		return nil, ErrNotAPlayer
	}
	if s.Status != StatusActive {
		return nil, ErrGameOver
	}

	now := time.Now()
	s.DrawOffer = &DrawOffer{By: side, At: now}
	s.UpdatedAt = now
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	obslog.L().Info("session_draw_offer", zap.String("game_id", s.ID), zap.String("by", string(side)))
	return s, nil
}

// AcceptDraw ends the session by agreement. Offers older than the draw
// offer TTL are treated as absent.
func (m *Manager) AcceptDraw(ctx context.Context, id, participantID string) (*Session, error) {
	if id == "" || strings.TrimSpace(participantID) == "" {
		return nil, ErrInvalidArgs
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	side, ok := s.SideOf(participantID)
	if !ok {
		return nil, ErrNotAPlayer
	}
	if s.Status != StatusActive {
		return nil, ErrGameOver
	}

	now := time.Now()
	offer := s.DrawOffer
	if offer == nil || (m.drawOfferTTL > 0 && now.Sub(offer.At) > m.drawOfferTTL) {
		return nil, ErrNoOffer
	}
	if offer.By == side {
		return nil, ErrOwnOffer
	}

	s.DrawOffer = nil
	m.finish(s, StatusDrawn, "", EndAgreement, now)
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.archiveIfFinal(ctx, s)
	obslog.L().Info("session_draw_agree", zap.String("game_id", s.ID), zap.String("accepted_by", string(side)))
	return s, nil
}

// CheckTimeout flags the side to move if its clock ran out since the last
// move. Idempotent; safe to call on every read and from the sweep. The
// second return value reports whether this call performed the transition.
func (m *Manager) CheckTimeout(ctx context.Context, id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidArgs
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if s.Status != StatusActive || s.Clock == nil {
		return s, false, nil
	}

	now := time.Now()
	elapsed := now.Sub(s.Clock.LastMoveAt).Seconds()
	side := s.Turn
	if s.Clock.Remaining(side)-elapsed > 0 {
		return s, false, nil
	}

	s.Clock.SetRemaining(side, 0)
	m.finish(s, StatusTimeout, side.Opponent(), EndTimeout, now)
	if err := m.save(ctx, s); err != nil {
		return nil, false, err
	}
	m.archiveIfFinal(ctx, s)
	obslog.L().Info("session_timeout",
		zap.String("game_id", s.ID),
		zap.String("flagged", string(side)),
		zap.String("winner", string(s.Winner)),
	)
	return s, true, nil
}

// Get loads a session without mutating it.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Load(ctx, id)
}

func (m *Manager) finish(s *Session, status Status, winner Side, reason string, now time.Time) {
	s.Status = status
	s.Winner = winner
	s.EndReason = reason
	s.UpdatedAt = now
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	return m.store.Save(ctx, s, m.ttlFor(s.GameType))
}

func (m *Manager) ttlFor(gameTypeID string) time.Duration {
	if gt, ok := m.types.Get(gameTypeID); ok {
		return gt.Expiry()
	}
	return fallbackTTL
}

func (m *Manager) archiveIfFinal(ctx context.Context, s *Session) {
	if m.repo == nil || !s.Status.Terminal() {
		return
	}
	if err := m.repo.SaveResult(ctx, s); err != nil {
		obslog.L().Error("session_archive_error", zap.String("game_id", s.ID), zap.Error(err))
		return
	}
	obslog.L().Info("session_archive", zap.String("game_id", s.ID), zap.String("status", string(s.Status)))
}

func ratingOrDefault(r int) int {
	if r <= 0 {
		return defaultRating
	}
	return r
}

func newClock(gt gametype.GameType, now time.Time) *Clock {
	return &Clock{
		White:      float64(gt.BaseDuration),
		Black:      float64(gt.BaseDuration),
		Increment:  float64(gt.Increment),
		LastMoveAt: now,
	}
}

func newSessionID() string {
	return fmt.Sprintf("game-%d-%s", time.Now().UnixNano(), randSuffix(3))
}

// randSuffix returns a hex string of n bytes length; falls back to a
// timestamp slice when crypto fails.
func randSuffix(n int) string {
	if n <= 0 {
		n = 3
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err == nil {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%x", time.Now().UnixNano()%1_000_000)
}
