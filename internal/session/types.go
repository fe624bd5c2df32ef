package session

import (
	"time"
)

// Side identifies one of the two alternating-turn roles.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// Status represents the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCheckmate Status = "checkmate"
	StatusDrawn     Status = "drawn"
	StatusResigned  Status = "resigned"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCheckmate, StatusDrawn, StatusResigned, StatusTimeout:
		return true
	}
	return false
}

// End reasons recorded once a session leaves the active state.
const (
	EndCheckmate            = "checkmate"
	EndStalemate            = "stalemate"
	EndThreefoldRepetition  = "threefold repetition"
	EndInsufficientMaterial = "insufficient material"
	EndFiftyMoveRule        = "50 move rule"
	EndResignation          = "resignation"
	EndTimeout              = "timeout"
	EndAgreement            = "agreement"
)

// MoveRecord is one applied move. Append-only: never mutated after append.
type MoveRecord struct {
	SAN       string    `json:"san"`
	UCI       string    `json:"uci"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Side      Side      `json:"side"`
	Captured  string    `json:"captured,omitempty"`
	Promotion string    `json:"promotion,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// Clock holds both players' remaining time in seconds. Deduction happens
// on move application and on timeout checks, never on a wall-clock timer.
type Clock struct {
	White      float64   `json:"white"`
	Black      float64   `json:"black"`
	Increment  float64   `json:"increment"`
	LastMoveAt time.Time `json:"last_move_at"`
}

func (c *Clock) Remaining(side Side) float64 {
	if side == SideWhite {
		return c.White
	}
	return c.Black
}

func (c *Clock) SetRemaining(side Side, seconds float64) {
	if side == SideWhite {
		c.White = seconds
	} else {
		c.Black = seconds
	}
}

// DrawOffer is the single outstanding offer, if any.
type DrawOffer struct {
	By Side      `json:"by"`
	At time.Time `json:"at"`
}

// Session is the persisted state of one game between two participants.
type Session struct {
	ID          string       `json:"id"`
	GameType    string       `json:"game_type"`
	White       string       `json:"white"`
	Black       string       `json:"black,omitempty"`
	WhiteRating int          `json:"white_rating"`
	BlackRating int          `json:"black_rating,omitempty"`
	Status      Status       `json:"status"`
	FEN         string       `json:"fen"`
	MovesUCI    []string     `json:"moves_uci"`
	Moves       []MoveRecord `json:"moves"`
	Turn        Side         `json:"turn"`
	Clock       *Clock       `json:"clock,omitempty"`
	DrawOffer   *DrawOffer   `json:"draw_offer,omitempty"`
	Check       bool         `json:"check"`
	Winner      Side         `json:"winner,omitempty"`
	EndReason   string       `json:"end_reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SideOf returns the side occupied by the participant.
func (s *Session) SideOf(participantID string) (Side, bool) {
	switch {
	case participantID != "" && participantID == s.White:
		return SideWhite, true
	case participantID != "" && participantID == s.Black:
		return SideBlack, true
	}
	return "", false
}

// Participant returns the participant id occupying the given side.
func (s *Session) Participant(side Side) string {
	if side == SideWhite {
		return s.White
	}
	return s.Black
}

// Opponent returns the other participant's id, or "" when absent.
func (s *Session) Opponent(participantID string) string {
	side, ok := s.SideOf(participantID)
	if !ok {
		return ""
	}
	return s.Participant(side.Opponent())
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	ErrNotFound         = staticErr("game not found")
	ErrUnknownGameType  = staticErr("unknown game type")
	ErrNotJoinable      = staticErr("game is not joinable")
	ErrAlreadyInSession = staticErr("you are already in this game")
	ErrNotAPlayer       = staticErr("you are not a player in this game")
	ErrNotYourTurn      = staticErr("not your turn")
	ErrGameOver         = staticErr("game is over")
	ErrIllegalMove      = staticErr("illegal move")
	ErrNoOffer          = staticErr("no draw offer outstanding")
	ErrOwnOffer         = staticErr("cannot accept your own draw offer")
	ErrInvalidArgs      = staticErr("invalid arguments")
)
