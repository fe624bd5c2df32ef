// Package rules adapts the chess rules library for the session state machine.
// The adapter is stateless: every call replays the move history from the
// start position, which keeps repetition and fifty-move counters intact
// (a bare FEN cannot carry them).
package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	// ErrIllegalMove covers malformed and illegal move requests alike;
	// callers treat both as a routine rejection.
	ErrIllegalMove = staticErr("illegal move")
	// ErrHistory means the stored move log no longer replays cleanly.
	ErrHistory = staticErr("invalid move history")
)

// MoveRequest is either a notated move (UCI or SAN) or an explicit
// from/to pair with an optional promotion piece (q, r, b, n).
type MoveRequest struct {
	Notation  string `json:"notation,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// Result reports a validated move and the terminal flags of the resulting
// position.
type Result struct {
	FEN       string
	SAN       string
	UCI       string
	From      string
	To        string
	Captured  string
	Promotion string
	Flags     []string
	Turn      string

	IsCheck                bool
	IsCheckmate            bool
	IsStalemate            bool
	IsInsufficientMaterial bool
	IsThreefoldRepetition  bool
	IsFiftyMoveRule        bool
}

// Engine wraps the rules library behind the narrow contract the session
// manager needs. Pure: no shared state between calls.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// InitialPosition returns the canonical starting position.
func (e *Engine) InitialPosition() string {
	return nchess.NewGame().FEN()
}

// Apply replays history from the start position, validates the requested
// move against the resulting position and applies it. Returns
// ErrIllegalMove when the request does not describe a legal move.
func (e *Engine) Apply(history []string, req MoveRequest) (*Result, error) {
	game, err := replay(history)
	if err != nil {
		return nil, err
	}
	pos := game.Position()

	mv, err := decode(pos, req)
	if err != nil {
		return nil, err
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	captured := capturedPiece(pos, mv)

	if err := game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}

	res := &Result{
		FEN:       game.FEN(),
		SAN:       san,
		UCI:       mv.String(),
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		Captured:  captured,
		Promotion: pieceName(mv.Promo()),
		Flags:     flags(mv),
		Turn:      strings.ToLower(game.Position().Turn().String()),
		IsCheck:   mv.HasTag(nchess.Check),
	}

	switch game.Method() {
	case nchess.Checkmate:
		res.IsCheckmate = true
		res.IsCheck = true
	case nchess.Stalemate:
		res.IsStalemate = true
	case nchess.InsufficientMaterial:
		res.IsInsufficientMaterial = true
	case nchess.FivefoldRepetition:
		res.IsThreefoldRepetition = true
	case nchess.SeventyFiveMoveRule:
		res.IsFiftyMoveRule = true
	}

	// Threefold repetition and the fifty-move rule are claimable draws in
	// the library; the arena ends the game as soon as either is reachable.
	if game.Outcome() == nchess.NoOutcome {
		for _, m := range game.EligibleDraws() {
			switch m {
			case nchess.ThreefoldRepetition:
				res.IsThreefoldRepetition = true
			case nchess.FiftyMoveRule:
				res.IsFiftyMoveRule = true
			}
		}
	}

	return res, nil
}

func replay(history []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, raw := range history {
		mv, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return nil, ErrHistory
		}
		if err := game.Move(mv, nil); err != nil {
			return nil, ErrHistory
		}
	}
	return game, nil
}

func decode(pos *nchess.Position, req MoveRequest) (*nchess.Move, error) {
	uci := strings.ToLower(strings.TrimSpace(req.Notation))
	if req.From != "" && req.To != "" {
		uci = strings.ToLower(strings.TrimSpace(req.From) + strings.TrimSpace(req.To) + strings.TrimSpace(req.Promotion))
	}
	if uci == "" {
		return nil, ErrIllegalMove
	}
	if mv, err := (nchess.UCINotation{}).Decode(pos, uci); err == nil {
		return mv, nil
	}
	// Fall back to SAN for clients that send algebraic notation.
	mv, err := (nchess.AlgebraicNotation{}).Decode(pos, strings.TrimSpace(req.Notation))
	if err != nil {
		return nil, ErrIllegalMove
	}
	return mv, nil
}

func capturedPiece(pos *nchess.Position, mv *nchess.Move) string {
	if !mv.HasTag(nchess.Capture) && !mv.HasTag(nchess.EnPassant) {
		return ""
	}
	if mv.HasTag(nchess.EnPassant) {
		return "pawn"
	}
	return pieceName(pos.Board().Piece(mv.S2()).Type())
}

func pieceName(pt nchess.PieceType) string {
	switch pt {
	case nchess.King:
		return "king"
	case nchess.Queen:
		return "queen"
	case nchess.Rook:
		return "rook"
	case nchess.Bishop:
		return "bishop"
	case nchess.Knight:
		return "knight"
	case nchess.Pawn:
		return "pawn"
	default:
		return ""
	}
}

func flags(mv *nchess.Move) []string {
	var out []string
	if mv.HasTag(nchess.Capture) {
		out = append(out, "capture")
	}
	if mv.HasTag(nchess.EnPassant) {
		out = append(out, "en_passant")
	}
	if mv.HasTag(nchess.KingSideCastle) {
		out = append(out, "kingside_castle")
	}
	if mv.HasTag(nchess.QueenSideCastle) {
		out = append(out, "queenside_castle")
	}
	if mv.Promo() != nchess.NoPieceType {
		out = append(out, "promotion")
	}
	return out
}
