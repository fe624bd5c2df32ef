// Package httpapi is the REST surface over the session manager. State
// lives in the manager and the store; handlers stay thin.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/gametype"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/session"
	"github.com/park285/chess-arena/pkg/arenadto"
)

type Server struct {
	manager *session.Manager
	store   *session.Store
	types   *gametype.Catalog
}

func NewServer(manager *session.Manager, store *session.Store, types *gametype.Catalog) *Server {
	return &Server{manager: manager, store: store, types: types}
}

// Handler routes by method and path. The surface is small enough that a
// switch beats pulling in a router.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("http_panic", zap.Any("panic", r), zap.ByteString("path", ctx.Path()))
			writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
		}
	}()

	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case method == fasthttp.MethodGet && path == "/":
		writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: map[string]string{"status": "ok"}})
	case method == fasthttp.MethodGet && path == "/api/game-types":
		s.handleGameTypes(ctx)
	case method == fasthttp.MethodGet && path == "/api/games":
		s.handleListGames(ctx)
	case method == fasthttp.MethodPost && path == "/api/games":
		s.handleCreateGame(ctx)
	case strings.HasPrefix(path, "/api/games/"):
		s.routeGame(ctx, method, strings.TrimPrefix(path, "/api/games/"))
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) routeGame(ctx *fasthttp.RequestCtx, method, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(ctx, fasthttp.StatusNotFound, "not found")
		return
	}
	action := strings.Join(parts[1:], "/")

	switch {
	case method == fasthttp.MethodGet && action == "":
		s.handleGetGame(ctx, id)
	case method == fasthttp.MethodPost && action == "join":
		s.handleJoin(ctx, id)
	case method == fasthttp.MethodPost && action == "move":
		s.handleMove(ctx, id)
	case method == fasthttp.MethodPost && action == "resign":
		s.handlePlayerAction(ctx, id, s.manager.Resign)
	case method == fasthttp.MethodPost && action == "draw/offer":
		s.handlePlayerAction(ctx, id, s.manager.OfferDraw)
	case method == fasthttp.MethodPost && action == "draw/accept":
		s.handlePlayerAction(ctx, id, s.manager.AcceptDraw)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) handleGameTypes(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: s.types.List()})
}

func (s *Server) handleListGames(ctx *fasthttp.RequestCtx) {
	f := session.Filter{
		Status:      session.Status(string(ctx.QueryArgs().Peek("status"))),
		Participant: string(ctx.QueryArgs().Peek("player")),
		GameType:    string(ctx.QueryArgs().Peek("type")),
	}
	sessions, err := s.store.ListActive(reqCtx(ctx), f)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: sessions})
}

func (s *Server) handleCreateGame(ctx *fasthttp.RequestCtx) {
	var req arenadto.CreateGameRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.manager.Create(reqCtx(ctx), session.CreateParams{
		White:       req.White,
		Black:       req.Black,
		GameType:    req.GameType,
		WhiteRating: req.WhiteRating,
		BlackRating: req.BlackRating,
	})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, arenadto.Envelope{Success: true, Data: sess})
}

// handleGetGame checks the clock before replying so a flagged session is
// never reported as still active.
func (s *Server) handleGetGame(ctx *fasthttp.RequestCtx, id string) {
	sess, _, err := s.manager.CheckTimeout(reqCtx(ctx), id)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: sess})
}

func (s *Server) handleJoin(ctx *fasthttp.RequestCtx, id string) {
	var req arenadto.JoinGameRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.manager.Join(reqCtx(ctx), id, req.PlayerID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: sess})
}

func (s *Server) handleMove(ctx *fasthttp.RequestCtx, id string) {
	var req arenadto.MoveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.manager.ApplyMove(reqCtx(ctx), id, req.PlayerID, rules.MoveRequest{
		Notation:  req.Move,
		From:      req.From,
		To:        req.To,
		Promotion: req.Promotion,
	})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: sess})
}

func (s *Server) handlePlayerAction(ctx *fasthttp.RequestCtx, id string, op func(context.Context, string, string) (*session.Session, error)) {
	var req arenadto.PlayerRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := op(reqCtx(ctx), id, req.PlayerID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, arenadto.Envelope{Success: true, Data: sess})
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == fasthttp.StatusInternalServerError {
		obslog.L().Error("http_internal_error", zap.ByteString("path", ctx.Path()), zap.Error(err))
		msg = "internal error"
	}
	writeError(ctx, status, msg)
}

// statusFor maps domain errors onto HTTP codes. Unknown errors stay 500
// and are not leaked to clients.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, session.ErrNotAPlayer), errors.Is(err, session.ErrOwnOffer):
		return fasthttp.StatusForbidden
	case errors.Is(err, session.ErrUnknownGameType),
		errors.Is(err, session.ErrInvalidArgs),
		errors.Is(err, session.ErrIllegalMove),
		errors.Is(err, session.ErrNotYourTurn),
		errors.Is(err, session.ErrGameOver),
		errors.Is(err, session.ErrNotJoinable),
		errors.Is(err, session.ErrAlreadyInSession),
		errors.Is(err, session.ErrNoOffer):
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	raw, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success":false,"error":"internal error"}`)
		return
	}
	ctx.SetBody(raw)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, arenadto.Envelope{Success: false, Error: msg})
}

// reqCtx narrows the fasthttp request context to context.Context.
func reqCtx(ctx *fasthttp.RequestCtx) context.Context {
	return ctx
}
