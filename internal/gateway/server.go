// Package gateway is the realtime surface: one websocket per participant,
// JSON commands in, JSON events out. It also receives matchmaking and
// sweep outcomes and pushes them to whoever is connected.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/session"
	"github.com/park285/chess-arena/pkg/arenadto"
)

const writeTimeout = 5 * time.Second

type client struct {
	id            string
	participantID string
	rating        int
	conn          *websocket.Conn
	writeMu       sync.Mutex
}

// Server tracks one connection per participant. A second handshake for
// the same participant supersedes the first.
type Server struct {
	manager       *session.Manager
	store         *session.Store
	queue         *matchmaking.Queue
	origin        string
	defaultRating int

	mu    sync.RWMutex
	conns map[string]*client
}

func NewServer(manager *session.Manager, store *session.Store, queue *matchmaking.Queue, allowedOrigin string, defaultRating int) *Server {
	if defaultRating <= 0 {
		defaultRating = 1200
	}
	return &Server{
		manager:       manager,
		store:         store,
		queue:         queue,
		origin:        strings.TrimSpace(allowedOrigin),
		defaultRating: defaultRating,
		conns:         make(map[string]*client),
	}
}

// Handler exposes the gateway as an http.Handler mounting /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	participantID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if participantID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}
	rating, _ := strconv.Atoi(r.URL.Query().Get("elo"))
	if rating <= 0 {
		rating = s.defaultRating
	}

	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	if s.origin == "" || s.origin == "*" {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = []string{s.origin}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("participant", participantID), zap.Error(err))
		return
	}

	c := &client{
		id:            uuid.NewString(),
		participantID: participantID,
		rating:        rating,
		conn:          conn,
	}
	s.register(r.Context(), c)
	obslog.L().Info("ws_connected", zap.String("participant", participantID), zap.String("conn_id", c.id))

	ctx := r.Context()
	defer s.unregister(c)

	for {
		var cmd arenadto.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		s.dispatch(ctx, c, cmd)
	}
}

func (s *Server) register(ctx context.Context, c *client) {
	s.mu.Lock()
	prev := s.conns[c.participantID]
	s.conns[c.participantID] = c
	s.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close(websocket.StatusPolicyViolation, "superseded by newer connection")
	}
	if err := s.store.SetOnline(ctx, c.participantID, c.id); err != nil {
		obslog.L().Warn("ws_presence_error", zap.String("participant", c.participantID), zap.Error(err))
	}
}

// unregister cleans up after a dropped connection: presence, queue entry,
// and a courtesy note to opponents in live sessions. Superseded
// connections leave the newer registration untouched.
func (s *Server) unregister(c *client) {
	s.mu.Lock()
	current := s.conns[c.participantID]
	superseded := current != nil && current.id != c.id
	if !superseded {
		delete(s.conns, c.participantID)
	}
	s.mu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	if superseded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.ClearOnline(ctx, c.participantID); err != nil {
		obslog.L().Warn("ws_presence_error", zap.String("participant", c.participantID), zap.Error(err))
	}
	if _, err := s.queue.Dequeue(ctx, c.participantID); err != nil && !errors.Is(err, matchmaking.ErrAlreadyMatched) {
		obslog.L().Warn("ws_dequeue_error", zap.String("participant", c.participantID), zap.Error(err))
	}

	sessions, err := s.store.ListActive(ctx, session.Filter{Status: session.StatusActive, Participant: c.participantID})
	if err != nil {
		obslog.L().Warn("ws_disconnect_scan_error", zap.String("participant", c.participantID), zap.Error(err))
	}
	for _, sess := range sessions {
		opponent := sess.Opponent(c.participantID)
		if opponent == "" {
			continue
		}
		s.sendTo(opponent, arenadto.Event{
			Type: arenadto.EvtPlayerDisconnected,
			Data: arenadto.PlayerDisconnected{GameID: sess.ID, ParticipantID: c.participantID},
		})
	}
	obslog.L().Info("ws_disconnected", zap.String("participant", c.participantID), zap.String("conn_id", c.id))
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd arenadto.Command) {
	switch cmd.Type {
	case arenadto.CmdFindMatch:
		s.handleFindMatch(ctx, c, cmd)
	case arenadto.CmdCancelMatch:
		s.handleCancelMatch(ctx, c)
	case arenadto.CmdCheckMatchStatus:
		s.handleMatchStatus(ctx, c)
	case arenadto.CmdJoinGame:
		s.handleJoin(ctx, c, cmd)
	case arenadto.CmdMakeMove:
		s.handleMove(ctx, c, cmd)
	case arenadto.CmdResign:
		s.withSession(c, cmd, func() (*session.Session, error) {
			return s.manager.Resign(ctx, cmd.GameID, c.participantID)
		})
	case arenadto.CmdOfferDraw:
		s.withSession(c, cmd, func() (*session.Session, error) {
			return s.manager.OfferDraw(ctx, cmd.GameID, c.participantID)
		})
	case arenadto.CmdAcceptDraw:
		s.withSession(c, cmd, func() (*session.Session, error) {
			return s.manager.AcceptDraw(ctx, cmd.GameID, c.participantID)
		})
	default:
		s.sendError(c, "unknown command: "+cmd.Type)
	}
}

func (s *Server) handleFindMatch(ctx context.Context, c *client, cmd arenadto.Command) {
	err := s.queue.Enqueue(ctx, c.participantID, c.rating, cmd.GameType)
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyMatched):
		s.handleMatchStatus(ctx, c)
		return
	case err != nil:
		s.sendError(c, err.Error())
		return
	}
	s.send(c, arenadto.Event{
		Type: arenadto.EvtMatchmakingStatus,
		Data: arenadto.MatchmakingStatus{State: matchmaking.StateWaiting, GameType: cmd.GameType},
	})
}

func (s *Server) handleCancelMatch(ctx context.Context, c *client) {
	if _, err := s.queue.Dequeue(ctx, c.participantID); err != nil && !errors.Is(err, matchmaking.ErrAlreadyMatched) {
		s.sendError(c, err.Error())
		return
	}
	s.send(c, arenadto.Event{
		Type: arenadto.EvtMatchmakingStatus,
		Data: arenadto.MatchmakingStatus{State: matchmaking.StateIdle},
	})
}

func (s *Server) handleMatchStatus(ctx context.Context, c *client) {
	st, err := s.queue.Status(ctx, c.participantID)
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	s.send(c, arenadto.Event{
		Type: arenadto.EvtMatchmakingStatus,
		Data: arenadto.MatchmakingStatus{
			State:     st.State,
			GameID:    st.GameID,
			GameType:  st.GameType,
			WaitingMs: st.WaitingMs,
		},
	})
}

func (s *Server) handleJoin(ctx context.Context, c *client, cmd arenadto.Command) {
	sess, err := s.manager.Join(ctx, cmd.GameID, c.participantID)
	if errors.Is(err, session.ErrAlreadyInSession) {
		// Rejoin after a reconnect: reply with the current state.
		sess, err = s.manager.Get(ctx, cmd.GameID)
		if err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.send(c, arenadto.Event{Type: arenadto.EvtSessionJoined, Data: sess})
		return
	}
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	s.send(c, arenadto.Event{Type: arenadto.EvtSessionJoined, Data: sess})
	if opponent := sess.Opponent(c.participantID); opponent != "" {
		s.sendTo(opponent, arenadto.Event{Type: arenadto.EvtSessionUpdated, Data: sess})
	}
}

func (s *Server) handleMove(ctx context.Context, c *client, cmd arenadto.Command) {
	sess, err := s.manager.ApplyMove(ctx, cmd.GameID, c.participantID, rules.MoveRequest{
		Notation:  cmd.Move,
		From:      cmd.From,
		To:        cmd.To,
		Promotion: cmd.Promotion,
	})
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	s.broadcast(sess, arenadto.Event{Type: arenadto.EvtSessionUpdated, Data: sess})
	if sess.Status.Terminal() {
		s.broadcastEnded(sess)
	}
}

// withSession runs one session mutation and broadcasts the result.
func (s *Server) withSession(c *client, cmd arenadto.Command, op func() (*session.Session, error)) {
	sess, err := op()
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	s.broadcast(sess, arenadto.Event{Type: arenadto.EvtSessionUpdated, Data: sess})
	if sess.Status.Terminal() {
		s.broadcastEnded(sess)
	}
}

// MatchFound implements matchmaking.Notifier.
func (s *Server) MatchFound(ctx context.Context, participantID string, sess *session.Session) {
	s.sendTo(participantID, arenadto.Event{
		Type: arenadto.EvtMatchmakingStatus,
		Data: arenadto.MatchmakingStatus{State: matchmaking.StateMatched, GameID: sess.ID, GameType: sess.GameType},
	})
	s.sendTo(participantID, arenadto.Event{Type: arenadto.EvtSessionJoined, Data: sess})
}

// QueueTimeout implements matchmaking.Notifier.
func (s *Server) QueueTimeout(ctx context.Context, participantID string) {
	s.sendTo(participantID, arenadto.Event{
		Type: arenadto.EvtMatchmakingStatus,
		Data: arenadto.MatchmakingStatus{State: matchmaking.StateIdle},
	})
}

// SessionEnded implements session.EndNotifier for sweep transitions.
func (s *Server) SessionEnded(ctx context.Context, sess *session.Session) {
	s.broadcastEnded(sess)
}

func (s *Server) broadcastEnded(sess *session.Session) {
	s.broadcast(sess, arenadto.Event{
		Type: arenadto.EvtSessionEnded,
		Data: arenadto.SessionEnded{
			GameID: sess.ID,
			Status: string(sess.Status),
			Winner: string(sess.Winner),
			Reason: sess.EndReason,
		},
	})
}

func (s *Server) broadcast(sess *session.Session, evt arenadto.Event) {
	for _, pid := range []string{sess.White, sess.Black} {
		if pid != "" {
			s.sendTo(pid, evt)
		}
	}
}

func (s *Server) sendTo(participantID string, evt arenadto.Event) {
	s.mu.RLock()
	c := s.conns[participantID]
	s.mu.RUnlock()
	if c != nil {
		s.send(c, evt)
	}
}

func (s *Server) send(c *client, evt arenadto.Event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, evt); err != nil {
		obslog.L().Warn("ws_write_error", zap.String("participant", c.participantID), zap.Error(err))
	}
}

func (s *Server) sendError(c *client, msg string) {
	s.send(c, arenadto.Event{Type: arenadto.EvtError, Data: arenadto.ErrorPayload{Message: msg}})
}

// Shutdown closes every connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*client, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*client)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}
