// Package arenadto holds the wire types shared by the HTTP API and the
// websocket gateway. It depends on nothing internal so external clients
// can vendor it.
package arenadto

// Command is an inbound websocket message.
type Command struct {
	Type      string `json:"type"`
	GameType  string `json:"gameType,omitempty"`
	GameID    string `json:"gameId,omitempty"`
	Move      string `json:"move,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// Websocket command types.
const (
	CmdFindMatch        = "find-match"
	CmdCancelMatch      = "cancel-matchmaking"
	CmdCheckMatchStatus = "check-match-status"
	CmdJoinGame         = "join-game"
	CmdMakeMove         = "make-move"
	CmdResign           = "resign"
	CmdOfferDraw        = "offer-draw"
	CmdAcceptDraw       = "accept-draw"
)

// Event is an outbound websocket message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Websocket event types.
const (
	EvtMatchmakingStatus  = "matchmaking-status"
	EvtSessionJoined      = "session-joined"
	EvtSessionUpdated     = "session-updated"
	EvtSessionEnded       = "session-ended"
	EvtPlayerDisconnected = "player-disconnected"
	EvtError              = "error"
)

// MatchmakingStatus reports queue progress to one participant.
type MatchmakingStatus struct {
	State     string `json:"state"`
	GameID    string `json:"gameId,omitempty"`
	GameType  string `json:"gameType,omitempty"`
	WaitingMs int64  `json:"waitingMs,omitempty"`
}

// SessionEnded announces a terminal transition.
type SessionEnded struct {
	GameID string `json:"gameId"`
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PlayerDisconnected tells the remaining participant the other side's
// connection dropped. The session itself stays live.
type PlayerDisconnected struct {
	GameID        string `json:"gameId"`
	ParticipantID string `json:"participantId"`
}

// ErrorPayload carries a rejected command's reason.
type ErrorPayload struct {
	Message string `json:"message"`
}
