// Package matchmaking pairs waiting participants by rating proximity.
// Queue state lives in Redis so any node can enqueue while one processor
// performs the actual pairing.
package matchmaking

// Entry is the stored queue record for one waiting participant.
type Entry struct {
	Rating     int    `json:"rating"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix millis
	GameType   string `json:"game_type"`
}

// QueuedPlayer pairs a participant id with its queue entry.
type QueuedPlayer struct {
	ID string
	Entry
}

// StatusInfo is a participant's view of the queue.
type StatusInfo struct {
	State     string `json:"state"` // matched, waiting, idle
	GameID    string `json:"game_id,omitempty"`
	GameType  string `json:"game_type,omitempty"`
	WaitingMs int64  `json:"waiting_ms,omitempty"`
}

const (
	StateMatched = "matched"
	StateWaiting = "waiting"
	StateIdle    = "idle"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	ErrAlreadyQueued   = staticErr("already queued for this game type")
	ErrAlreadyMatched  = staticErr("a match was already found")
	ErrUnknownGameType = staticErr("unknown game type")
)
