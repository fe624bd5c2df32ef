package matchmaking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-arena/internal/gametype"
)

// matchMarkerTTL bounds how long a found-match pointer stays readable for
// a participant that polls late.
const matchMarkerTTL = 120 * time.Second

// pendingMatch is the marker value between the claim of a pair and the
// session create that follows it.
const pendingMatch = "pending"

// Queue is the Redis-backed waiting pool, one hash per game type. A
// participant holds at most one entry across all pools.
type Queue struct {
	rdb     *redis.Client
	types   *gametype.Catalog
	timeout time.Duration
}

func NewQueue(rdb *redis.Client, types *gametype.Catalog, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Queue{rdb: rdb, types: types, timeout: timeout}
}

func (q *Queue) keyQueue(gameTypeID string) string { return "matchmaking:queue:" + gameTypeID }
func (q *Queue) keyTimeout(pid string) string      { return "matchmaking:timeout:" + pid }
func (q *Queue) keyMatch(pid string) string        { return "matchmaking:match:" + pid }

// Timeout returns the queue's residency limit.
func (q *Queue) Timeout() time.Duration { return q.timeout }

// Enqueue adds the participant to one game type's pool. A second enqueue
// for the same type is rejected; for a different type it moves the entry,
// keeping membership single across pools.
func (q *Queue) Enqueue(ctx context.Context, participantID string, rating int, gameTypeID string) error {
	if _, ok := q.types.Get(gameTypeID); !ok {
		return ErrUnknownGameType
	}
	gameID, err := q.matchedGame(ctx, participantID)
	if err != nil {
		return err
	}
	if gameID != "" {
		return ErrAlreadyMatched
	}

	for _, gt := range q.types.List() {
		exists, err := q.rdb.HExists(ctx, q.keyQueue(gt.ID), participantID).Result()
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if gt.ID == gameTypeID {
			return ErrAlreadyQueued
		}
		if err := q.rdb.HDel(ctx, q.keyQueue(gt.ID), participantID).Err(); err != nil {
			return err
		}
	}

	entry := Entry{
		Rating:     rating,
		EnqueuedAt: time.Now().UnixMilli(),
		GameType:   gameTypeID,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := q.rdb.HSet(ctx, q.keyQueue(gameTypeID), participantID, raw).Err(); err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.keyTimeout(participantID), gameTypeID, q.timeout).Err()
}

// Dequeue removes the participant from whatever pool holds it. Returns
// false when no entry existed; ErrAlreadyMatched when a match marker is
// present, since the pairing already happened.
func (q *Queue) Dequeue(ctx context.Context, participantID string) (bool, error) {
	gameID, err := q.matchedGame(ctx, participantID)
	if err != nil {
		return false, err
	}
	if gameID != "" {
		return false, ErrAlreadyMatched
	}

	removed := false
	for _, gt := range q.types.List() {
		n, err := q.rdb.HDel(ctx, q.keyQueue(gt.ID), participantID).Result()
		if err != nil {
			return removed, err
		}
		if n > 0 {
			removed = true
		}
	}
	_ = q.rdb.Del(ctx, q.keyTimeout(participantID)).Err()
	return removed, nil
}

// Status reports matched, waiting or idle for the participant.
func (q *Queue) Status(ctx context.Context, participantID string) (StatusInfo, error) {
	gameID, err := q.matchedGame(ctx, participantID)
	if err != nil {
		return StatusInfo{}, err
	}
	if gameID != "" {
		// A pending claim is matched with the session id still to come;
		// the client polls again for it.
		if gameID == pendingMatch {
			gameID = ""
		}
		return StatusInfo{State: StateMatched, GameID: gameID}, nil
	}

	for _, gt := range q.types.List() {
		raw, err := q.rdb.HGet(ctx, q.keyQueue(gt.ID), participantID).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return StatusInfo{}, err
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		waiting := time.Now().UnixMilli() - entry.EnqueuedAt
		if waiting < 0 {
			waiting = 0
		}
		return StatusInfo{State: StateWaiting, GameType: gt.ID, WaitingMs: waiting}, nil
	}
	return StatusInfo{State: StateIdle}, nil
}

// Snapshot returns all entries of one pool. Order is unspecified; callers
// sort by enqueue time.
func (q *Queue) Snapshot(ctx context.Context, gameTypeID string) ([]QueuedPlayer, error) {
	all, err := q.rdb.HGetAll(ctx, q.keyQueue(gameTypeID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]QueuedPlayer, 0, len(all))
	for pid, raw := range all {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, QueuedPlayer{ID: pid, Entry: entry})
	}
	return out, nil
}

// RemoveEntries deletes the given participants from one pool plus their
// timeout keys.
func (q *Queue) RemoveEntries(ctx context.Context, gameTypeID string, participantIDs ...string) error {
	if len(participantIDs) == 0 {
		return nil
	}
	if err := q.rdb.HDel(ctx, q.keyQueue(gameTypeID), participantIDs...).Err(); err != nil {
		return err
	}
	for _, pid := range participantIDs {
		_ = q.rdb.Del(ctx, q.keyTimeout(pid)).Err()
	}
	return nil
}

// ClaimEntry removes one entry from its pool, reporting whether it was
// still present. Pairing claims both entries before creating the session
// so a concurrent Dequeue cannot cancel a pairing already underway.
func (q *Queue) ClaimEntry(ctx context.Context, gameTypeID, participantID string) (bool, error) {
	n, err := q.rdb.HDel(ctx, q.keyQueue(gameTypeID), participantID).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	_ = q.rdb.Del(ctx, q.keyTimeout(participantID)).Err()
	return true, nil
}

// Restore returns a claimed entry to its pool, keeping the original
// enqueue time.
func (q *Queue) Restore(ctx context.Context, participantID string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := q.rdb.HSet(ctx, q.keyQueue(entry.GameType), participantID, raw).Err(); err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.keyTimeout(participantID), entry.GameType, q.timeout).Err()
}

// MarkPending reserves the participant's match marker before the session
// id is known, so cancels are refused during the create.
func (q *Queue) MarkPending(ctx context.Context, participantID string) error {
	return q.rdb.Set(ctx, q.keyMatch(participantID), pendingMatch, matchMarkerTTL).Err()
}

// MarkMatched leaves a short-lived pointer from participant to game so a
// poll after pairing finds the session.
func (q *Queue) MarkMatched(ctx context.Context, participantID, gameID string) error {
	return q.rdb.Set(ctx, q.keyMatch(participantID), gameID, matchMarkerTTL).Err()
}

// ClearMatched drops the pointer once the participant acknowledged it.
func (q *Queue) ClearMatched(ctx context.Context, participantID string) error {
	return q.rdb.Del(ctx, q.keyMatch(participantID)).Err()
}

func (q *Queue) matchedGame(ctx context.Context, participantID string) (string, error) {
	gameID, err := q.rdb.Get(ctx, q.keyMatch(participantID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return gameID, nil
}
