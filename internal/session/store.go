package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists session aggregates and the small derived indices in Redis.
// Writes are last-writer-wins; the Manager layers read-modify-write
// atomicity on top via per-session locks.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyState(id string) string   { return "game:" + strings.TrimSpace(id) + ":state" }
func (s *Store) keyPlayers(id string) string { return "game:" + strings.TrimSpace(id) + ":players" }
func (s *Store) keyOnline() string           { return "users:online" }

// Save writes the full aggregate and refreshes the TTL of the record and
// its participant set. The aggregate is marshaled in one piece so a reader
// never observes a torn moves/position pair.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyState(sess.ID), raw, ttl).Err(); err != nil {
		return err
	}
	_ = s.rdb.Expire(ctx, s.keyPlayers(sess.ID), ttl).Err()
	return nil
}

// Load fetches one session. Returns ErrNotFound for missing or expired ids.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keyState(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// AddParticipant records membership in the session's participant set.
func (s *Store) AddParticipant(ctx context.Context, id, participantID string, ttl time.Duration) error {
	if strings.TrimSpace(participantID) == "" {
		return nil
	}
	if err := s.rdb.SAdd(ctx, s.keyPlayers(id), participantID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyPlayers(id), ttl).Err()
}

func (s *Store) IsParticipant(ctx context.Context, id, participantID string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.keyPlayers(id), participantID).Result()
}

// Filter narrows ListActive. Zero values match everything.
type Filter struct {
	Status      Status
	Participant string
	GameType    string
}

// ListActive scans all stored sessions and returns those matching the
// filter. SCAN keeps the iteration incremental on a shared Redis.
func (s *Store) ListActive(ctx context.Context, f Filter) ([]*Session, error) {
	var out []*Session
	iter := s.rdb.Scan(ctx, 0, "game:*:state", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // expired between scan and read
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			continue
		}
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if f.GameType != "" && sess.GameType != f.GameType {
			continue
		}
		if f.Participant != "" {
			if _, ok := sess.SideOf(f.Participant); !ok {
				continue
			}
		}
		out = append(out, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Presence map: online participant id -> connection reference.

func (s *Store) SetOnline(ctx context.Context, participantID, connRef string) error {
	return s.rdb.HSet(ctx, s.keyOnline(), participantID, connRef).Err()
}

func (s *Store) GetOnline(ctx context.Context, participantID string) (string, error) {
	ref, err := s.rdb.HGet(ctx, s.keyOnline(), participantID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return ref, err
}

func (s *Store) ClearOnline(ctx context.Context, participantID string) error {
	return s.rdb.HDel(ctx, s.keyOnline(), participantID).Err()
}
