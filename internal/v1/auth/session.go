package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const sessionShardCount = 16

// Session binds one agent to the room it last registered or reconnected
// into, along with the opaque token it must present on every subsequent
// call. A token identifies an (agentId, roomId) tuple for the session's
// lifetime; LastHeartbeatMs advances only via an explicit heartbeat or a
// successful authenticated request.
type Session struct {
	AgentID         string
	RoomID          string
	Token           string
	LastHeartbeatMs int64
}

// ErrInvalidToken is returned by Authenticate/Reconnect when the presented
// token does not match the stored session.
var ErrInvalidToken = fmt.Errorf("session token mismatch")

// ErrSessionNotFound is returned when no session exists for an agent.
var ErrSessionNotFound = fmt.Errorf("session not found")

type sessionShard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// SessionStore is the process-wide registry of agent sessions. It is
// sharded by agentID hash so no single request serializes behind a global
// lock, matching the concurrency profile required of all process-wide
// shared-resource tables.
type SessionStore struct {
	shards [sessionShardCount]*sessionShard
}

// NewSessionStore builds an empty session registry.
func NewSessionStore() *SessionStore {
	s := &SessionStore{}
	for i := range s.shards {
		s.shards[i] = &sessionShard{sessions: make(map[string]*Session)}
	}
	return s
}

func (s *SessionStore) shardFor(agentID string) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return s.shards[h.Sum32()%sessionShardCount]
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// Register allocates a new agent identity and session token bound to
// roomID. The caller is responsible for creating the corresponding entity
// in the room runtime.
func (s *SessionStore) Register(roomID string, nowMs int64) (agentID, token string, err error) {
	agentID, err = randomToken("agt_")
	if err != nil {
		return "", "", err
	}
	token, err = randomToken("tok_")
	if err != nil {
		return "", "", err
	}

	shard := s.shardFor(agentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.sessions[agentID] = &Session{
		AgentID:         agentID,
		RoomID:          roomID,
		Token:           token,
		LastHeartbeatMs: nowMs,
	}
	return agentID, token, nil
}

// Authenticate validates that token matches the stored session for
// (agentID, roomID) and, if so, advances its heartbeat.
func (s *SessionStore) Authenticate(agentID, roomID, token string, nowMs int64) error {
	shard := s.shardFor(agentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[agentID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.RoomID != roomID || sess.Token != token {
		return ErrInvalidToken
	}
	sess.LastHeartbeatMs = nowMs
	return nil
}

// Reconnect validates the presented token against the stored session and
// returns it so the caller can restore (or respawn) the agent's entity.
func (s *SessionStore) Reconnect(agentID, token string, nowMs int64) (*Session, error) {
	shard := s.shardFor(agentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[agentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Token != token {
		return nil, ErrInvalidToken
	}
	sess.LastHeartbeatMs = nowMs
	cp := *sess
	return &cp, nil
}

// Heartbeat advances a session's LastHeartbeatMs. Never rate-limited.
func (s *SessionStore) Heartbeat(agentID, roomID string, nowMs int64) error {
	shard := s.shardFor(agentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[agentID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.RoomID != roomID {
		return ErrInvalidToken
	}
	sess.LastHeartbeatMs = nowMs
	return nil
}

// Unregister removes the session. The caller is responsible for emitting
// the corresponding presence.leave event.
func (s *SessionStore) Unregister(agentID string) {
	shard := s.shardFor(agentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.sessions, agentID)
}

// Get returns a copy of the stored session, if any.
func (s *SessionStore) Get(agentID string) (*Session, bool) {
	shard := s.shardFor(agentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	sess, ok := shard.sessions[agentID]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

// TimedOut returns every session whose last heartbeat is older than
// timeout, for the room runtime's periodic sweep that forces a timeout
// leave. now is provided by the caller so behavior stays deterministic in
// tests.
func (s *SessionStore) TimedOut(nowMs int64, timeout time.Duration) []Session {
	cutoff := nowMs - timeout.Milliseconds()
	var out []Session
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, sess := range shard.sessions {
			if sess.LastHeartbeatMs < cutoff {
				out = append(out, *sess)
			}
		}
		shard.mu.Unlock()
	}
	return out
}
