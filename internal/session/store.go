// Package session persists dashboard client sessions, one JSON file each.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindHTTP      Kind = "http"
)

const reasonRecovered = "recovered"

type Session struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	RemoteAddr       string     `json:"remoteAddr,omitempty"`
	UserAgent        string     `json:"userAgent,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	LastSeenAt       time.Time  `json:"lastSeenAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	EndReason        string     `json:"endReason,omitempty"`
	MessagesSent     int64      `json:"messagesSent"`
	MessagesReceived int64      `json:"messagesReceived"`
}

func (s *Session) Active() bool { return s.EndedAt == nil }

type Store struct {
	dir       string
	logger    *logging.AppLogger
	now       func() time.Time
	recovered int

	mu       sync.Mutex
	sessions map[string]*Session
}

// Open loads the sessions under dir. Sessions still open from a previous
// process are closed with reason "recovered".
func Open(ctx context.Context, dir string, logger *logging.AppLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: map[string]*Session{},
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping unreadable session", "file", name, "error", err)
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil || sess.ID == "" {
			logger.Warn("Skipping corrupt session", "file", name)
			continue
		}
		if sess.Active() {
			end := sess.LastSeenAt
			if end.IsZero() {
				end = sess.StartedAt
			}
			sess.EndedAt = &end
			sess.EndReason = reasonRecovered
			if err := s.persist(ctx, &sess); err != nil {
				return nil, err
			}
			s.recovered++
		}
		s.sessions[sess.ID] = &sess
	}
	if s.recovered > 0 {
		logger.Info("Recovered unfinished sessions", "count", s.recovered)
	}
	return s, nil
}

// Recovered reports how many sessions Open had to close.
func (s *Store) Recovered() int { return s.recovered }

func (s *Store) Start(ctx context.Context, kind Kind, remoteAddr, userAgent string) (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		Kind:       kind,
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		StartedAt:  now,
		LastSeenAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

// Touch adds message counts to an active session.
func (s *Store) Touch(ctx context.Context, id string, sent, received int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !sess.Active() {
		return nil
	}
	sess.MessagesSent += sent
	sess.MessagesReceived += received
	sess.LastSeenAt = s.now()
	return s.persist(ctx, sess)
}

// End closes a session. Ending an ended session is a no-op.
func (s *Store) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !sess.Active() {
		return nil
	}
	now := s.now()
	sess.LastSeenAt = now
	sess.EndedAt = &now
	sess.EndReason = "closed"
	return s.persist(ctx, sess)
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// List returns sessions newest first.
func (s *Store) List(activeOnly bool) []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if activeOnly && !sess.Active() {
			continue
		}
		out = append(out, *sess)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Prune deletes ended sessions that ended more than maxAge ago, then the
// oldest ended sessions until at most maxCount remain. Active sessions are
// never pruned. Zero disables either limit.
func (s *Store) Prune(maxAge time.Duration, maxCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ended []*Session
	for _, sess := range s.sessions {
		if !sess.Active() {
			ended = append(ended, sess)
		}
	}
	slices.SortFunc(ended, func(a, b *Session) int {
		if c := a.EndedAt.Compare(*b.EndedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	cutoff := s.now().Add(-maxAge)
	total := len(s.sessions)
	removed := 0
	for _, sess := range ended {
		expired := maxAge > 0 && sess.EndedAt.Before(cutoff)
		over := maxCount > 0 && total-removed > maxCount
		if !expired && !over {
			continue
		}
		if err := os.Remove(s.path(sess.ID)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove session %s: %w", sess.ID, err)
		}
		delete(s.sessions, sess.ID)
		removed++
	}
	return removed, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) persist(ctx context.Context, sess *Session) error {
	if err := fileops.AtomicWriteJSON(ctx, s.path(sess.ID), sess, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	return nil
}
