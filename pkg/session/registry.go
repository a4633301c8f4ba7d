package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/harun/companion/internal/observability"
	"github.com/harun/companion/pkg/conversation"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is the idle duration after which a session is evicted
	DefaultTTL = 30 * time.Minute

	// MaxSessionIDLength bounds caller-supplied session ids
	MaxSessionIDLength = 128
)

// Session is one ephemeral conversation. Fields are only safe to touch
// inside a Registry.Update callback.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
	History   *conversation.History
	Metadata  map[string]string
}

// MergeMetadata overwrites the keys present in md. Empty values are treated
// as not supplied and leave the stored value alone.
func (s *Session) MergeMetadata(md map[string]string) {
	for k, v := range md {
		if k == "" || v == "" {
			continue
		}
		s.Metadata[k] = v
	}
}

// Snapshot is an immutable copy of a session taken under the registry lock
type Snapshot struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	History   []conversation.Turn `json:"history"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
	Created   bool                `json:"-"`
}

func (s *Session) snapshot(created bool) Snapshot {
	md := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		md[k] = v
	}
	return Snapshot{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		History:   s.History.Turns(),
		Metadata:  md,
		Created:   created,
	}
}

// Options configures a Registry
type Options struct {
	TTL        time.Duration
	MaxHistory int
	Logger     zerolog.Logger

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// Registry is a TTL-evicted, owner-checked store of sessions
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	ttl        time.Duration
	maxHistory int
	now        func() time.Time
	newID      func() string
	logger     zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	observability.EnsureRegistered()

	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = conversation.DefaultMaxTurns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Registry{
		sessions:   make(map[string]*Session),
		ttl:        opts.TTL,
		maxHistory: opts.MaxHistory,
		now:        opts.Now,
		newID:      opts.NewID,
		logger:     opts.Logger,
	}
}

// TTL returns the idle eviction threshold
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// MaxHistory returns the per-session history bound
func (r *Registry) MaxHistory() int {
	return r.maxHistory
}

// ValidateSessionID checks a caller-supplied session id. An empty id is valid
// and means "generate one".
func ValidateSessionID(sessionID string) error {
	if len(sessionID) > MaxSessionIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionID, MaxSessionIDLength)
	}
	for _, r := range sessionID {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidSessionID)
		}
	}
	return nil
}

// Update resolves the session for sessionID and ownerID, creating it when it
// does not exist, and runs fn against it under the registry lock.
//
// Expired sessions are pruned first. An existing session owned by someone
// else yields ErrOwnershipViolation without any mutation. When fn fails a
// newly created session is discarded. On success the session is touched and
// a snapshot of its post-fn state is returned.
func (r *Registry) Update(sessionID, ownerID string, fn func(*Session) error) (Snapshot, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Snapshot{}, ErrInvalidOwner
	}
	sessionID = strings.TrimSpace(sessionID)
	if err := ValidateSessionID(sessionID); err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	sess, created, err := r.resolveLocked(sessionID, ownerID, now)
	if err != nil {
		return Snapshot{}, err
	}

	if fn != nil {
		if err := fn(sess); err != nil {
			return Snapshot{}, err
		}
	}

	sess.UpdatedAt = now
	r.sessions[sess.ID] = sess
	if created {
		observability.SetActiveSessions(len(r.sessions))
		r.logger.Debug().
			Str("session_id", sess.ID).
			Str("owner_id", ownerID).
			Msg("Session created")
	}

	return sess.snapshot(created), nil
}

// Get returns a snapshot of an existing session without touching it
func (r *Registry) Get(sessionID, ownerID string) (Snapshot, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Snapshot{}, ErrInvalidOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(r.now())

	sess, exists := r.sessions[strings.TrimSpace(sessionID)]
	if !exists {
		return Snapshot{}, ErrSessionNotFound
	}
	if sess.OwnerID != ownerID {
		return Snapshot{}, ErrOwnershipViolation
	}
	return sess.snapshot(false), nil
}

// Delete removes a session owned by ownerID
func (r *Registry) Delete(sessionID, ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrInvalidOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(r.now())

	sessionID = strings.TrimSpace(sessionID)
	sess, exists := r.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	if sess.OwnerID != ownerID {
		return ErrOwnershipViolation
	}

	delete(r.sessions, sessionID)
	observability.SetActiveSessions(len(r.sessions))
	r.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// Prune evicts every expired session and returns how many were removed
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(r.now())
}

// Count returns the number of stored sessions, expired ones included until
// the next prune
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) pruneLocked(now time.Time) int {
	pruned := 0
	for id, sess := range r.sessions {
		if now.Sub(sess.UpdatedAt) > r.ttl {
			delete(r.sessions, id)
			pruned++
		}
	}

	if pruned > 0 {
		observability.RecordSessionsPruned(pruned)
		observability.SetActiveSessions(len(r.sessions))
		r.logger.Debug().
			Int("pruned", pruned).
			Int("remaining", len(r.sessions)).
			Msg("Pruned expired sessions")
	}
	return pruned
}

func (r *Registry) resolveLocked(sessionID, ownerID string, now time.Time) (*Session, bool, error) {
	if sessionID != "" {
		if sess, exists := r.sessions[sessionID]; exists {
			if sess.OwnerID != ownerID {
				r.logger.Warn().
					Str("session_id", sessionID).
					Str("owner_id", ownerID).
					Msg("Rejected access to session owned by another identity")
				return nil, false, ErrOwnershipViolation
			}
			return sess, false, nil
		}
	} else {
		sessionID = r.freshIDLocked()
	}

	return &Session{
		ID:        sessionID,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
		History:   conversation.NewHistory(r.maxHistory),
		Metadata:  make(map[string]string),
	}, true, nil
}

func (r *Registry) freshIDLocked() string {
	for {
		id := r.newID()
		if _, taken := r.sessions[id]; !taken && id != "" {
			return id
		}
	}
}
