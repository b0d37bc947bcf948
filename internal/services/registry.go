package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"event-ticketing-checkout/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultSessionTTL is how long an idle checkout session is kept
const DefaultSessionTTL = 15 * time.Minute

// SessionRegistry keeps checkout sessions in memory and expires idle ones
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*CheckoutSession
	deps     SessionDeps
	ttl      time.Duration
	now      func() time.Time
	logger   log.FieldLogger
}

// NewSessionRegistry creates a new session registry
func NewSessionRegistry(deps SessionDeps, ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}

	return &SessionRegistry{
		sessions: make(map[string]*CheckoutSession),
		deps:     deps,
		ttl:      ttl,
		now:      deps.Now,
		logger:   deps.Logger.WithField("component", "session_registry"),
	}
}

// Start loads an event's offerings and opens a new session for it
func (r *SessionRegistry) Start(ctx context.Context, cred models.Credential, eventID string) (*CheckoutSession, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, models.NewCheckoutError(models.KindValidation, "An event is required.", nil)
	}

	offerings, err := r.deps.Backend.GetTicketOfferings(ctx, cred, eventID)
	if err != nil {
		return nil, err
	}
	for i := range offerings {
		if err := offerings[i].Validate(); err != nil {
			return nil, models.NewCheckoutError(models.KindValidation, "",
				fmt.Errorf("offering %s: %w", offerings[i].ID, err))
		}
	}

	session := NewCheckoutSession(uuid.New().String(), eventID, offerings, r.deps)
	session.owner = cred

	r.mu.Lock()
	r.sessions[session.ID()] = session
	n := len(r.sessions)
	r.mu.Unlock()

	r.deps.Metrics.SessionsChanged(n)
	r.logger.WithFields(log.Fields{
		"session_id": session.ID(),
		"event_id":   eventID,
		"offerings":  len(offerings),
	}).Info("Checkout session started")

	return session, nil
}

// Get returns a live session
func (r *SessionRegistry) Get(id string) (*CheckoutSession, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || r.expired(session) {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

// Remove drops a session and releases its open card payments
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		session.Close()
	}
	r.deps.Metrics.SessionsChanged(n)
}

// Len returns the number of sessions held
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) expired(session *CheckoutSession) bool {
	return r.now().Sub(session.LastActive()) > r.ttl
}

// Cleanup removes expired sessions and returns how many were dropped
func (r *SessionRegistry) Cleanup() int {
	r.mu.Lock()
	var removed []*CheckoutSession
	for id, session := range r.sessions {
		if r.expired(session) {
			delete(r.sessions, id)
			removed = append(removed, session)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, session := range removed {
		session.Close()
	}

	if len(removed) > 0 {
		r.deps.Metrics.SessionsChanged(n)
		r.logger.WithField("removed", len(removed)).Debug("Expired checkout sessions removed")
	}
	return len(removed)
}

// Run removes expired sessions every interval until ctx is done
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}
