package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
)

// orderSession is the in-memory customisation and generation state of one order.
type orderSession struct {
	orderID   string
	book      domain.Book
	state     domain.GenerationState
	names     map[string]string
	photos    map[string]domain.UploadedPhoto
	avatars   map[string]string
	job       *generationJob
	createdAt time.Time
	touchedAt time.Time
}

func newOrderSession(orderID string, book domain.Book, state domain.GenerationState, now time.Time) *orderSession {
	return &orderSession{
		orderID:   orderID,
		book:      book,
		state:     state,
		names:     make(map[string]string),
		photos:    make(map[string]domain.UploadedPhoto),
		avatars:   make(map[string]string),
		createdAt: now,
		touchedAt: now,
	}
}

// SessionStore keeps per-order sessions in memory. Idle sessions are dropped by
// Sweep and rehydrated from the backend on next use.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*orderSession
	clock    func() time.Time
}

// NewSessionStore constructs an empty store.
func NewSessionStore(clock func() time.Time) *SessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &SessionStore{
		sessions: make(map[string]*orderSession),
		clock:    func() time.Time { return clock().UTC() },
	}
}

// Len reports how many orders are tracked.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) put(session *orderSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.orderID] = session
}

// with runs fn against the session under the store lock.
func (s *SessionStore) with(orderID string, fn func(*orderSession) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[orderID]
	if !ok {
		return false, nil
	}
	session.touchedAt = s.clock()
	return true, fn(session)
}

// Sweep drops sessions untouched for longer than idle and returns how many
// were removed. Sessions with a running full-book job are kept.
func (s *SessionStore) Sweep(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := s.clock().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.job != nil && session.job.status == JobStatusRunning {
			continue
		}
		if session.touchedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// ensure returns after the order has a session, hydrating it from the backend
// when the process has not seen the order before.
func (s *SessionStore) ensure(ctx context.Context, api BackendAPI, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return validationError("order id is required")
	}
	s.mu.Lock()
	_, ok := s.sessions[orderID]
	s.mu.Unlock()
	if ok {
		return nil
	}

	order, err := api.OrderStatus(ctx, orderID)
	if err != nil {
		return translateBackendError(err)
	}
	code := strings.TrimSpace(order.BookCode)
	if code == "" {
		return validationError("order %s has no book code", orderID)
	}
	book, err := api.GetBook(ctx, code)
	if err != nil {
		return translateBackendError(err)
	}

	session := newOrderSession(orderID, book, hydratedState(order), s.clock())
	session.avatars = order.Avatars()
	for role, character := range order.Characters {
		if name := strings.TrimSpace(character.Name); name != "" {
			session.names[role] = name
		}
		if character.OriginalPhotoURL != "" {
			session.photos[role] = domain.UploadedPhoto{Role: role, PhotoURL: character.OriginalPhotoURL, Uploaded: true}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[orderID]; !exists {
		s.sessions[orderID] = session
	}
	return nil
}

func hydratedState(order domain.Order) domain.GenerationState {
	switch {
	case order.BookComplete:
		return domain.GenerationStateFullBookReady
	case order.PreviewGenerated:
		return domain.GenerationStatePreviewReady
	case order.AvatarsGenerated:
		return domain.GenerationStateAvatarsReady
	default:
		return domain.GenerationStateDraft
	}
}

func copyStringMap(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyPhotos(src map[string]domain.UploadedPhoto) map[string]domain.UploadedPhoto {
	out := make(map[string]domain.UploadedPhoto, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
