package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/postgres"
)

type SessionService struct {
	sessionRepo *postgres.SessionRepository
}

func NewSessionService(sessionRepo *postgres.SessionRepository) *SessionService {
	return &SessionService{sessionRepo: sessionRepo}
}

// CreateSession registers a planned session for the calling user.
func (s *SessionService) CreateSession(ctx context.Context, hostUserID, courseName, topic string, scheduledStart time.Time) (*domain.Session, error) {
	courseName = strings.TrimSpace(courseName)
	topic = strings.TrimSpace(topic)
	if courseName == "" {
		return nil, errors.New("empty course name")
	}
	if scheduledStart.IsZero() {
		scheduledStart = time.Now()
	}

	sess := &domain.Session{
		HostUserID:     hostUserID,
		CourseName:     courseName,
		Topic:          topic,
		ScheduledStart: scheduledStart,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("sessionRepo.Create: %w", err)
	}
	return sess, nil
}

// GetSession returns the session by ID.
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.sessionRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// ListSessions returns sessions ordered newest-first with cursor pagination.
func (s *SessionService) ListSessions(ctx context.Context, limit int, cursor string) ([]domain.Session, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	sessions, nextCursor, err := s.sessionRepo.List(ctx, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	return sessions, nextCursor, nil
}
