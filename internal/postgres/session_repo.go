package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/huddleplan/call-service/internal/domain"
)

type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (host_user_id, course_name, topic, scheduled_start)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return r.db.QueryRow(ctx, query, s.HostUserID, s.CourseName, s.Topic, s.ScheduledStart).
		Scan(&s.ID, &s.CreatedAt)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	query := `
		SELECT id, host_user_id, course_name, topic, scheduled_start, call_room_id, created_at
		FROM sessions WHERE id=$1`
	err := r.db.QueryRow(ctx, query, id).
		Scan(&s.ID, &s.HostUserID, &s.CourseName, &s.Topic, &s.ScheduledStart, &s.CallRoomID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) List(ctx context.Context, limit int, cursorStr string) ([]domain.Session, string, error) {
	cur, err := DecodeCursor(cursorStr)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT id, host_user_id, course_name, topic, scheduled_start, call_room_id, created_at
		FROM sessions
		WHERE ($1::timestamptz IS NULL OR created_at < $1
		       OR (created_at = $1 AND id < $2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	var createdAt any
	var id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, query, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.HostUserID, &s.CourseName, &s.Topic, &s.ScheduledStart, &s.CallRoomID, &s.CreatedAt); err != nil {
			return nil, "", err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(sessions) == limit {
		last := sessions[len(sessions)-1]
		nextCursor, _ = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return sessions, nextCursor, nil
}

// SetCallRoomID binds the created main room to the session record.
func (r *SessionRepository) SetCallRoomID(ctx context.Context, sessionID, roomID string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE sessions SET call_room_id=$2 WHERE id=$1`, sessionID, roomID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
