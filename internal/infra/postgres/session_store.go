package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"battle-service/internal/domain"
	"github.com/uptrace/bun"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions"`

	ID               string              `bun:"id,pk"`
	Mode             string              `bun:"mode,notnull"`
	Status           string              `bun:"status,notnull"`
	RoomCode         string              `bun:"room_code,nullzero"`
	Players          []domain.PlayerSlot `bun:"players,type:jsonb"`
	ContentRefs      []string            `bun:"content_refs,type:jsonb"`
	TotalUnits       int                 `bun:"total_units"`
	TimeLimitSeconds int                 `bun:"time_limit_seconds"`
	StartTime        *time.Time          `bun:"start_time"`
	EndTime          *time.Time          `bun:"end_time"`
	Winner           string              `bun:"winner,nullzero"`
	Result           string              `bun:"result,notnull"`
	CreatedAt        time.Time           `bun:"created_at,notnull"`
}

func toSessionRow(s domain.Session) sessionRow {
	players := s.Players
	if players == nil {
		players = []domain.PlayerSlot{}
	}
	refs := s.ContentRefs
	if refs == nil {
		refs = []string{}
	}
	return sessionRow{
		ID:               s.ID,
		Mode:             string(s.Mode),
		Status:           string(s.Status),
		RoomCode:         s.RoomCode,
		Players:          players,
		ContentRefs:      refs,
		TotalUnits:       s.TotalUnits,
		TimeLimitSeconds: s.TimeLimitSeconds,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Winner:           s.Winner,
		Result:           string(s.Result),
		CreatedAt:        s.CreatedAt,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:               r.ID,
		Mode:             domain.Mode(r.Mode),
		Status:           domain.Status(r.Status),
		RoomCode:         r.RoomCode,
		Players:          r.Players,
		ContentRefs:      r.ContentRefs,
		TotalUnits:       r.TotalUnits,
		TimeLimitSeconds: r.TimeLimitSeconds,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		Winner:           r.Winner,
		Result:           domain.Result(r.Result),
		CreatedAt:        r.CreatedAt,
	}
}

// SessionStore persists sessions in Postgres; player slots live in a JSONB column.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	row := toSessionRow(session)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	row := toSessionRow(session)
	res, err := s.db.NewUpdate().Model(&row).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) FindWaiting(ctx context.Context, mode domain.Mode) ([]domain.Session, error) {
	var rows []sessionRow
	err := s.db.NewSelect().Model(&rows).
		Where("mode = ?", string(mode)).
		Where("status = ?", string(domain.StatusWaiting)).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select waiting: %w", err)
	}
	return toDomainSessions(rows), nil
}

func (s *SessionStore) FindByRoomCode(ctx context.Context, code string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("room_code = ?", code).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select room: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ActiveForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	member, err := json.Marshal([]map[string]string{{"userId": userID}})
	if err != nil {
		return nil, err
	}
	var rows []sessionRow
	err = s.db.NewSelect().Model(&rows).
		Where("status IN (?)", bun.In([]string{string(domain.StatusWaiting), string(domain.StatusOngoing)})).
		Where("players @> ?::jsonb", string(member)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select active: %w", err)
	}
	return toDomainSessions(rows), nil
}

func toDomainSessions(rows []sessionRow) []domain.Session {
	out := make([]domain.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}
