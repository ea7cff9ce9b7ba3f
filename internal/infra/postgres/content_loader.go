package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"battle-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ContentLoader loads question and problem JSONB from Postgres.
type ContentLoader struct {
	pool *pgxpool.Pool
}

func NewContentLoader(pool *pgxpool.Pool) *ContentLoader {
	return &ContentLoader{pool: pool}
}

func (l *ContentLoader) ListRefs(ctx context.Context, mode domain.Mode) ([]string, error) {
	table, err := contentTable(mode)
	if err != nil {
		return nil, err
	}
	rows, err := l.pool.Query(ctx, `SELECT id FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		refs = append(refs, id)
	}
	return refs, rows.Err()
}

func (l *ContentLoader) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	var q domain.Question
	if err := l.loadJSON(ctx, "questions", id, &q); err != nil {
		return domain.Question{}, err
	}
	if q.ID == "" {
		q.ID = id
	}
	return q, nil
}

func (l *ContentLoader) LoadProblem(ctx context.Context, id string) (domain.Problem, error) {
	var p domain.Problem
	if err := l.loadJSON(ctx, "problems", id, &p); err != nil {
		return domain.Problem{}, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

func (l *ContentLoader) loadJSON(ctx context.Context, table, id string, dst any) error {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM `+table+` WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrContentNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal %s %s: %w", table, id, err)
	}
	return nil
}

func contentTable(mode domain.Mode) (string, error) {
	switch mode {
	case domain.ModeRapidFire:
		return "questions", nil
	case domain.ModeCodeBattle:
		return "problems", nil
	}
	return "", domain.ErrInvalidInput
}
