package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"battle-service/internal/domain"
	"github.com/uptrace/bun"
)

type ratingRow struct {
	bun.BaseModel `bun:"table:user_ratings"`

	UserID     string             `bun:"user_id,pk"`
	Mode       string             `bun:"mode,pk"`
	Rating     int                `bun:"rating,notnull"`
	Played     int                `bun:"played"`
	Won        int                `bun:"won"`
	Lost       int                `bun:"lost"`
	Tied       int                `bun:"tied"`
	RecentForm []domain.FormEntry `bun:"recent_form,type:jsonb"`
	UpdatedAt  time.Time          `bun:"updated_at,notnull"`
}

func toRatingRow(r domain.Rating, at time.Time) ratingRow {
	form := r.RecentForm
	if form == nil {
		form = []domain.FormEntry{}
	}
	return ratingRow{
		UserID:     r.UserID,
		Mode:       string(r.Mode),
		Rating:     r.Rating,
		Played:     r.Played,
		Won:        r.Won,
		Lost:       r.Lost,
		Tied:       r.Tied,
		RecentForm: form,
		UpdatedAt:  at,
	}
}

func (r ratingRow) toDomain() domain.Rating {
	return domain.Rating{
		UserID:     r.UserID,
		Mode:       domain.Mode(r.Mode),
		Rating:     r.Rating,
		Played:     r.Played,
		Won:        r.Won,
		Lost:       r.Lost,
		Tied:       r.Tied,
		RecentForm: r.RecentForm,
	}
}

// ratedSessionRow records that a session's outcomes were folded into ratings.
type ratedSessionRow struct {
	bun.BaseModel `bun:"table:rated_sessions"`

	SessionID string    `bun:"session_id,pk"`
	Mode      string    `bun:"mode,notnull"`
	RatedAt   time.Time `bun:"rated_at,notnull"`
}

// RatingStore keeps per-mode ratings in Postgres. ApplyOutcomes updates every
// player of a session in one transaction, locking rows in user order so
// concurrent sessions never lose an update or deadlock.
type RatingStore struct {
	db         *bun.DB
	initial    int
	formLength int
}

func NewRatingStore(db *bun.DB, cfg domain.RatingConfig) *RatingStore {
	return &RatingStore{db: db, initial: cfg.Initial, formLength: cfg.FormLength}
}

func (s *RatingStore) LoadRating(ctx context.Context, userID string, mode domain.Mode) (domain.Rating, error) {
	var row ratingRow
	err := s.db.NewSelect().Model(&row).
		Where("user_id = ?", userID).
		Where("mode = ?", string(mode)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewRating(userID, mode, s.initial), nil
	}
	if err != nil {
		return domain.Rating{}, fmt.Errorf("select rating: %w", err)
	}
	return row.toDomain(), nil
}

func (s *RatingStore) ApplyOutcomes(ctx context.Context, mode domain.Mode, outcomes []domain.Outcome) ([]domain.Rating, error) {
	if len(outcomes) == 0 {
		return []domain.Rating{}, nil
	}
	ordered := append([]domain.Outcome(nil), outcomes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UserID < ordered[j].UserID })

	byUser := make(map[string]domain.Rating, len(ordered))
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		mark := ratedSessionRow{SessionID: ordered[0].SessionID, Mode: string(mode), RatedAt: now}
		res, err := tx.NewInsert().Model(&mark).On("CONFLICT (session_id) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark session rated: %w", err)
		}
		fresh, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark session rated: %w", err)
		}

		for _, o := range ordered {
			seed := toRatingRow(domain.NewRating(o.UserID, mode, s.initial), now)
			if _, err := tx.NewInsert().Model(&seed).On("CONFLICT (user_id, mode) DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("seed rating: %w", err)
			}

			var row ratingRow
			err := tx.NewSelect().Model(&row).
				Where("user_id = ?", o.UserID).
				Where("mode = ?", string(mode)).
				For("UPDATE").
				Scan(ctx)
			if err != nil {
				return fmt.Errorf("lock rating: %w", err)
			}
			if fresh == 0 {
				byUser[o.UserID] = row.toDomain()
				continue
			}

			updated := row.toDomain().Apply(o, s.formLength)
			next := toRatingRow(updated, now)
			if _, err := tx.NewUpdate().Model(&next).WherePK().Exec(ctx); err != nil {
				return fmt.Errorf("update rating: %w", err)
			}
			byUser[o.UserID] = updated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Rating, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, byUser[o.UserID])
	}
	return out, nil
}
