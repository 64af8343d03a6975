package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pubflow/publications-platform/internal/publication/domain"
	"github.com/pubflow/publications-platform/pkg/outbox"
)

type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	events *OutboxStore
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, events *OutboxStore) *Repository {
	return &Repository{log: log, pool: pool, events: events}
}

func (r *Repository) SaveSubmission(ctx context.Context, pub domain.Publication, event outbox.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO publications (id, title, abstract, author_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pub.ID, pub.Title, pub.Abstract, pub.AuthorID, string(pub.Status), pub.CreatedAt, pub.UpdatedAt)
	if err != nil {
		return err
	}
	if err := r.events.SaveEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SaveReviewAssignment(ctx context.Context, rev domain.Review, pub domain.Publication, event outbox.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO reviews (id, publication_id, reviewer_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rev.ID, rev.PublicationID, rev.ReviewerID, string(rev.Status), rev.CreatedAt)
	if err != nil {
		return err
	}
	if err := r.updatePublication(ctx, tx, pub); err != nil {
		return err
	}
	if err := r.events.SaveEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SaveDecision(ctx context.Context, rev domain.Review, pub domain.Publication, events []outbox.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		UPDATE reviews SET verdict = $2, comments = $3, status = $4, completed_at = $5
		WHERE id = $1`,
		rev.ID, string(rev.Verdict), rev.Comments, string(rev.Status), rev.CompletedAt)
	if err != nil {
		return err
	}
	if err := r.updatePublication(ctx, tx, pub); err != nil {
		return err
	}
	if err := r.events.SaveEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) updatePublication(ctx context.Context, tx pgx.Tx, pub domain.Publication) error {
	_, err := tx.Exec(ctx, `
		UPDATE publications SET status = $2, updated_at = $3
		WHERE id = $1`,
		pub.ID, string(pub.Status), pub.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Publication, error) {
	var pub domain.Publication
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, abstract, author_id, status, created_at, updated_at
		FROM publications WHERE id = $1`, id).
		Scan(&pub.ID, &pub.Title, &pub.Abstract, &pub.AuthorID, &status, &pub.CreatedAt, &pub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Publication{}, domain.ErrPublicationNotFound
	}
	if err != nil {
		return domain.Publication{}, err
	}
	pub.Status = domain.PublicationStatus(status)
	return pub, nil
}

func (r *Repository) GetWithReviews(ctx context.Context, id string) (domain.Publication, []domain.Review, error) {
	pub, err := r.Get(ctx, id)
	if err != nil {
		return domain.Publication{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, publication_id, reviewer_id, coalesce(verdict, ''), coalesce(comments, ''), status, created_at, completed_at
		FROM reviews WHERE publication_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return domain.Publication{}, nil, err
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return domain.Publication{}, nil, err
		}
		reviews = append(reviews, rev)
	}
	if err := rows.Err(); err != nil {
		return domain.Publication{}, nil, err
	}
	return pub, reviews, nil
}

func (r *Repository) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, publication_id, reviewer_id, coalesce(verdict, ''), coalesce(comments, ''), status, created_at, completed_at
		FROM reviews WHERE id = $1`, id)
	rev, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Review{}, domain.ErrReviewNotFound
	}
	return rev, err
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var rev domain.Review
	var verdict, status string
	err := row.Scan(&rev.ID, &rev.PublicationID, &rev.ReviewerID, &verdict, &rev.Comments,
		&status, &rev.CreatedAt, &rev.CompletedAt)
	if err != nil {
		return domain.Review{}, err
	}
	rev.Verdict = domain.Verdict(verdict)
	rev.Status = domain.ReviewStatus(status)
	return rev, nil
}
