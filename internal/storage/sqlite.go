package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"reviewbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	sb  sq.StatementBuilderType
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	query, args, err := s.sb.
		Insert("subscriptions").
		Columns("owner_id", "source", "source_user_id", "display_name", "created_at").
		Values(sub.OwnerID, sub.Source, sub.SourceUserID, sub.DisplayName, sub.CreatedAt.Format(timeLayout)).
		Suffix("ON CONFLICT(owner_id, source) DO NOTHING").
		ToSql()
	if err != nil {
		return Subscription{}, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Subscription{}, err
	}
	return s.SubscriptionByOwner(ctx, sub.OwnerID, sub.Source)
}

func (s *sqliteStore) SubscriptionByOwner(ctx context.Context, ownerID int64, source string) (Subscription, error) {
	query, args, err := s.sb.
		Select("id", "owner_id", "source", "source_user_id", "display_name", "created_at").
		From("subscriptions").
		Where(sq.Eq{"owner_id": ownerID, "source": source}).
		ToSql()
	if err != nil {
		return Subscription{}, err
	}
	return s.scanSubscription(s.db.QueryRowContext(ctx, query, args...))
}

func (s *sqliteStore) Subscriptions(ctx context.Context) ([]Subscription, error) {
	query, args, err := s.sb.
		Select("id", "owner_id", "source", "source_user_id", "display_name", "created_at").
		From("subscriptions").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, id int64) error {
	query, args, err := s.sb.Delete("subscriptions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) UpsertReview(ctx context.Context, r Review) (Review, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = r.CreatedAt
	}
	query, args, err := s.sb.
		Insert("reviews").
		Columns("subscription_id", "source", "canonical_id", "subject_id", "title",
			"content", "rating", "cover_image", "occurred_at", "created_at").
		Values(r.SubscriptionID, r.Source, r.CanonicalID, r.SubjectID, r.Title,
			r.Content, nullFloat(r.Rating), r.CoverImage,
			r.OccurredAt.Format(timeLayout), r.CreatedAt.Format(timeLayout)).
		Suffix(`ON CONFLICT(subscription_id, canonical_id) DO UPDATE SET
			title=excluded.title,
			content=excluded.content,
			rating=excluded.rating,
			cover_image=excluded.cover_image,
			occurred_at=excluded.occurred_at`).
		ToSql()
	if err != nil {
		return Review{}, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Review{}, err
	}
	return s.reviewByCanonical(ctx, r.SubscriptionID, r.CanonicalID)
}

func (s *sqliteStore) LatestReview(ctx context.Context, subscriptionID int64) (Review, error) {
	query, args, err := s.reviewSelect().
		Where(sq.Eq{"subscription_id": subscriptionID}).
		OrderBy("occurred_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return Review{}, err
	}
	return s.scanReview(s.db.QueryRowContext(ctx, query, args...))
}

func (s *sqliteStore) Undelivered(ctx context.Context, maxRetries int) ([]Review, error) {
	query, args, err := s.reviewSelect().
		Where(sq.Eq{"is_posted": 0}).
		Where(sq.Lt{"retry_count": maxRetries}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		r, err := s.scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkPosted(ctx context.Context, reviewID int64) error {
	query, args, err := s.sb.
		Update("reviews").
		Set("is_posted", 1).
		Where(sq.Eq{"id": reviewID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) IncrementRetry(ctx context.Context, reviewID int64) error {
	// Posted reviews are terminal, their retry count never moves again.
	query, args, err := s.sb.
		Update("reviews").
		Set("retry_count", sq.Expr("retry_count + 1")).
		Where(sq.Eq{"id": reviewID, "is_posted": 0}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) reviewByCanonical(ctx context.Context, subscriptionID int64, canonicalID string) (Review, error) {
	query, args, err := s.reviewSelect().
		Where(sq.Eq{"subscription_id": subscriptionID, "canonical_id": canonicalID}).
		ToSql()
	if err != nil {
		return Review{}, err
	}
	return s.scanReview(s.db.QueryRowContext(ctx, query, args...))
}

func (s *sqliteStore) reviewSelect() sq.SelectBuilder {
	return s.sb.Select("id", "subscription_id", "source", "canonical_id", "subject_id",
		"title", "content", "rating", "cover_image", "occurred_at",
		"is_posted", "retry_count", "created_at").
		From("reviews")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqliteStore) scanSubscription(row rowScanner) (Subscription, error) {
	var sub Subscription
	var created string
	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.Source, &sub.SourceUserID, &sub.DisplayName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.CreatedAt, _ = time.Parse(timeLayout, created)
	return sub, nil
}

func (s *sqliteStore) scanReview(row rowScanner) (Review, error) {
	var r Review
	var rating sql.NullFloat64
	var occurred, created string
	err := row.Scan(&r.ID, &r.SubscriptionID, &r.Source, &r.CanonicalID, &r.SubjectID,
		&r.Title, &r.Content, &rating, &r.CoverImage, &occurred,
		&r.Posted, &r.RetryCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, ErrNotFound
	}
	if err != nil {
		return Review{}, err
	}
	if rating.Valid {
		v := rating.Float64
		r.Rating = &v
	}
	r.OccurredAt, _ = time.Parse(timeLayout, occurred)
	r.CreatedAt, _ = time.Parse(timeLayout, created)
	return r, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
