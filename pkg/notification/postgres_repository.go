package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/pg"
)

// DB is the subset of *pgxpool.Pool used by PostgresRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores notifications in the table created by Migrations.
// Transitions lock the row with SELECT ... FOR UPDATE so concurrent workers
// and webhook callbacks serialise per notification.
type PostgresRepository struct {
	marker

	db  DB
	now func() time.Time
}

func NewPostgresRepository(db DB) *PostgresRepository {
	r := &PostgresRepository{db: db, now: time.Now}
	r.marker = marker{t: r, now: r.now}
	return r
}

const columns = `id, channel, recipient, subject, content, template_id, template_data, locale,
	priority, status, scheduled_at, expires_at, attempts, max_attempts, last_error,
	COALESCE(external_id, ''), provider_response, cost, metadata, actor_id,
	created_at, updated_at, sent_at, delivered_at, read_at, failed_at`

func (r *PostgresRepository) Create(ctx context.Context, n *Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (
			id, channel, recipient, subject, content, template_id, template_data, locale,
			priority, status, scheduled_at, expires_at, attempts, max_attempts, last_error,
			external_id, provider_response, cost, metadata, actor_id,
			created_at, updated_at, sent_at, delivered_at, read_at, failed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			NULLIF($16, ''), $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)`,
		n.ID, n.Channel, n.Recipient, n.Subject, n.Content, n.TemplateID, n.TemplateData, n.Locale,
		n.Priority, n.Status, n.ScheduledAt, n.ExpiresAt, n.Attempts, n.MaxAttempts, n.LastError,
		n.ExternalID, n.ProviderResponse, n.Cost, n.Metadata, n.ActorID,
		n.CreatedAt, n.UpdatedAt, n.SentAt, n.DeliveredAt, n.ReadAt, n.FailedAt,
	)
	return mapWriteError(err)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Notification, error) {
	return r.getOne(ctx, r.db, `SELECT `+columns+` FROM notifications WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByExternalID(ctx context.Context, externalID string) (*Notification, error) {
	return r.getOne(ctx, r.db, `SELECT `+columns+` FROM notifications WHERE external_id = $1`, externalID)
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*Notification, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Channel != "" {
		add("channel = $%d", f.Channel)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	if f.Recipient != "" {
		add("recipient = $%d", f.Recipient)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at >= $%d", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	if !f.UpdatedBefore.IsZero() {
		add("updated_at < $%d", f.UpdatedBefore)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + columns + ` FROM notifications`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return r.getMany(ctx, sb.String(), args...)
}

// Transition locks the row, applies c and writes the result back in one transaction.
func (r *PostgresRepository) Transition(ctx context.Context, id string, c Change) (*Notification, error) {
	return r.mutate(ctx, id, func(n *Notification) error { return Apply(n, c) })
}

func (r *PostgresRepository) RecordClick(ctx context.Context, id, url string, at time.Time) (*Notification, error) {
	at = orNow(at, r.now)
	return r.mutate(ctx, id, func(n *Notification) error {
		RecordClick(n, url, at)
		return nil
	})
}

func (r *PostgresRepository) FindScheduledReady(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	return r.getMany(ctx, `SELECT `+columns+` FROM notifications
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY created_at LIMIT $3`, StatusScheduled, now, limitOrAll(limit))
}

func (r *PostgresRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	return r.getMany(ctx, `SELECT `+columns+` FROM notifications
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY created_at LIMIT $3`, statusStrings(transitions[EventExpire]), now, limitOrAll(limit))
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...Status) (int, error) {
	if len(statuses) == 0 {
		statuses = RetentionStatuses
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE updated_at < $1 AND status = ANY($2)`,
		cutoff, statusStrings(statuses))
	if err != nil {
		return 0, errors.Join(ErrPersistence, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT channel, status, COUNT(*), COALESCE(SUM(cost), 0)
		FROM notifications WHERE created_at >= $1
		GROUP BY channel, status`, since)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var (
			ch    Channel
			st    Status
			count int
			cost  float64
		)
		if err := rows.Scan(&ch, &st, &count, &cost); err != nil {
			return nil, errors.Join(ErrPersistence, err)
		}
		stats.Total += count
		stats.ByStatus[st] += count
		stats.ByChannel[ch] += count
		stats.TotalCost += cost
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return stats, nil
}

func (r *PostgresRepository) mutate(ctx context.Context, id string, fn func(*Notification) error) (*Notification, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := r.getOne(ctx, tx, `SELECT `+columns+` FROM notifications WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := fn(n); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE notifications SET
			status = $2, attempts = $3, last_error = $4, external_id = NULLIF($5, ''),
			provider_response = $6, cost = $7, metadata = $8, updated_at = $9,
			sent_at = $10, delivered_at = $11, read_at = $12, failed_at = $13
		WHERE id = $1`,
		n.ID, n.Status, n.Attempts, n.LastError, n.ExternalID,
		n.ProviderResponse, n.Cost, n.Metadata, n.UpdatedAt,
		n.SentAt, n.DeliveredAt, n.ReadAt, n.FailedAt,
	)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return n, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) getOne(ctx context.Context, q queryRower, sql string, args ...any) (*Notification, error) {
	n, err := scanNotification(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrPersistence, err)
	}
	return n, nil
}

func (r *PostgresRepository) getMany(ctx context.Context, sql string, args ...any) ([]*Notification, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Join(ErrPersistence, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.Channel, &n.Recipient, &n.Subject, &n.Content, &n.TemplateID, &n.TemplateData, &n.Locale,
		&n.Priority, &n.Status, &n.ScheduledAt, &n.ExpiresAt, &n.Attempts, &n.MaxAttempts, &n.LastError,
		&n.ExternalID, &n.ProviderResponse, &n.Cost, &n.Metadata, &n.ActorID,
		&n.CreatedAt, &n.UpdatedAt, &n.SentAt, &n.DeliveredAt, &n.ReadAt, &n.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := pg.UniqueViolation(err); ok {
		if constraint == "notifications_external_id_key" {
			return ErrDuplicateExternalID
		}
		return ErrDuplicateID
	}
	return errors.Join(ErrPersistence, err)
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
