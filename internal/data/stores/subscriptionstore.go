package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/data/db"
)

// SubscriptionStore implements subscription.Store using SQLite.
type SubscriptionStore struct {
	db *db.DB
}

var _ subscription.Store = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a new SQLite-backed subscription store.
func NewSubscriptionStore(db *db.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `subject_id, credential, database_id, database_title, tracked_fields,
	target_chat_id, target_kind, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (subscription.Subscription, error) {
	var (
		sub        subscription.Subscription
		fields     string
		targetChat sql.NullInt64
		targetKind string
		active     int64
		createdAt  int64
		updatedAt  int64
	)

	err := row.Scan(&sub.SubjectID, &sub.Credential, &sub.DatabaseID, &sub.DatabaseTitle, &fields,
		&targetChat, &targetKind, &active, &createdAt, &updatedAt)
	if err != nil {
		return subscription.Subscription{}, err
	}

	if err := json.Unmarshal([]byte(fields), &sub.TrackedFields); err != nil {
		return subscription.Subscription{}, fmt.Errorf("decode tracked fields: %w", err)
	}
	if targetChat.Valid {
		sub.Target = &subscription.Target{ChatID: targetChat.Int64, Kind: subscription.TargetKind(targetKind)}
	}
	sub.Active = active != 0
	sub.CreatedAt = time.Unix(0, createdAt)
	sub.UpdatedAt = time.Unix(0, updatedAt)

	return sub, nil
}

// Get returns a subscription by subject. Returns subscription.ErrNotFound if not found.
func (s *SubscriptionStore) Get(ctx context.Context, subjectID int64) (subscription.Subscription, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subject_id = ?`, subjectID)

	sub, err := scanSubscription(row)
	if IsNotFoundError(err) {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// List returns all subscriptions ordered by subject.
func (s *SubscriptionStore) List(ctx context.Context) ([]subscription.Subscription, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to convert subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListActive returns the subjects whose notifications are not paused.
func (s *SubscriptionStore) ListActive(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT subject_id FROM subscriptions WHERE active = 1 ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subject id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TrackedFields returns the fields a subject watches.
func (s *SubscriptionStore) TrackedFields(ctx context.Context, subjectID int64) ([]string, error) {
	sub, err := s.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return sub.TrackedFields, nil
}

// NotificationTarget returns where a subject's notifications go.
func (s *SubscriptionStore) NotificationTarget(ctx context.Context, subjectID int64) (subscription.Target, bool, error) {
	sub, err := s.Get(ctx, subjectID)
	if err != nil {
		return subscription.Target{}, false, err
	}
	if sub.Target == nil {
		return subscription.Target{}, false, nil
	}
	return *sub.Target, true, nil
}

// Facts returns the setup facts for a subject. Unknown subjects have none.
func (s *SubscriptionStore) Facts(ctx context.Context, subjectID int64) (subscription.Facts, error) {
	sub, err := s.Get(ctx, subjectID)
	if errors.Is(err, subscription.ErrNotFound) {
		return subscription.Facts{}, nil
	}
	if err != nil {
		return subscription.Facts{}, err
	}
	return subscription.FactsOf(sub), nil
}

// SetCredential stores the credential, creating an active subscription on
// first connect.
func (s *SubscriptionStore) SetCredential(ctx context.Context, subjectID int64, credential string) error {
	now := time.Now().UnixNano()
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO subscriptions (subject_id, credential, active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			credential = excluded.credential,
			updated_at = excluded.updated_at`,
		subjectID, credential, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set credential: %w", err)
	}
	return nil
}

// SetDatabase selects the tracked database. Tracked fields belong to a
// database, so they are cleared when it changes.
func (s *SubscriptionStore) SetDatabase(ctx context.Context, subjectID int64, databaseID, title string) error {
	return s.update(ctx, "set database", `
		UPDATE subscriptions SET
			tracked_fields = CASE WHEN database_id = ? THEN tracked_fields ELSE '[]' END,
			database_id    = ?,
			database_title = ?,
			updated_at     = ?
		WHERE subject_id = ?`,
		databaseID, databaseID, title, time.Now().UnixNano(), subjectID,
	)
}

// SetTrackedFields replaces the tracked fields.
func (s *SubscriptionStore) SetTrackedFields(ctx context.Context, subjectID int64, fields []string) error {
	if fields == nil {
		fields = []string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode tracked fields: %w", err)
	}
	return s.update(ctx, "set tracked fields",
		`UPDATE subscriptions SET tracked_fields = ?, updated_at = ? WHERE subject_id = ?`,
		string(data), time.Now().UnixNano(), subjectID,
	)
}

// SetTarget sets the notification chat.
func (s *SubscriptionStore) SetTarget(ctx context.Context, subjectID int64, target subscription.Target) error {
	return s.update(ctx, "set target",
		`UPDATE subscriptions SET target_chat_id = ?, target_kind = ?, updated_at = ? WHERE subject_id = ?`,
		target.ChatID, string(target.Kind), time.Now().UnixNano(), subjectID,
	)
}

// SetActive pauses or resumes notifications.
func (s *SubscriptionStore) SetActive(ctx context.Context, subjectID int64, active bool) error {
	v := 0
	if active {
		v = 1
	}
	return s.update(ctx, "set active",
		`UPDATE subscriptions SET active = ?, updated_at = ? WHERE subject_id = ?`,
		v, time.Now().UnixNano(), subjectID,
	)
}

// ClearConnection forgets the credential together with everything chosen
// through it.
func (s *SubscriptionStore) ClearConnection(ctx context.Context, subjectID int64) error {
	return s.update(ctx, "clear connection", `
		UPDATE subscriptions SET
			credential     = '',
			database_id    = '',
			database_title = '',
			tracked_fields = '[]',
			updated_at     = ?
		WHERE subject_id = ?`,
		time.Now().UnixNano(), subjectID,
	)
}

// ClearDatabase forgets the chosen database and its fields.
func (s *SubscriptionStore) ClearDatabase(ctx context.Context, subjectID int64) error {
	return s.update(ctx, "clear database", `
		UPDATE subscriptions SET
			database_id    = '',
			database_title = '',
			tracked_fields = '[]',
			updated_at     = ?
		WHERE subject_id = ?`,
		time.Now().UnixNano(), subjectID,
	)
}

// AddArtifact records a transient message.
func (s *SubscriptionStore) AddArtifact(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts (chat_id, message_id, created_at) VALUES (?, ?, ?)`,
		chatID, messageID, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to add artifact: %w", err)
	}
	return nil
}

// RemoveArtifact forgets a transient message.
func (s *SubscriptionStore) RemoveArtifact(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM artifacts WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns the transient messages of a chat, oldest first.
func (s *SubscriptionStore) ListArtifacts(ctx context.Context, chatID int64) ([]int, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT message_id FROM artifacts WHERE chat_id = ? ORDER BY created_at, message_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// update runs a single-row UPDATE and maps a missing row to ErrNotFound.
func (s *SubscriptionStore) update(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return subscription.ErrNotFound
	}
	return nil
}
