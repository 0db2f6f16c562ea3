package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists alert rules and trigger history.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// Create stores a new alert and assigns its id.
func (r *Repository) Create(ctx context.Context, alert *Alert) error {
	alert.ID = uuid.New().String()
	alert.CreatedAt = time.Now().UTC()
	alert.UpdatedAt = alert.CreatedAt

	conditionJSON, err := json.Marshal(alert.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO alerts
		   (id, user_id, name, condition_type, condition_json, notify_webhook,
		    notify_email, notify_in_app, cooldown_minutes, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, alert.Name, alert.Condition.Type, string(conditionJSON),
		nullable(alert.Notify.Webhook), nullable(alert.Notify.Email), boolInt(alert.Notify.InApp),
		alert.CooldownMinutes, boolInt(alert.IsActive),
		alert.CreatedAt.Unix(), alert.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Update rewrites an alert's mutable fields. Returns false when the
// alert does not exist or belongs to another user.
func (r *Repository) Update(ctx context.Context, alert *Alert) (bool, error) {
	conditionJSON, err := json.Marshal(alert.Condition)
	if err != nil {
		return false, fmt.Errorf("failed to marshal condition: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts
		 SET name = ?, condition_type = ?, condition_json = ?, notify_webhook = ?,
		     notify_email = ?, notify_in_app = ?, cooldown_minutes = ?, is_active = ?,
		     updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		alert.Name, alert.Condition.Type, string(conditionJSON),
		nullable(alert.Notify.Webhook), nullable(alert.Notify.Email), boolInt(alert.Notify.InApp),
		alert.CooldownMinutes, boolInt(alert.IsActive), time.Now().Unix(),
		alert.ID, alert.UserID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Delete removes an alert and its history. Returns false when nothing
// matched.
func (r *Repository) Delete(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM alerts WHERE id = ? AND user_id = ?", id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM alert_history WHERE alert_id = ?", id); err != nil {
			r.log.Warn().Err(err).Str("alert_id", id).Msg("Failed to delete alert history")
		}
	}
	return affected > 0, nil
}

// Get returns one alert, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*Alert, error) {
	row := r.db.QueryRowContext(ctx, selectAlerts+" WHERE id = ?", id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return alert, nil
}

// ListByUser returns a user's alerts, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		selectAlerts+" WHERE user_id = ? ORDER BY created_at DESC", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for %s: %w", userID, err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// Active returns all enabled alerts.
func (r *Repository) Active(ctx context.Context) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, selectAlerts+" WHERE is_active = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// RecordTrigger stamps the alert's last trigger time and appends a
// history entry, returning its id.
func (r *Repository) RecordTrigger(ctx context.Context, event *Event) (int64, error) {
	now := time.Now().UTC()

	if _, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET last_triggered_at = ? WHERE id = ?",
		now.Unix(), event.AlertID,
	); err != nil {
		return 0, fmt.Errorf("failed to stamp alert %s: %w", event.AlertID, err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_history
		   (alert_id, block_height, tx_id, event_json, webhook_status, email_status, triggered_at)
		 VALUES (?, ?, ?, ?, 'pending', 'pending', ?)`,
		event.AlertID, event.BlockHeight, event.TxID, event.Detail, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record trigger for %s: %w", event.AlertID, err)
	}
	return result.LastInsertId()
}

// History lists an alert's triggers, newest first.
func (r *Repository) History(ctx context.Context, alertID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, alert_id, COALESCE(block_height, 0), COALESCE(tx_id, ''),
		        event_json, webhook_status, email_status, triggered_at
		 FROM alert_history
		 WHERE alert_id = ?
		 ORDER BY triggered_at DESC
		 LIMIT ?`,
		alertID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history for %s: %w", alertID, err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry       HistoryEntry
			triggeredAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.AlertID, &entry.BlockHeight, &entry.TxID,
			&entry.Detail, &entry.WebhookStatus, &entry.EmailStatus, &triggeredAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.TriggeredAt = time.Unix(triggeredAt, 0).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// TriggerCountSince counts a user's triggers after the given time, for
// rate limiting.
func (r *Repository) TriggerCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM alert_history ah
		 JOIN alerts a ON ah.alert_id = a.id
		 WHERE a.user_id = ? AND ah.triggered_at > ?`,
		userID, since.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count triggers for %s: %w", userID, err)
	}
	return count, nil
}

// SetWebhookStatus updates a history entry's webhook delivery status.
func (r *Repository) SetWebhookStatus(ctx context.Context, historyID int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE alert_history SET webhook_status = ? WHERE id = ?", status, historyID,
	)
	if err != nil {
		return fmt.Errorf("failed to set webhook status: %w", err)
	}
	return nil
}

// SetEmailStatus updates a history entry's email delivery status.
func (r *Repository) SetEmailStatus(ctx context.Context, historyID int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE alert_history SET email_status = ? WHERE id = ?", status, historyID,
	)
	if err != nil {
		return fmt.Errorf("failed to set email status: %w", err)
	}
	return nil
}

// DeleteHistoryOlderThan removes trigger history past the retention
// bound. Returns the number of rows deleted.
func (r *Repository) DeleteHistoryOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM alert_history WHERE triggered_at < ?", cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to trim alert history: %w", err)
	}
	return result.RowsAffected()
}

const selectAlerts = `
	SELECT id, user_id, name, condition_json, COALESCE(notify_webhook, ''),
	       COALESCE(notify_email, ''), notify_in_app, cooldown_minutes,
	       last_triggered_at, is_active, created_at, updated_at
	FROM alerts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		alert           Alert
		conditionJSON   string
		inApp, isActive int
		lastTriggered   sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&alert.ID, &alert.UserID, &alert.Name, &conditionJSON,
		&alert.Notify.Webhook, &alert.Notify.Email, &inApp, &alert.CooldownMinutes,
		&lastTriggered, &isActive, &created, &updated); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conditionJSON), &alert.Condition); err != nil {
		return nil, fmt.Errorf("corrupt condition for alert %s: %w", alert.ID, err)
	}

	alert.Notify.InApp = inApp != 0
	alert.IsActive = isActive != 0
	alert.CreatedAt = time.Unix(created, 0).UTC()
	alert.UpdatedAt = time.Unix(updated, 0).UTC()
	if lastTriggered.Valid {
		at := time.Unix(lastTriggered.Int64, 0).UTC()
		alert.LastTriggeredAt = &at
	}
	return &alert, nil
}

func collectAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
