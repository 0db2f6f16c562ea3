package alerts

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/metrics"
)

const (
	webhookTimeout  = 10 * time.Second
	maxAttempts     = 3
	retryBatchSize  = 10
	queueRetention  = 7 * 24 * time.Hour
)

// WebhookService delivers alert events over HTTP POST. Failed deliveries
// land in a persistent retry queue with exponential backoff; after
// maxAttempts the history entry is marked failed and the job dropped.
type WebhookService struct {
	queueDB *sql.DB
	history *Repository
	client  *http.Client
	log     zerolog.Logger
}

// NewWebhookService creates a webhook delivery service. queueDB is the
// cache database holding the retry queue.
func NewWebhookService(queueDB *sql.DB, history *Repository, log zerolog.Logger) *WebhookService {
	return &WebhookService{
		queueDB: queueDB,
		history: history,
		client:  &http.Client{Timeout: webhookTimeout},
		log:     log.With().Str("component", "webhook").Logger(),
	}
}

// Deliver attempts immediate delivery and queues a retry on failure.
func (s *WebhookService) Deliver(ctx context.Context, event *Event, webhookURL string) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", event.AlertID).Msg("Failed to marshal webhook payload")
		return
	}

	if err := s.post(ctx, webhookURL, event, payload); err != nil {
		s.log.Warn().Err(err).
			Str("alert_id", event.AlertID).
			Str("url", webhookURL).
			Msg("Webhook delivery failed, queueing retry")
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		s.queueRetry(ctx, event, webhookURL, payload, err)
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("sent").Inc()
	if err := s.history.SetWebhookStatus(ctx, event.HistoryID, "sent"); err != nil {
		s.log.Warn().Err(err).Int64("history_id", event.HistoryID).Msg("Failed to mark webhook sent")
	}
}

func (s *WebhookService) post(ctx context.Context, webhookURL string, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Id", event.AlertID)
	// The receiver deduplicates retries on this key.
	req.Header.Set("X-Idempotency-Key", fmt.Sprintf("%s-%d", event.AlertID, event.HistoryID))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookService) queueRetry(ctx context.Context, event *Event, webhookURL string, payload []byte, cause error) {
	now := time.Now()
	_, err := s.queueDB.ExecContext(ctx,
		`INSERT INTO webhook_queue
		   (history_id, webhook_url, payload, attempts, next_retry_at, last_error, created_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?)`,
		event.HistoryID, webhookURL, string(payload),
		now.Add(retryDelay(1)).Unix(), cause.Error(), now.Unix(),
	)
	if err != nil {
		s.log.Error().Err(err).Int64("history_id", event.HistoryID).Msg("Failed to queue webhook retry")
	}
}

// ProcessQueue retries due deliveries, a batch at a time.
func (s *WebhookService) ProcessQueue(ctx context.Context) error {
	rows, err := s.queueDB.QueryContext(ctx,
		`SELECT id, history_id, webhook_url, payload, attempts
		 FROM webhook_queue
		 WHERE attempts < ? AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC
		 LIMIT ?`,
		maxAttempts, time.Now().Unix(), retryBatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read webhook queue: %w", err)
	}

	type job struct {
		id        int64
		historyID int64
		url       string
		payload   string
		attempts  int
	}
	var jobs []job
	for rows.Next() {
		var j job
		if err := rows.Scan(&j.id, &j.historyID, &j.url, &j.payload, &j.attempts); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan webhook job: %w", err)
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, j := range jobs {
		event := &Event{HistoryID: j.historyID}
		// Best effort; the queued payload already carries the alert id.
		_ = json.Unmarshal([]byte(j.payload), event)

		err := s.post(ctx, j.url, event, []byte(j.payload))
		if err == nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("sent").Inc()
			if _, derr := s.queueDB.ExecContext(ctx, "DELETE FROM webhook_queue WHERE id = ?", j.id); derr != nil {
				s.log.Warn().Err(derr).Int64("queue_id", j.id).Msg("Failed to dequeue delivered webhook")
			}
			if herr := s.history.SetWebhookStatus(ctx, j.historyID, "sent"); herr != nil {
				s.log.Warn().Err(herr).Int64("history_id", j.historyID).Msg("Failed to mark webhook sent")
			}
			continue
		}

		attempts := j.attempts + 1
		if attempts >= maxAttempts {
			metrics.WebhookDeliveriesTotal.WithLabelValues("exhausted").Inc()
			s.log.Warn().Err(err).
				Int64("history_id", j.historyID).
				Int("attempts", attempts).
				Msg("Webhook retries exhausted")
			if herr := s.history.SetWebhookStatus(ctx, j.historyID, "failed"); herr != nil {
				s.log.Warn().Err(herr).Int64("history_id", j.historyID).Msg("Failed to mark webhook failed")
			}
			if _, derr := s.queueDB.ExecContext(ctx, "DELETE FROM webhook_queue WHERE id = ?", j.id); derr != nil {
				s.log.Warn().Err(derr).Int64("queue_id", j.id).Msg("Failed to drop exhausted webhook")
			}
			continue
		}

		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		if _, uerr := s.queueDB.ExecContext(ctx,
			"UPDATE webhook_queue SET attempts = ?, next_retry_at = ?, last_error = ? WHERE id = ?",
			attempts, time.Now().Add(retryDelay(attempts)).Unix(), err.Error(), j.id,
		); uerr != nil {
			s.log.Error().Err(uerr).Int64("queue_id", j.id).Msg("Failed to reschedule webhook")
		}
	}

	return nil
}

// PruneQueue drops queue rows past the retention bound. Exhausted jobs
// are normally removed inline; this catches leftovers.
func (s *WebhookService) PruneQueue(ctx context.Context) (int64, error) {
	result, err := s.queueDB.ExecContext(ctx,
		"DELETE FROM webhook_queue WHERE created_at < ?",
		time.Now().Add(-queueRetention).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook queue: %w", err)
	}
	return result.RowsAffected()
}

// retryDelay is the exponential backoff before the given attempt number.
func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// RetryJob drains the webhook retry queue on a schedule.
type RetryJob struct {
	service *WebhookService
}

// NewRetryJob creates a webhook retry job.
func NewRetryJob(service *WebhookService) *RetryJob {
	return &RetryJob{service: service}
}

// Name implements scheduler.Job
func (j *RetryJob) Name() string {
	return "webhook_retry"
}

// Run implements scheduler.Job
func (j *RetryJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return j.service.ProcessQueue(ctx)
}
