package alerts

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpulse/stackwatch/internal/database"
)

func newEmailFixture(t *testing.T) (*EmailService, *Repository, *Alert) {
	t.Helper()
	log := zerolog.Nop()
	repo := NewRepository(newTestDB(t, "portfolio", database.ProfileStandard).Conn(), log)
	alert := createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 0)

	svc := NewEmailService(EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "alerts@example.com",
	}, repo, log)
	return svc, repo, alert
}

func recordedEventForAlert(t *testing.T, repo *Repository, alert *Alert) *Event {
	t.Helper()
	event := &Event{
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		UserID:      alert.UserID,
		TriggeredAt: time.Now().UTC(),
		TxID:        "0xdeadbeef",
		BlockHeight: 800,
	}
	historyID, err := repo.RecordTrigger(context.Background(), event)
	require.NoError(t, err)
	event.HistoryID = historyID
	return event
}

func TestEmailDeliver_MarksHistorySent(t *testing.T) {
	svc, repo, alert := newEmailFixture(t)
	event := recordedEventForAlert(t, repo, alert)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	svc.Deliver(context.Background(), event, "ops@example.com")

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Alert: "+alert.Name)
	assert.Contains(t, string(gotMsg), "0xdeadbeef")

	history, err := repo.History(context.Background(), alert.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "sent", history[0].EmailStatus)
}

func TestEmailDeliver_MarksHistoryFailed(t *testing.T) {
	svc, repo, alert := newEmailFixture(t)
	event := recordedEventForAlert(t, repo, alert)

	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	svc.Deliver(context.Background(), event, "ops@example.com")

	history, err := repo.History(context.Background(), alert.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].EmailStatus)
}

func TestEmailMessage_EscapesHTML(t *testing.T) {
	svc, _, _ := newEmailFixture(t)

	msg := svc.buildMessage(&Event{
		AlertName:   "<script>alert(1)</script>",
		TriggeredAt: time.Now().UTC(),
	}, "ops@example.com")

	assert.NotContains(t, string(msg), "<script>")
	assert.Contains(t, string(msg), "&lt;script&gt;")
}
