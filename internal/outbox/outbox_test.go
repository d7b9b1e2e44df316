package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge-go/internal/constants"
	"concierge-go/internal/storage/models"
)

func pendingEntry(attempts, maxAttempts int, lastAttemptID string) *models.OutboxEntry {
	return &models.OutboxEntry{
		ID:            "o-1",
		JobID:         "j-1",
		WorkType:      constants.WorkTypeVendorMessage,
		Status:        constants.OutboxStatusPending,
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		LastAttemptID: lastAttemptID,
	}
}

func TestClaimDecision(t *testing.T) {
	tests := []struct {
		name       string
		entry      *models.OutboxEntry
		attemptID  string
		wantAction claimAction
	}{
		{
			name:       "fresh entry grants",
			entry:      pendingEntry(0, 5, ""),
			attemptID:  "a-1",
			wantAction: claimGrant,
		},
		{
			name:       "retry with new attempt grants",
			entry:      pendingEntry(2, 5, "a-1"),
			attemptID:  "a-2",
			wantAction: claimGrant,
		},
		{
			name:       "duplicate attempt denies",
			entry:      pendingEntry(1, 5, "a-1"),
			attemptID:  "a-1",
			wantAction: claimDeny,
		},
		{
			name: "completed entry denies",
			entry: &models.OutboxEntry{
				Status: constants.OutboxStatusCompleted,
			},
			attemptID:  "a-1",
			wantAction: claimDeny,
		},
		{
			name: "failed entry denies",
			entry: &models.OutboxEntry{
				Status: constants.OutboxStatusFailed,
			},
			attemptID:  "a-1",
			wantAction: claimDeny,
		},
		{
			name: "active processing claim denies new attempt",
			entry: &models.OutboxEntry{
				Status:        constants.OutboxStatusProcessing,
				Attempts:      1,
				MaxAttempts:   5,
				LastAttemptID: "a-1",
			},
			attemptID:  "a-2",
			wantAction: claimDeny,
		},
		{
			name:       "exhausted budget fails terminally",
			entry:      pendingEntry(5, 5, "a-4"),
			attemptID:  "a-5",
			wantAction: claimExhaust,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _ := claimDecision(tt.entry, tt.attemptID)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestClaimDecisionSameAttemptAtMostOnce(t *testing.T) {
	// Two claims with the same attempt id succeed on at most one of them:
	// the grant records the attempt id, so the replay is denied.
	entry := pendingEntry(0, 5, "")

	action, _ := claimDecision(entry, "a-1")
	require.Equal(t, claimGrant, action)
	entry.Attempts++
	entry.LastAttemptID = "a-1"
	entry.Status = constants.OutboxStatusProcessing

	action, reason := claimDecision(entry, "a-1")
	assert.Equal(t, claimDeny, action)
	assert.Equal(t, "duplicate attempt", reason)
}

func TestClaimDecisionAtMostOneActiveClaim(t *testing.T) {
	// Two relay instances racing on the same pending entry: the first
	// grant moves it to processing, so the loser's fresh attempt id must
	// be denied, not granted. A second grant here would mean the external
	// call runs twice.
	entry := pendingEntry(0, 5, "")

	action, _ := claimDecision(entry, "a-1")
	require.Equal(t, claimGrant, action)
	entry.Attempts++
	entry.LastAttemptID = "a-1"
	entry.Status = constants.OutboxStatusProcessing

	action, reason := claimDecision(entry, "a-2")
	assert.Equal(t, claimDeny, action)
	assert.Equal(t, "claim already active", reason)

	// Once the owner fails the attempt and the entry returns to pending,
	// a new attempt may claim it again.
	entry.Status = constants.OutboxStatusPending
	action, _ = claimDecision(entry, "a-3")
	assert.Equal(t, claimGrant, action)
}

type stubCompletion struct {
	output string
	err    error
	calls  int
}

func (s *stubCompletion) Generate(_ context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

type stubSender struct {
	messageID string
	err       error
	lastPhone string
	lastBody  string
}

func (s *stubSender) SendToVendor(_ context.Context, phone, body string) (string, error) {
	s.lastPhone = phone
	s.lastBody = body
	if s.err != nil {
		return "", s.err
	}
	return s.messageID, nil
}

func TestWorkDispatcherCompletionRequest(t *testing.T) {
	completion := &stubCompletion{output: "order confirmed, 20 minutes"}
	d := NewWorkDispatcher(completion, &stubSender{})

	payload, _ := json.Marshal(CompletionRequestPayload{Prompt: "summarize the order"})
	evidence, err := d.Dispatch(context.Background(), constants.WorkTypeCompletionRequest, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, completion.calls)

	var ev CompletionEvidence
	require.NoError(t, json.Unmarshal(evidence, &ev))
	assert.Equal(t, "order confirmed, 20 minutes", ev.Output)
}

func TestWorkDispatcherVendorMessage(t *testing.T) {
	sender := &stubSender{messageID: "sm-123"}
	d := NewWorkDispatcher(&stubCompletion{}, sender)

	payload, _ := json.Marshal(VendorMessagePayload{VendorPhone: "+905321234567", Body: "new order #42"})
	evidence, err := d.Dispatch(context.Background(), constants.WorkTypeVendorMessage, payload)
	require.NoError(t, err)
	assert.Equal(t, "+905321234567", sender.lastPhone)
	assert.Equal(t, "new order #42", sender.lastBody)

	var ev MessageEvidence
	require.NoError(t, json.Unmarshal(evidence, &ev))
	assert.Equal(t, "sm-123", ev.MessageID)
}

func TestWorkDispatcherPropagatesCallErrors(t *testing.T) {
	wantErr := errors.New("gateway unavailable")
	d := NewWorkDispatcher(&stubCompletion{}, &stubSender{err: wantErr})

	payload, _ := json.Marshal(VendorMessagePayload{VendorPhone: "+905321234567", Body: "hi"})
	_, err := d.Dispatch(context.Background(), constants.WorkTypeVendorMessage, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestWorkDispatcherUnknownWorkType(t *testing.T) {
	d := NewWorkDispatcher(&stubCompletion{}, &stubSender{})

	_, err := d.Dispatch(context.Background(), "carrier_pigeon", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outbox work type")
}
