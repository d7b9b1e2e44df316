package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"concierge-go/internal/constants"
)

// CompletionRequestPayload is the payload of a completion_request entry.
type CompletionRequestPayload struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// VendorMessagePayload is the payload of a vendor_message entry.
type VendorMessagePayload struct {
	VendorPhone string `json:"vendor_phone"`
	Body        string `json:"body"`
}

// CompletionEvidence records a completion call's result on the entry.
type CompletionEvidence struct {
	Output string `json:"output"`
	Model  string `json:"model,omitempty"`
}

// MessageEvidence records a gateway send's result on the entry.
type MessageEvidence struct {
	MessageID   string `json:"message_id"`
	VendorPhone string `json:"vendor_phone"`
}

// CompletionClient is the black-box generative-completion service: text
// in, text out, fallible.
type CompletionClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VendorSender delivers a message body to a vendor keyed by phone number
// and returns the gateway's message id.
type VendorSender interface {
	SendToVendor(ctx context.Context, phone, body string) (string, error)
}

// Dispatcher performs the external call for a claimed entry and returns
// the evidence to record. Executed outside any database transaction.
type Dispatcher interface {
	Dispatch(ctx context.Context, workType string, payload []byte) ([]byte, error)
}

// WorkDispatcher routes outbox work types to the completion service and
// the messaging gateway.
type WorkDispatcher struct {
	completion CompletionClient
	sender     VendorSender
}

// NewWorkDispatcher creates a dispatcher over the two external services.
func NewWorkDispatcher(completion CompletionClient, sender VendorSender) *WorkDispatcher {
	return &WorkDispatcher{completion: completion, sender: sender}
}

// Dispatch implements Dispatcher.
func (d *WorkDispatcher) Dispatch(ctx context.Context, workType string, payload []byte) ([]byte, error) {
	switch workType {
	case constants.WorkTypeCompletionRequest:
		if d.completion == nil {
			return nil, fmt.Errorf("no completion client configured")
		}
		var p CompletionRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode completion payload: %w", err)
		}
		output, err := d.completion.Generate(ctx, p.Prompt)
		if err != nil {
			return nil, fmt.Errorf("completion call: %w", err)
		}
		return json.Marshal(CompletionEvidence{Output: output, Model: p.Model})

	case constants.WorkTypeVendorMessage:
		if d.sender == nil {
			return nil, fmt.Errorf("no vendor sender configured")
		}
		var p VendorMessagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode vendor message payload: %w", err)
		}
		messageID, err := d.sender.SendToVendor(ctx, p.VendorPhone, p.Body)
		if err != nil {
			return nil, fmt.Errorf("vendor message send: %w", err)
		}
		return json.Marshal(MessageEvidence{MessageID: messageID, VendorPhone: p.VendorPhone})

	default:
		return nil, fmt.Errorf("unknown outbox work type %q", workType)
	}
}
