package carrier

import (
	"context"
	"fmt"
	"strconv"

	"github.com/relaytext/campaign-engine/internal/model"
)

// RelayAdapter talks to relay-style carriers that fan large texts out
// into parts and deliver them in no particular order. It opts into the
// reassembler's grace window.
type RelayAdapter struct {
	client *HTTPClient
}

func NewRelayAdapter(client *HTTPClient) *RelayAdapter {
	return &RelayAdapter{client: client}
}

func (a *RelayAdapter) Name() string { return "relay" }

func (a *RelayAdapter) SyncMessagePartProcessing() bool { return true }

func (a *RelayAdapter) SendMessage(ctx context.Context, msg *model.Message) (*SendResult, error) {
	resp, err := a.client.Send(ctx, &SendRequest{
		MessageID:   strconv.FormatInt(msg.ID, 10),
		PhoneNumber: msg.ContactNumber,
		FromNumber:  msg.UserNumber,
		Content:     msg.Text,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == "FAILED" {
		return nil, fmt.Errorf("%w: %s", ErrSendFailed, resp.ErrorMsg)
	}
	return &SendResult{
		CarrierMessageID: resp.CarrierMessageID,
		Status:           resp.Status,
		SentAt:           resp.ProcessedAt,
	}, nil
}

func (a *RelayAdapter) HandleIncomingMessage(rawPayload []byte) (*model.PendingMessagePart, error) {
	return decodeInbound(a.Name(), rawPayload)
}

func (a *RelayAdapter) ConvertMessagePartsToMessage(parts []*model.PendingMessagePart) (*model.Message, error) {
	return convertParts(parts)
}
