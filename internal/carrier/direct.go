package carrier

import (
	"context"
	"fmt"
	"strconv"

	"github.com/relaytext/campaign-engine/internal/model"
)

// DirectAdapter talks to carriers that deliver inbound messages whole
// or with in-order parts, so the reassembler can resolve its groups as
// soon as they fill.
type DirectAdapter struct {
	client *HTTPClient
}

func NewDirectAdapter(client *HTTPClient) *DirectAdapter {
	return &DirectAdapter{client: client}
}

func (a *DirectAdapter) Name() string { return "direct" }

func (a *DirectAdapter) SyncMessagePartProcessing() bool { return false }

func (a *DirectAdapter) SendMessage(ctx context.Context, msg *model.Message) (*SendResult, error) {
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

func (a *DirectAdapter) HandleIncomingMessage(rawPayload []byte) (*model.PendingMessagePart, error) {
	return decodeInbound(a.Name(), rawPayload)
}

func (a *DirectAdapter) ConvertMessagePartsToMessage(parts []*model.PendingMessagePart) (*model.Message, error) {
	return convertParts(parts)
}
