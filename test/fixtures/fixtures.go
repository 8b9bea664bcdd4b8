package fixtures

import (
	"encoding/json"
	"fmt"

	"github.com/relaytext/campaign-engine/internal/model"
)

var (
	ValidCells = []string{
		"+12025550101",
		"+12025550102",
		"+12025550103",
		"+447700900123",
		"+33612345678",
	}

	InvalidCells = []string{
		"",
		"12025550101",
		"+1202",
		"not-a-number",
		"+1202555010199999",
	}
)

func NewTestContact(campaignID int64, cell string) *model.Contact {
	return &model.Contact{
		CampaignID: campaignID,
		FirstName:  "Pat",
		LastName:   "Example",
		Cell:       cell,
		Status:     model.MessageStatusNeedsMessage,
	}
}

// ContactBatch fabricates n contacts with sequential valid cells.
func ContactBatch(campaignID int64, n int) []*model.Contact {
	contacts := make([]*model.Contact, n)
	for i := 0; i < n; i++ {
		contacts[i] = NewTestContact(campaignID, fmt.Sprintf("+1202555%04d", i))
	}
	return contacts
}

func NewTexterInput(id int64, needsMessage, contacts int) model.TexterInput {
	return model.TexterInput{
		ID:                id,
		NeedsMessageCount: needsMessage,
		ContactsCount:     contacts,
	}
}

func NewQueuedMessage(contactID int64, contactNumber, text string) *model.Message {
	return &model.Message{
		ContactID:     contactID,
		ContactNumber: contactNumber,
		Text:          text,
		SendStatus:    model.SendStatusQueued,
	}
}

// NewInboundPart fabricates one fragment of an inbound reply.
func NewInboundPart(carrier, carrierMessageID, groupID string, index, total int, contactNumber, userNumber, body string) *model.PendingMessagePart {
	return &model.PendingMessagePart{
		Carrier:          carrier,
		CarrierMessageID: carrierMessageID,
		GroupID:          groupID,
		PartIndex:        index,
		TotalParts:       total,
		ContactNumber:    contactNumber,
		UserNumber:       userNumber,
		Body:             body,
	}
}

// MultipartReply fabricates all fragments of one grouped inbound reply,
// in order. Tests shuffle them to exercise out-of-order arrival.
func MultipartReply(carrier, groupID, contactNumber, userNumber string, bodies ...string) []*model.PendingMessagePart {
	parts := make([]*model.PendingMessagePart, len(bodies))
	for i, body := range bodies {
		parts[i] = NewInboundPart(
			carrier,
			fmt.Sprintf("%s-part-%d", groupID, i),
			groupID,
			i,
			len(bodies),
			contactNumber,
			userNumber,
			body,
		)
	}
	return parts
}

func WarehouseJobPayload(query string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"query": query})
	return payload
}
