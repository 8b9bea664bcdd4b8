package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

var (
	ErrUnknownCarrier   = errors.New("unknown carrier")
	ErrSendFailed       = errors.New("carrier rejected the message")
	ErrMalformedInbound = errors.New("malformed inbound payload")
)

// MaxDeclaredParts caps the carrier-declared fragment count of one
// inbound message. Concatenated texts never legitimately exceed it, and
// the reassembler sizes its slot arrays from the declared total.
const MaxDeclaredParts = 255

// SendResult is what a carrier hands back for an accepted outbound
// message.
type SendResult struct {
	CarrierMessageID string
	Status           string
	SentAt           time.Time
}

// Adapter is the per-provider boundary. Send transport and inbound
// part conversion both live behind it, so one carrier's quirks never
// leak into the engine.
type Adapter interface {
	Name() string

	// SendMessage dispatches one outbound message. Callers invoke it
	// inside the claiming transaction; a returned error marks the
	// message failed, it does not abort the batch.
	SendMessage(ctx context.Context, msg *model.Message) (*SendResult, error)

	// HandleIncomingMessage decodes one raw inbound webhook delivery
	// into a pending part ready to persist. Malformed deliveries are
	// rejected here, before anything reaches the part table.
	HandleIncomingMessage(rawPayload []byte) (*model.PendingMessagePart, error)

	// ConvertMessagePartsToMessage folds the ordered fragments of one
	// inbound message into the record to save.
	ConvertMessagePartsToMessage(parts []*model.PendingMessagePart) (*model.Message, error)

	// SyncMessagePartProcessing reports whether this carrier delivers
	// parts out of order often enough that the reassembler should wait
	// out a grace window before resolving groups.
	SyncMessagePartProcessing() bool
}

// Registry is the static carrier lookup table, built once at startup.
type Registry struct {
	adapters map[string]Adapter
	fallback Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
		if r.fallback == nil {
			r.fallback = a
		}
	}
	return r
}

func (r *Registry) Resolve(name string) (Adapter, error) {
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCarrier, name)
}

// Default returns the adapter used for outbound sends when a message
// does not name its carrier.
func (r *Registry) Default() Adapter {
	return r.fallback
}

// inboundPayload is the webhook body shape carriers POST for each
// fragment of an inbound message.
type inboundPayload struct {
	CarrierMessageID string          `json:"carrier_message_id"`
	GroupID          string          `json:"group_id"`
	PartIndex        int             `json:"part_index"`
	TotalParts       int             `json:"total_parts"`
	ContactNumber    string          `json:"contact_number"`
	UserNumber       string          `json:"user_number"`
	Body             string          `json:"body"`
	Headers          json.RawMessage `json:"headers"`
}

// decodeInbound is the shared webhook decode. The carrier-declared
// counters are bounds-checked here; a payload that passes yields a part
// the reassembler can size a slot array from.
func decodeInbound(name string, raw []byte) (*model.PendingMessagePart, error) {
	var p inboundPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInbound, err)
	}
	if p.CarrierMessageID == "" || p.ContactNumber == "" || p.UserNumber == "" {
		return nil, fmt.Errorf("%w: carrier_message_id, contact_number and user_number are required", ErrMalformedInbound)
	}
	if p.GroupID == "" && p.TotalParts == 0 {
		p.TotalParts = 1
	}
	if p.TotalParts < 1 || p.TotalParts > MaxDeclaredParts {
		return nil, fmt.Errorf("%w: total_parts %d out of range", ErrMalformedInbound, p.TotalParts)
	}
	if p.PartIndex < 0 || p.PartIndex >= p.TotalParts {
		return nil, fmt.Errorf("%w: part_index %d outside declared total %d", ErrMalformedInbound, p.PartIndex, p.TotalParts)
	}

	return &model.PendingMessagePart{
		Carrier:          name,
		CarrierMessageID: p.CarrierMessageID,
		GroupID:          p.GroupID,
		PartIndex:        p.PartIndex,
		TotalParts:       p.TotalParts,
		ContactNumber:    p.ContactNumber,
		UserNumber:       p.UserNumber,
		Body:             p.Body,
		Headers:          p.Headers,
	}, nil
}

// convertParts is the shared reassembly: concatenate bodies in
// ascending part-index order. The finished message keeps the group id
// as its carrier id when one exists, otherwise the single part's own.
func convertParts(parts []*model.PendingMessagePart) (*model.Message, error) {
	if len(parts) == 0 {
		return nil, errors.New("no parts to convert")
	}

	ordered := make([]*model.PendingMessagePart, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartIndex < ordered[j].PartIndex })

	var text strings.Builder
	for _, p := range ordered {
		text.WriteString(p.Body)
	}

	first := ordered[0]
	carrierID := first.GroupID
	if carrierID == "" {
		carrierID = first.CarrierMessageID
	}

	return &model.Message{
		CarrierMessageID: carrierID,
		ContactNumber:    first.ContactNumber,
		UserNumber:       first.UserNumber,
		IsFromContact:    true,
		Text:             text.String(),
		SendStatus:       model.SendStatusDelivered,
	}, nil
}
