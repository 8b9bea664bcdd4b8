package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/services"
	xhttp "github.com/relaytext/campaign-engine/pkg/http"
)

type InboundService interface {
	Receive(ctx context.Context, carrierName string, rawPayload []byte) (*model.PendingMessagePart, error)
}

// InboundHandler is the webhook endpoint carriers POST inbound message
// fragments to.
type InboundHandler struct {
	svc InboundService
}

func RegisterInboundRoutes(e *router.Group, h *InboundHandler) {
	e.POST("/inbound/{carrier}", h.ReceiveMessage)
}

func NewInboundHandler(svc InboundService) *InboundHandler {
	return &InboundHandler{
		svc: svc,
	}
}

func (h *InboundHandler) ReceiveMessage(ctx *xhttp.RequestCtx) {
	name, _ := ctx.UserValue("carrier").(string)

	part, err := h.svc.Receive(ctx, name, ctx.PostBody())
	if err != nil {
		switch {
		case errors.Is(err, carrier.ErrUnknownCarrier):
			writeError(ctx, 404, err.Error())
		case errors.Is(err, carrier.ErrMalformedInbound):
			writeError(ctx, 400, err.Error())
		case errors.Is(err, services.ErrNoOpenThread), errors.Is(err, services.ErrUnknownContact):
			// Carriers retry non-2xx deliveries; a reply that can never
			// attach is acknowledged and discarded instead.
			writeJSON(ctx, 200, map[string]string{"status": "discarded"})
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 202, part)
}
