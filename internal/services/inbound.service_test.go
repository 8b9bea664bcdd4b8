package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInboundFixture(t *testing.T) (*serviceEnv, *InboundService, *ReassemblerService) {
	e := newServiceEnv(t)
	registry := carrier.NewRegistry(carrier.NewDirectAdapter(nil))
	inbound := NewInboundService(e.partRepo, e.messageRepo, e.contactRepo, registry)
	reassembler := NewReassemblerService(e.partRepo, e.messageRepo, e.contactRepo, registry)
	return e, inbound, reassembler
}

func inboundBody(t *testing.T, carrierMessageID, groupID string, index, total int, contactNumber, userNumber, body string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"carrier_message_id": carrierMessageID,
		"group_id":           groupID,
		"part_index":         index,
		"total_parts":        total,
		"contact_number":     contactNumber,
		"user_number":        userNumber,
		"body":               body,
	})
	require.NoError(t, err)
	return raw
}

func TestInbound_StoresPart(t *testing.T) {
	e, inbound, _ := newInboundFixture(t)
	ctx := context.Background()

	_, userNumber := openThread(t, e, "+12025550230")

	part, err := inbound.Receive(ctx, "direct", inboundBody(t, "IN-20", "", 0, 1, "+12025550230", userNumber, "yes please"))
	require.NoError(t, err)
	assert.Equal(t, "direct", part.Carrier)
	assert.Equal(t, "IN-20", part.CarrierMessageID)
	assert.NotZero(t, part.ID)

	count, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInbound_GroupedPartsResolveThroughReassembler(t *testing.T) {
	e, inbound, reassembler := newInboundFixture(t)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550231")

	// Webhooks arrive out of order; each is stored as delivered.
	_, err := inbound.Receive(ctx, "direct", inboundBody(t, "IN-21b", "GRP-21", 1, 2, "+12025550231", userNumber, "and the rest"))
	require.NoError(t, err)
	_, err = inbound.Receive(ctx, "direct", inboundBody(t, "IN-21a", "GRP-21", 0, 2, "+12025550231", userNumber, "the start "))
	require.NoError(t, err)

	result, err := reassembler.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)

	msgs, err := e.messageRepo.ListByContactIDs(ctx, []int64{contactID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "the start and the rest", msgs[1].Text)
}

func TestInbound_NoOpenThreadDiscarded(t *testing.T) {
	e, inbound, _ := newInboundFixture(t)
	ctx := context.Background()

	_, err := inbound.Receive(ctx, "direct", inboundBody(t, "IN-22", "", 0, 1, "+12025550232", "+15550000099", "who dis"))
	assert.ErrorIs(t, err, ErrNoOpenThread)

	count, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "replies with no thread never reach the part table")
}

func TestInbound_ArchivedContactDiscarded(t *testing.T) {
	e, inbound, _ := newInboundFixture(t)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550233")
	require.NoError(t, e.pg.Write(ctx).Table("campaign_contacts").
		Where("id = ?", contactID).
		Update("archived", true).Error)

	_, err := inbound.Receive(ctx, "direct", inboundBody(t, "IN-23", "", 0, 1, "+12025550233", userNumber, "too late"))
	assert.ErrorIs(t, err, ErrUnknownContact)

	count, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInbound_MalformedPayloadRejected(t *testing.T) {
	e, inbound, _ := newInboundFixture(t)
	ctx := context.Background()

	_, userNumber := openThread(t, e, "+12025550234")

	_, err := inbound.Receive(ctx, "direct", inboundBody(t, "IN-24", "GRP-24", 0, -3, "+12025550234", userNumber, "broken"))
	assert.ErrorIs(t, err, carrier.ErrMalformedInbound)

	count, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a bounds-checked payload never reaches the part table")
}

func TestInbound_UnknownCarrier(t *testing.T) {
	_, inbound, _ := newInboundFixture(t)

	_, err := inbound.Receive(context.Background(), "mystery", inboundBody(t, "IN-25", "", 0, 1, "+12025550235", "+15550000010", "lost"))
	assert.ErrorIs(t, err, carrier.ErrUnknownCarrier)
}
