package services

import (
	"context"
	"testing"
	"time"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/test/fixtures"
	"github.com/relaytext/campaign-engine/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReassemblerFixture(t *testing.T, adapter *stubCarrier) (*serviceEnv, *ReassemblerService) {
	e := newServiceEnv(t)
	registry := carrier.NewRegistry(adapter)
	svc := NewReassemblerService(e.partRepo, e.messageRepo, e.contactRepo, registry)
	return e, svc
}

// openThread seeds a contact with one sent outbound message, returning
// the contact and the thread's user number.
func openThread(t *testing.T, e *serviceEnv, cell string) (int64, string) {
	campaign := helpers.CreateTestCampaign(t, e.pg, 1, false)
	contact := helpers.CreateTestContact(t, e.pg, campaign.ID, cell)
	userNumber := "+15550000010"

	sentAt := time.Now()
	_, err := e.messageRepo.Create(context.Background(), &model.Message{
		ContactID:     contact.ID,
		ContactNumber: cell,
		UserNumber:    userNumber,
		Text:          "ping",
		SendStatus:    model.SendStatusSent,
		SentAt:        &sentAt,
	})
	require.NoError(t, err)
	return contact.ID, userNumber
}

func TestReassemble_SinglePartSaves(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550210")
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-1", "", 0, 1, "+12025550210", userNumber, "count me in"))
	require.NoError(t, err)

	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)

	msgs, err := e.messageRepo.ListByContactIDs(ctx, []int64{contactID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "count me in", msgs[1].Text)
	assert.True(t, msgs[1].IsFromContact)
	assert.Equal(t, "IN-1", msgs[1].CarrierMessageID)

	contact, err := e.contactRepo.Get(ctx, contactID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusNeedsResponse, contact.Status)

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestReassemble_DuplicateCarrierIDInBatch(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550211")

	// The carrier delivered the same fragment twice.
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-DUP", "", 0, 1, "+12025550211", userNumber, "hello"))
	require.NoError(t, err)
	_, err = e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-DUP", "", 0, 1, "+12025550211", userNumber, "hello"))
	require.NoError(t, err)

	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 1, result.DroppedDuplicates)

	msgs, err := e.messageRepo.ListByContactIDs(ctx, []int64{contactID})
	require.NoError(t, err)
	assert.Len(t, msgs, 2) // the outbound plus one saved reply

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining, "both fragment rows must be consumed")
}

func TestReassemble_AlreadySavedCarrierIDDropped(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550212")
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-SEEN", "", 0, 1, "+12025550212", userNumber, "again"))
	require.NoError(t, err)

	first, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Saved)

	// A late redelivery of the consumed fragment arrives in a later pass.
	_, err = e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-SEEN", "", 0, 1, "+12025550212", userNumber, "again"))
	require.NoError(t, err)

	second, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Saved)
	assert.Equal(t, 1, second.DroppedDuplicates)

	msgs, err := e.messageRepo.ListByContactIDs(ctx, []int64{contactID})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestReassemble_GroupWaitsForAllParts(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550213")

	parts := fixtures.MultipartReply("direct", "GRP-9", "+12025550213", userNumber, "part one ", "part two ", "part three")
	// Only two of three fragments have arrived.
	_, err := e.partRepo.Create(ctx, parts[2])
	require.NoError(t, err)
	_, err = e.partRepo.Create(ctx, parts[0])
	require.NoError(t, err)

	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Saved)

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining, "incomplete groups stay for a later pass")

	// The straggler lands; the next pass resolves the group in index
	// order regardless of arrival order.
	_, err = e.partRepo.Create(ctx, parts[1])
	require.NoError(t, err)

	result, err = svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)

	msgs, err := e.messageRepo.ListByContactIDs(ctx, []int64{contactID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "part one part two part three", msgs[1].Text)
	assert.Equal(t, "GRP-9", msgs[1].CarrierMessageID)
}

func TestReassemble_OrphanFragmentDropped(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	// No outbound thread exists for this number pair.
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-ORPHAN", "", 0, 1, "+12025550214", "+15550000099", "who dis"))
	require.NoError(t, err)

	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DroppedOrphans)
	assert.Zero(t, result.Saved)

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestReassemble_GraceWindowDefersYoungParts(t *testing.T) {
	adapter := &stubCarrier{name: "relay", sync: true}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	contactID, userNumber := openThread(t, e, "+12025550215")
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("relay", "IN-YOUNG", "", 0, 1, "+12025550215", userNumber, "fresh"))
	require.NoError(t, err)

	// The fragment is younger than the grace window of its out-of-order
	// carrier, so this pass leaves it alone.
	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Zero(t, result.Saved)

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	// Once the window has passed the fragment resolves normally.
	svc.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	result, err = svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)

	msgs, err := e.messageRepo.ListByContactIDs(ctx, []int64{contactID})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestReassemble_BogusDeclaredTotalDropped(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	_, userNumber := openThread(t, e, "+12025550218")

	// A carrier declaring a negative or absurd fragment count must cost
	// only its own rows, never the pass.
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-NEG", "GRP-NEG", 0, -3, "+12025550218", userNumber, "broken"))
	require.NoError(t, err)
	_, err = e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-HUGE", "GRP-HUGE", 0, 1<<30, "+12025550218", userNumber, "broken"))
	require.NoError(t, err)
	_, err = e.partRepo.Create(ctx, fixtures.NewInboundPart("direct", "IN-OK", "", 0, 1, "+12025550218", userNumber, "fine"))
	require.NoError(t, err)

	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved, "the well-formed reply still lands")

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining, "rows with a nonsense declared total are consumed")
}

func TestReassemble_UnknownCarrierLeftInPlace(t *testing.T) {
	adapter := &stubCarrier{name: "direct"}
	e, svc := newReassemblerFixture(t, adapter)
	ctx := context.Background()

	_, userNumber := openThread(t, e, "+12025550216")
	_, err := e.partRepo.Create(ctx, fixtures.NewInboundPart("mystery", "IN-X", "", 0, 1, "+12025550216", userNumber, "lost"))
	require.NoError(t, err)

	result, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Saved)

	remaining, err := e.partRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}
