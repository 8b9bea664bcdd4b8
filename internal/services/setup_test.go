package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"github.com/relaytext/campaign-engine/test/helpers"
	"github.com/stretchr/testify/require"
)

type serviceEnv struct {
	pg             *pg.DB
	jobRepo        *repository.JobRepository
	campaignRepo   *repository.CampaignRepository
	contactRepo    *repository.ContactRepository
	assignmentRepo *repository.AssignmentRepository
	identityRepo   *repository.IdentityRepository
	messageRepo    *repository.MessageRepository
	partRepo       *repository.PartRepository
}

func newServiceEnv(t *testing.T) *serviceEnv {
	pgDB := helpers.SetupTestDB(t)
	return &serviceEnv{
		pg:             pgDB,
		jobRepo:        repository.NewJobRepository(pgDB),
		campaignRepo:   repository.NewCampaignRepository(pgDB),
		contactRepo:    repository.NewContactRepository(pgDB),
		assignmentRepo: repository.NewAssignmentRepository(pgDB),
		identityRepo:   repository.NewIdentityRepository(pgDB),
		messageRepo:    repository.NewMessageRepository(pgDB),
		partRepo:       repository.NewPartRepository(pgDB),
	}
}

func (e *serviceEnv) seedContacts(t *testing.T, campaignID int64, n int) []*model.Contact {
	t.Helper()
	contacts := make([]*model.Contact, n)
	for i := 0; i < n; i++ {
		contacts[i] = &model.Contact{
			CampaignID: campaignID,
			FirstName:  "Pat",
			LastName:   fmt.Sprintf("Voter%d", i),
			Cell:       fmt.Sprintf("+1202555%04d", i),
			Status:     model.MessageStatusNeedsMessage,
		}
	}
	require.NoError(t, e.contactRepo.CreateInBatches(context.Background(), contacts, 100))
	loaded, err := e.contactRepo.ListByCampaign(context.Background(), campaignID, 0, 0)
	require.NoError(t, err)
	return loaded
}

// stubCarrier is a configurable in-memory adapter.
type stubCarrier struct {
	name    string
	sync    bool
	sendErr error
	sent    []*model.Message
}

func (c *stubCarrier) Name() string                    { return c.name }
func (c *stubCarrier) SyncMessagePartProcessing() bool { return c.sync }

func (c *stubCarrier) SendMessage(_ context.Context, msg *model.Message) (*carrier.SendResult, error) {
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, msg)
	return &carrier.SendResult{
		CarrierMessageID: fmt.Sprintf("STUB-%d", msg.ID),
		Status:           "DELIVERED",
		SentAt:           time.Now(),
	}, nil
}

func (c *stubCarrier) HandleIncomingMessage(rawPayload []byte) (*model.PendingMessagePart, error) {
	part, err := carrier.NewDirectAdapter(nil).HandleIncomingMessage(rawPayload)
	if err != nil {
		return nil, err
	}
	part.Carrier = c.name
	return part, nil
}

func (c *stubCarrier) ConvertMessagePartsToMessage(parts []*model.PendingMessagePart) (*model.Message, error) {
	return carrier.NewDirectAdapter(nil).ConvertMessagePartsToMessage(parts)
}

// recordingPublisher captures published envelopes in order.
type recordingPublisher struct {
	envelopes []model.JobEnvelope
	err       error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, data interface{}, _ map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	envelope, ok := data.(model.JobEnvelope)
	if !ok {
		return "", fmt.Errorf("unexpected payload type %T", data)
	}
	p.envelopes = append(p.envelopes, envelope)
	return fmt.Sprintf("stream-%d", len(p.envelopes)), nil
}

// recordingNotifier captures emitted events.
type recordingNotifier struct {
	events []NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev NotificationEvent) {
	n.events = append(n.events, ev)
}
