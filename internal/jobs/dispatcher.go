package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/queue"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/internal/services"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/sethvargo/go-retry"
)

const defaultJobRetention = 14 * 24 * time.Hour

var ErrUnknownJobKind = errors.New("unknown job kind")

// AssignPayload is the payload of an assignTexters job: the client's
// full desired roster for the campaign.
type AssignPayload struct {
	Texters []RosterEntry `json:"texters"`
}

type RosterEntry struct {
	ID                int64 `json:"id"`
	MaxContacts       *int  `json:"max_contacts"`
	NeedsMessageCount int   `json:"needs_message_count"`
	ContactsCount     int   `json:"contacts_count"`
}

// Dispatcher routes decoded job envelopes to the service owning each
// kind. Kinds with a job record check the record still exists before
// doing anything; a missing record is a cancellation and the delivery
// acks as a no-op.
type Dispatcher struct {
	jobRepo     *repository.JobRepository
	imports     *services.ImportService
	reconciler  *services.ReconcilerService
	sender      *services.SenderService
	reassembler *services.ReassemblerService
	exporter    *services.ExportService
	idempotency *Idempotency
	retention   time.Duration
}

func NewDispatcher(
	jobRepo *repository.JobRepository,
	imports *services.ImportService,
	reconciler *services.ReconcilerService,
	sender *services.SenderService,
	reassembler *services.ReassemblerService,
	exporter *services.ExportService,
	idempotency *Idempotency,
	retention time.Duration,
) *Dispatcher {
	if retention <= 0 {
		retention = defaultJobRetention
	}
	return &Dispatcher{
		jobRepo:     jobRepo,
		imports:     imports,
		reconciler:  reconciler,
		sender:      sender,
		reassembler: reassembler,
		exporter:    exporter,
		idempotency: idempotency,
		retention:   retention,
	}
}

// Process decodes one stream entry and runs its handler. A nil return
// acks the delivery; an error nacks it for redelivery.
func (d *Dispatcher) Process(ctx context.Context, msg *queue.Message) error {
	var envelope model.JobEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		logger.Error("undecodable job envelope, dropping", "message_id", msg.ID, "error", err)
		// Malformed payloads never succeed on retry; ack so the DLQ
		// counter does not churn.
		return nil
	}

	if d.idempotency != nil {
		if err := d.idempotency.Acquire(ctx, msg.ID); err != nil {
			if errors.Is(err, ErrAlreadyHandled) {
				logger.Info("skipping already-handled delivery", "message_id", msg.ID, "kind", envelope.Kind)
				return nil
			}
			return err
		}
	}

	err := d.Handle(ctx, envelope)
	if d.idempotency != nil {
		if err != nil {
			d.idempotency.Release(ctx, msg.ID)
		} else if markErr := d.idempotency.MarkHandled(ctx, msg.ID); markErr != nil {
			logger.Warn("failed to mark delivery handled", "message_id", msg.ID, "error", markErr)
		}
	}
	return err
}

// Handle runs the handler for one envelope. Exposed separately so the
// CLI can run a job without a queue in front of it.
func (d *Dispatcher) Handle(ctx context.Context, envelope model.JobEnvelope) error {
	switch envelope.Kind {
	case model.JobKindUploadContacts:
		return d.withJobRecord(ctx, envelope, d.imports.UploadContacts)
	case model.JobKindWarehouseImport:
		return d.withJobRecord(ctx, envelope, d.imports.StartWarehouseImport)
	case model.JobKindWarehouseFragment:
		return d.handleFragment(ctx, envelope)
	case model.JobKindAssignTexters:
		return d.withJobRecord(ctx, envelope, d.handleAssign)
	case model.JobKindExportCampaign:
		return d.withJobRecord(ctx, envelope, d.exporter.Export)
	case model.JobKindSendMessages:
		return d.handleSend(ctx, envelope)
	case model.JobKindReassembleInbound:
		return d.handleReassemble(ctx, envelope)
	case model.JobKindClearOldJobs:
		return d.handleClearOldJobs(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobKind, envelope.Kind)
	}
}

// withJobRecord is the at-least-once guard shared by every record-backed
// kind: load the record first, treat absence as cancellation.
func (d *Dispatcher) withJobRecord(ctx context.Context, envelope model.JobEnvelope, handler func(context.Context, *model.Job) error) error {
	job, err := d.jobRepo.Get(ctx, envelope.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			logger.Info("job record gone, dropping delivery", "job_id", envelope.JobID, "kind", envelope.Kind)
			return nil
		}
		return err
	}
	return handler(ctx, job)
}

func (d *Dispatcher) handleFragment(ctx context.Context, envelope model.JobEnvelope) error {
	var frag model.WarehouseFragment
	if err := json.Unmarshal(envelope.Payload, &frag); err != nil {
		logger.Error("undecodable warehouse fragment, dropping", "job_id", envelope.JobID, "error", err)
		return nil
	}
	return d.imports.ProcessFragment(ctx, frag)
}

func (d *Dispatcher) handleAssign(ctx context.Context, job *model.Job) error {
	var payload AssignPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode assign payload: %w", err)
	}

	roster := make([]model.TexterInput, len(payload.Texters))
	for i, t := range payload.Texters {
		roster[i] = model.TexterInput{
			ID:                t.ID,
			MaxContacts:       t.MaxContacts,
			NeedsMessageCount: t.NeedsMessageCount,
			ContactsCount:     t.ContactsCount,
		}
	}

	result, err := d.reconciler.Reconcile(ctx, job.CampaignID, roster)
	if err != nil {
		if setErr := d.jobRepo.SetResultMessage(ctx, job.ID, "error: "+err.Error()); setErr != nil {
			logger.Error("failed to record reconcile error", "job_id", job.ID, "error", setErr)
		}
		return err
	}

	if err := d.jobRepo.SetResultMessage(ctx, job.ID, result.String()); err != nil {
		return err
	}
	return d.jobRepo.UpdateProgress(ctx, job.ID, 100)
}

func (d *Dispatcher) handleSend(ctx context.Context, envelope model.JobEnvelope) error {
	result, err := d.sender.ProcessQueue(ctx)
	if err != nil {
		return err
	}
	if envelope.JobID != 0 {
		return d.finishMaintenance(ctx, envelope.JobID, result.String())
	}
	return nil
}

func (d *Dispatcher) handleReassemble(ctx context.Context, envelope model.JobEnvelope) error {
	result, err := d.reassembler.Process(ctx)
	if err != nil {
		return err
	}
	if envelope.JobID != 0 {
		return d.finishMaintenance(ctx, envelope.JobID, result.String())
	}
	return nil
}

// handleClearOldJobs sweeps stale job records. The delete retries with
// backoff because it races other workers' writes on a busy table.
func (d *Dispatcher) handleClearOldJobs(ctx context.Context) error {
	cutoff := time.Now().Add(-d.retention)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	var deleted int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		deleted, err = d.jobRepo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("cleared old job records", "deleted", deleted, "cutoff", cutoff)
	return nil
}

func (d *Dispatcher) finishMaintenance(ctx context.Context, jobID int64, result string) error {
	if err := d.jobRepo.SetResultMessage(ctx, jobID, result); err != nil {
		return err
	}
	return d.jobRepo.UpdateProgress(ctx, jobID, 100)
}
