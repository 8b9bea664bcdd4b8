package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/internal/warehouse"
	"github.com/relaytext/campaign-engine/pkg/logger"
)

const (
	defaultImportStep  = 10000
	defaultInsertBatch = 1000
	// Loading takes the progress bar to 90; the cleanup passes own the
	// rest.
	loadProgressCeiling = 90
)

// ErrWarehouseUnavailable marks a warehouse job accepted by a worker
// with no warehouse connection configured. The job fails with a result
// message instead of crashing the pool on a nil client.
var ErrWarehouseUnavailable = errors.New("warehouse connection is not configured")

// Publisher is the slice of the queue the import pipeline needs to hand
// its continuation fragments to. Tests substitute an in-memory fake.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// ImportService loads campaign contacts, either from an inline payload
// or page by page out of an external data warehouse. Warehouse imports
// are resumable: each fragment re-enqueues its successor, and a deleted
// job record stops the chain cold.
type ImportService struct {
	jobRepo     *repository.JobRepository
	contactRepo *repository.ContactRepository
	wh          *warehouse.Client
	publisher   Publisher
	step        int
	insertBatch int
}

func NewImportService(
	jobRepo *repository.JobRepository,
	contactRepo *repository.ContactRepository,
	wh *warehouse.Client,
	publisher Publisher,
) *ImportService {
	return &ImportService{
		jobRepo:     jobRepo,
		contactRepo: contactRepo,
		wh:          wh,
		publisher:   publisher,
		step:        defaultImportStep,
		insertBatch: defaultInsertBatch,
	}
}

// WarehousePayload is the payload of a loadContactsFromDataWarehouse job.
type WarehousePayload struct {
	Query string `json:"query"`
}

// UploadPayload is the payload of an uploadContacts job.
type UploadPayload struct {
	Contacts []UploadContact `json:"contacts"`
}

type UploadContact struct {
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Cell         string            `json:"cell"`
	Timezone     string            `json:"timezone"`
	CustomFields map[string]string `json:"custom_fields"`
}

// StartWarehouseImport validates the caller's statement, sizes the
// fragment plan and enqueues the first fragment. Validation failures
// abort before any contact row is written.
func (s *ImportService) StartWarehouseImport(ctx context.Context, job *model.Job) error {
	var payload WarehousePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return s.fail(ctx, job.ID, fmt.Errorf("decode warehouse payload: %w", err))
	}

	if s.wh == nil {
		return s.fail(ctx, job.ID, ErrWarehouseUnavailable)
	}

	if err := warehouse.ValidateStatement(payload.Query); err != nil {
		return s.fail(ctx, job.ID, err)
	}
	if _, err := s.wh.ValidateColumns(ctx, payload.Query); err != nil {
		return s.fail(ctx, job.ID, err)
	}

	total, err := s.wh.Count(ctx, payload.Query)
	if err != nil {
		return s.fail(ctx, job.ID, err)
	}

	totalParts := int((total + int64(s.step) - 1) / int64(s.step))
	if totalParts == 0 {
		totalParts = 1
	}

	// A statement that pages itself cannot be wrapped per fragment
	// without corrupting its window; single-fragment imports are exempt.
	if totalParts > 1 && warehouse.HasLimitClause(payload.Query) {
		return s.fail(ctx, job.ID, warehouse.ErrLimitClause)
	}

	logger.Info("starting warehouse import",
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"total_rows", total,
		"total_parts", totalParts)

	return s.ProcessFragment(ctx, model.WarehouseFragment{
		JobID:          job.ID,
		CampaignID:     job.CampaignID,
		OrganizationID: job.OrganizationID,
		Query:          payload.Query,
		TotalParts:     totalParts,
		TotalCount:     total,
		Step:           s.step,
		Part:           0,
		Offset:         0,
		Limit:          int64(s.step),
	})
}

// ProcessFragment loads one warehouse page, then either enqueues the
// next fragment or runs the finishing cleanup passes. Delivery is
// at-least-once, so the first thing it does is check the job record
// still exists; a missing record means cancellation and the fragment is
// dropped silently.
func (s *ImportService) ProcessFragment(ctx context.Context, frag model.WarehouseFragment) error {
	exists, err := s.jobRepo.Exists(ctx, frag.JobID)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info("dropping fragment for cancelled import", "job_id", frag.JobID, "part", frag.Part)
		return nil
	}

	if s.wh == nil {
		return s.fail(ctx, frag.JobID, ErrWarehouseUnavailable)
	}

	rows, err := s.wh.FetchPage(ctx, frag.Query, frag.Limit, frag.Offset)
	if err != nil {
		return s.fail(ctx, frag.JobID, fmt.Errorf("fetch fragment %d: %w", frag.Part, err))
	}

	contacts := make([]*model.Contact, 0, len(rows))
	for _, row := range rows {
		extra, _ := json.Marshal(row.Extra)
		contacts = append(contacts, &model.Contact{
			CampaignID:   frag.CampaignID,
			FirstName:    row.FirstName,
			LastName:     row.LastName,
			Cell:         row.Cell,
			CustomFields: extra,
			Status:       model.MessageStatusNeedsMessage,
		})
	}
	if err := s.contactRepo.CreateInBatches(ctx, contacts, s.insertBatch); err != nil {
		return s.fail(ctx, frag.JobID, fmt.Errorf("insert fragment %d: %w", frag.Part, err))
	}

	progress := (frag.Part + 1) * loadProgressCeiling / frag.TotalParts
	if err := s.jobRepo.UpdateProgress(ctx, frag.JobID, progress); err != nil {
		return err
	}

	if frag.Part+1 < frag.TotalParts {
		next := frag
		next.Part++
		next.Offset += int64(frag.Step)
		envelope := model.JobEnvelope{
			Kind:           model.JobKindWarehouseFragment,
			JobID:          frag.JobID,
			CampaignID:     frag.CampaignID,
			OrganizationID: frag.OrganizationID,
		}
		envelope.Payload, _ = json.Marshal(next)
		if _, err := s.publisher.PublishJSON(ctx, envelope, nil); err != nil {
			return fmt.Errorf("enqueue fragment %d: %w", next.Part, err)
		}
		return nil
	}

	return s.finish(ctx, frag.JobID, frag.CampaignID, frag.OrganizationID, frag.TotalCount)
}

// UploadContacts replaces a campaign's contact list with the job's
// inline payload and runs the same cleanup passes as the warehouse path.
func (s *ImportService) UploadContacts(ctx context.Context, job *model.Job) error {
	var payload UploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return s.fail(ctx, job.ID, fmt.Errorf("decode upload payload: %w", err))
	}

	err := s.contactRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.contactRepo.DeleteByCampaign(ctx, job.CampaignID); err != nil {
			return err
		}
		contacts := make([]*model.Contact, 0, len(payload.Contacts))
		for _, c := range payload.Contacts {
			extra, _ := json.Marshal(c.CustomFields)
			contacts = append(contacts, &model.Contact{
				CampaignID:   job.CampaignID,
				FirstName:    c.FirstName,
				LastName:     c.LastName,
				Cell:         c.Cell,
				Timezone:     c.Timezone,
				CustomFields: extra,
				Status:       model.MessageStatusNeedsMessage,
			})
		}
		return s.contactRepo.CreateInBatches(ctx, contacts, s.insertBatch)
	})
	if err != nil {
		return s.fail(ctx, job.ID, err)
	}

	if err := s.jobRepo.UpdateProgress(ctx, job.ID, loadProgressCeiling); err != nil {
		return err
	}
	return s.finish(ctx, job.ID, job.CampaignID, job.OrganizationID, int64(len(payload.Contacts)))
}

// finish runs the three cleanup passes, each in its own transaction so a
// crash between passes loses no completed work, then records the final
// tally. Pass order matters: opt-outs, then malformed cells, then
// duplicates keeping the lowest id.
func (s *ImportService) finish(ctx context.Context, jobID, campaignID, organizationID, loaded int64) error {
	var optedOut, invalid, duplicates int64

	err := s.contactRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		optedOut, err = s.contactRepo.DeleteOptedOut(ctx, campaignID, organizationID)
		return err
	})
	if err != nil {
		return s.fail(ctx, jobID, fmt.Errorf("opt-out cleanup: %w", err))
	}

	err = s.contactRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		invalid, err = s.contactRepo.DeleteInvalidCells(ctx, campaignID)
		return err
	})
	if err != nil {
		return s.fail(ctx, jobID, fmt.Errorf("invalid-cell cleanup: %w", err))
	}

	err = s.contactRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		duplicates, err = s.contactRepo.DeleteDuplicateCells(ctx, campaignID)
		return err
	})
	if err != nil {
		return s.fail(ctx, jobID, fmt.Errorf("duplicate cleanup: %w", err))
	}

	remaining, err := s.contactRepo.CountByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	result := fmt.Sprintf("loaded %d contacts, kept %d (%d opted out, %d invalid cells, %d duplicates removed)",
		loaded, remaining, optedOut, invalid, duplicates)
	if err := s.jobRepo.SetResultMessage(ctx, jobID, result); err != nil {
		return err
	}
	if err := s.jobRepo.UpdateProgress(ctx, jobID, 100); err != nil {
		return err
	}

	logger.Info("contact import finished", "job_id", jobID, "campaign_id", campaignID, "result", result)
	return nil
}

// fail records the error on the job so operators can see it, then
// returns it so the queue layer counts the failure.
func (s *ImportService) fail(ctx context.Context, jobID int64, cause error) error {
	if err := s.jobRepo.SetResultMessage(ctx, jobID, "error: "+cause.Error()); err != nil {
		logger.Error("failed to record job error", "job_id", jobID, "error", err)
	}
	return cause
}
