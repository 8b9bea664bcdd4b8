package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/internal/storage"
	"github.com/relaytext/campaign-engine/pkg/logger"
)

const exportPageSize = 5000

// ExportService renders a campaign's contacts and message history to
// CSV and uploads both artifacts for download.
type ExportService struct {
	jobRepo      *repository.JobRepository
	campaignRepo *repository.CampaignRepository
	contactRepo  *repository.ContactRepository
	messageRepo  *repository.MessageRepository
	uploader     storage.Uploader
	notifier     Notifier
}

func NewExportService(
	jobRepo *repository.JobRepository,
	campaignRepo *repository.CampaignRepository,
	contactRepo *repository.ContactRepository,
	messageRepo *repository.MessageRepository,
	uploader storage.Uploader,
	notifier Notifier,
) *ExportService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ExportService{
		jobRepo:      jobRepo,
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		messageRepo:  messageRepo,
		uploader:     uploader,
		notifier:     notifier,
	}
}

// Export renders and uploads both artifacts, then records the download
// URLs on the job.
func (s *ExportService) Export(ctx context.Context, job *model.Job) error {
	campaign, err := s.campaignRepo.Get(ctx, job.CampaignID)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	contactsCSV, contactIDs, err := s.renderContacts(ctx, campaign.ID)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("render contacts: %w", err))
	}
	if err := s.jobRepo.UpdateProgress(ctx, job.ID, 50); err != nil {
		return err
	}

	messagesCSV, err := s.renderMessages(ctx, contactIDs)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("render messages: %w", err))
	}

	exportID := uuid.New().String()
	contactsKey := fmt.Sprintf("exports/%d/%s-contacts.csv", campaign.ID, exportID)
	messagesKey := fmt.Sprintf("exports/%d/%s-messages.csv", campaign.ID, exportID)

	if err := s.uploader.Upload(ctx, contactsKey, "text/csv", contactsCSV); err != nil {
		return s.fail(ctx, job, fmt.Errorf("upload contacts artifact: %w", err))
	}
	if err := s.uploader.Upload(ctx, messagesKey, "text/csv", messagesCSV); err != nil {
		return s.fail(ctx, job, fmt.Errorf("upload messages artifact: %w", err))
	}

	result := fmt.Sprintf("contacts: %s messages: %s",
		s.uploader.DownloadURL(contactsKey), s.uploader.DownloadURL(messagesKey))
	if err := s.jobRepo.SetResultMessage(ctx, job.ID, result); err != nil {
		return err
	}
	if err := s.jobRepo.UpdateProgress(ctx, job.ID, 100); err != nil {
		return err
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Type:       NotificationExportReady,
		CampaignID: campaign.ID,
	})
	logger.Info("campaign export finished", "job_id", job.ID, "campaign_id", campaign.ID)
	return nil
}

func (s *ExportService) renderContacts(ctx context.Context, campaignID int64) ([]byte, []int64, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"contact_id", "first_name", "last_name", "cell", "message_status", "custom_fields"}); err != nil {
		return nil, nil, err
	}

	var ids []int64
	for offset := 0; ; offset += exportPageSize {
		page, err := s.contactRepo.ListByCampaign(ctx, campaignID, exportPageSize, offset)
		if err != nil {
			return nil, nil, err
		}
		for _, c := range page {
			ids = append(ids, c.ID)
			custom := ""
			if len(c.CustomFields) > 0 {
				var compact bytes.Buffer
				if err := json.Compact(&compact, c.CustomFields); err == nil {
					custom = compact.String()
				}
			}
			record := []string{
				strconv.FormatInt(c.ID, 10),
				c.FirstName,
				c.LastName,
				c.Cell,
				string(c.Status),
				custom,
			}
			if err := w.Write(record); err != nil {
				return nil, nil, err
			}
		}
		if len(page) < exportPageSize {
			break
		}
	}

	w.Flush()
	return buf.Bytes(), ids, w.Error()
}

func (s *ExportService) renderMessages(ctx context.Context, contactIDs []int64) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"message_id", "contact_id", "direction", "user_number", "contact_number", "send_status", "text", "sent_at"}); err != nil {
		return nil, err
	}

	// Page through the contact ids to keep the IN clause bounded.
	for start := 0; start < len(contactIDs); start += exportPageSize {
		end := start + exportPageSize
		if end > len(contactIDs) {
			end = len(contactIDs)
		}
		messages, err := s.messageRepo.ListByContactIDs(ctx, contactIDs[start:end])
		if err != nil {
			return nil, err
		}
		for _, m := range messages {
			direction := "outbound"
			if m.IsFromContact {
				direction = "inbound"
			}
			sentAt := ""
			if m.SentAt != nil {
				sentAt = m.SentAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			record := []string{
				strconv.FormatInt(m.ID, 10),
				strconv.FormatInt(m.ContactID, 10),
				direction,
				m.UserNumber,
				m.ContactNumber,
				string(m.SendStatus),
				m.Text,
				sentAt,
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (s *ExportService) fail(ctx context.Context, job *model.Job, cause error) error {
	if err := s.jobRepo.SetResultMessage(ctx, job.ID, "error: "+cause.Error()); err != nil {
		logger.Error("failed to record export error", "job_id", job.ID, "error", err)
	}
	s.notifier.Notify(ctx, NotificationEvent{
		Type:       NotificationExportFailed,
		CampaignID: job.CampaignID,
	})
	return cause
}
