package services

import (
	"context"
	"fmt"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/logger"
)

// ReconcilerService settles the difference between the client's desired
// texter roster and the persisted assignment state. Standard mode
// pre-claims contacts; dynamic mode only records per-texter caps and
// lets contacts be pulled lazily elsewhere.
type ReconcilerService struct {
	campaignRepo   *repository.CampaignRepository
	assignmentRepo *repository.AssignmentRepository
	contactRepo    *repository.ContactRepository
	notifier       Notifier
}

func NewReconcilerService(
	campaignRepo *repository.CampaignRepository,
	assignmentRepo *repository.AssignmentRepository,
	contactRepo *repository.ContactRepository,
	notifier Notifier,
) *ReconcilerService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ReconcilerService{
		campaignRepo:   campaignRepo,
		assignmentRepo: assignmentRepo,
		contactRepo:    contactRepo,
		notifier:       notifier,
	}
}

// ReconcileResult summarizes one committed reconciliation.
type ReconcileResult struct {
	NewAssignments     int
	UpdatedAssignments int
	ReleasedContacts   int64
	ClaimedContacts    int64
	DeletedAssignments int
	Unchanged          int
}

func (r ReconcileResult) String() string {
	return fmt.Sprintf("assigned contacts to %d new and %d existing texters (%d claimed, %d released, %d empty assignments removed, %d unchanged)",
		r.NewAssignments, r.UpdatedAssignments, r.ClaimedContacts, r.ReleasedContacts, r.DeletedAssignments, r.Unchanged)
}

// texterDelta is one classified roster entry.
type texterDelta struct {
	input     model.TexterInput
	agg       *model.AssignmentAggregate // nil for a texter with no persisted assignment
	unchanged bool
	demoted   bool
	intake    int // contacts this texter should (re)acquire in the walk
}

// Reconcile diffs the roster against persisted aggregates and applies
// the delta in a single transaction. Any failure rolls the whole
// reconciliation back; no partial assignment state is ever committed.
func (s *ReconcilerService) Reconcile(ctx context.Context, campaignID int64, roster []model.TexterInput) (*ReconcileResult, error) {
	campaign, err := s.campaignRepo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	aggs, err := s.assignmentRepo.AggregatesByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	byTexter := make(map[int64]*model.AssignmentAggregate, len(aggs))
	for _, a := range aggs {
		byTexter[a.TexterID] = a
	}

	deltas, removed := classify(roster, byTexter)

	result := &ReconcileResult{}
	var events []NotificationEvent

	err = s.assignmentRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		if campaign.UseDynamicAssignment {
			return s.applyDynamic(ctx, campaignID, deltas, result, &events)
		}
		return s.applyStandard(ctx, campaignID, deltas, removed, result, &events)
	})
	if err != nil {
		return nil, err
	}

	// Notifications are best effort and deliberately outside the
	// transaction: a dropped event never rolls back assignment state.
	for _, ev := range events {
		s.notifier.Notify(ctx, ev)
	}

	return result, nil
}

// classify splits the roster into unchanged/new/updated/demoted and
// pairs it with persisted assignments missing from the roster (removed
// texters, demoted by their full needs-message count).
func classify(roster []model.TexterInput, byTexter map[int64]*model.AssignmentAggregate) ([]texterDelta, []*model.AssignmentAggregate) {
	inRoster := make(map[int64]bool, len(roster))
	deltas := make([]texterDelta, 0, len(roster))

	for _, in := range roster {
		inRoster[in.ID] = true
		agg := byTexter[in.ID]

		if agg == nil {
			deltas = append(deltas, texterDelta{input: in, intake: in.NeedsMessageCount})
			continue
		}

		if in.NeedsMessageCount == agg.NeedsMessageCount &&
			in.ContactsCount == agg.FullContactCount &&
			intPtrEqual(in.MaxContacts, agg.MaxContacts) {
			deltas = append(deltas, texterDelta{input: in, agg: agg, unchanged: true})
			continue
		}

		// The correction compensates for the texter having texted more
		// contacts server-side than the client snapshot knew about.
		serverMessaged := agg.FullContactCount - agg.NeedsMessageCount
		clientMessaged := in.ContactsCount - in.NeedsMessageCount
		correction := serverMessaged - clientMessaged
		if correction < 0 {
			correction = 0
		}

		delta := in.NeedsMessageCount - agg.NeedsMessageCount - correction
		if delta < 0 {
			intake := in.NeedsMessageCount - correction
			if intake < 0 {
				intake = 0
			}
			deltas = append(deltas, texterDelta{input: in, agg: agg, demoted: true, intake: intake})
		} else {
			deltas = append(deltas, texterDelta{input: in, agg: agg, intake: delta})
		}
	}

	var removed []*model.AssignmentAggregate
	for texterID, agg := range byTexter {
		if !inRoster[texterID] {
			removed = append(removed, agg)
		}
	}
	return deltas, removed
}

func (s *ReconcilerService) applyStandard(ctx context.Context, campaignID int64, deltas []texterDelta, removed []*model.AssignmentAggregate, result *ReconcileResult, events *[]NotificationEvent) error {
	// 1. Every demoted assignment gives back all of its untexted
	// contacts, not just the delta; the walk below redistributes them.
	var demotedIDs []int64
	for _, d := range deltas {
		if d.demoted && d.agg != nil {
			demotedIDs = append(demotedIDs, d.agg.AssignmentID)
		}
	}
	for _, agg := range removed {
		demotedIDs = append(demotedIDs, agg.AssignmentID)
	}
	released, err := s.contactRepo.ReleaseNeedsMessage(ctx, demotedIDs)
	if err != nil {
		return fmt.Errorf("release demoted contacts: %w", err)
	}
	result.ReleasedContacts = released

	// 2. Size the pool once; the walk threads this counter through.
	available, err := s.contactRepo.CountUnassigned(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("count unassigned: %w", err)
	}

	// 3+4. Sequential fold over the roster. availableContacts is a
	// shared accumulator; this loop must never be parallelized.
	touched := make([]int64, 0, len(deltas))
	for _, d := range deltas {
		if d.unchanged {
			result.Unchanged++
			continue
		}

		toAssign := int64(d.intake)
		if toAssign > available {
			toAssign = available
		}

		if d.agg == nil && toAssign == 0 {
			continue
		}

		var assignmentID int64
		if d.agg == nil {
			created, err := s.assignmentRepo.Create(ctx, &model.Assignment{
				CampaignID:  campaignID,
				TexterID:    d.input.ID,
				MaxContacts: d.input.MaxContacts,
			})
			if err != nil {
				return fmt.Errorf("create assignment for texter %d: %w", d.input.ID, err)
			}
			assignmentID = created.ID
			result.NewAssignments++
			*events = append(*events, NotificationEvent{
				Type:         NotificationAssignmentCreated,
				CampaignID:   campaignID,
				AssignmentID: assignmentID,
				TexterID:     d.input.ID,
			})
		} else {
			assignmentID = d.agg.AssignmentID
			result.UpdatedAssignments++
			*events = append(*events, NotificationEvent{
				Type:         NotificationAssignmentUpdated,
				CampaignID:   campaignID,
				AssignmentID: assignmentID,
				TexterID:     d.input.ID,
			})
		}
		touched = append(touched, assignmentID)

		if toAssign > 0 {
			ids, err := s.contactRepo.ClaimUnassigned(ctx, campaignID, int(toAssign))
			if err != nil {
				return fmt.Errorf("claim contacts for texter %d: %w", d.input.ID, err)
			}
			assigned, err := s.contactRepo.AssignContacts(ctx, ids, assignmentID)
			if err != nil {
				return fmt.Errorf("assign contacts for texter %d: %w", d.input.ID, err)
			}
			result.ClaimedContacts += assigned
			available -= assigned
		}
	}

	// 6. Assignments drained to zero contacts are removed.
	for _, agg := range removed {
		touched = append(touched, agg.AssignmentID)
	}
	for _, id := range touched {
		deleted, err := s.assignmentRepo.DeleteIfEmpty(ctx, id)
		if err != nil {
			return fmt.Errorf("delete empty assignment %d: %w", id, err)
		}
		if deleted {
			result.DeletedAssignments++
		}
	}

	logger.Info("reconciled campaign assignments",
		"campaign_id", campaignID,
		"claimed", result.ClaimedContacts,
		"released", result.ReleasedContacts,
		"new", result.NewAssignments,
		"updated", result.UpdatedAssignments)
	return nil
}

// applyDynamic records capacity only: contacts are pulled lazily by
// texters, zero-contact assignments stay, and demotion happens by
// setting max_contacts to 0 outside this reconciler.
func (s *ReconcilerService) applyDynamic(ctx context.Context, campaignID int64, deltas []texterDelta, result *ReconcileResult, events *[]NotificationEvent) error {
	for _, d := range deltas {
		if d.unchanged {
			result.Unchanged++
			continue
		}

		if d.agg == nil {
			created, err := s.assignmentRepo.Create(ctx, &model.Assignment{
				CampaignID:  campaignID,
				TexterID:    d.input.ID,
				MaxContacts: d.input.MaxContacts,
			})
			if err != nil {
				return fmt.Errorf("create assignment for texter %d: %w", d.input.ID, err)
			}
			result.NewAssignments++
			*events = append(*events, NotificationEvent{
				Type:         NotificationAssignmentCreated,
				CampaignID:   campaignID,
				AssignmentID: created.ID,
				TexterID:     d.input.ID,
			})
			continue
		}

		if err := s.assignmentRepo.UpdateMaxContacts(ctx, d.agg.AssignmentID, d.input.MaxContacts); err != nil {
			return fmt.Errorf("update max_contacts for texter %d: %w", d.input.ID, err)
		}
		result.UpdatedAssignments++
		*events = append(*events, NotificationEvent{
			Type:         NotificationAssignmentUpdated,
			CampaignID:   campaignID,
			AssignmentID: d.agg.AssignmentID,
			TexterID:     d.input.ID,
		})
	}
	return nil
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
