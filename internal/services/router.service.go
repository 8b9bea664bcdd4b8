package services

import (
	"context"
	"errors"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
)

// RouterService keeps every destination number sending from the same
// identity for the organization's lifetime. Bindings are append-only;
// the first writer wins, even when two workers race on the same cell.
type RouterService struct {
	identityRepo *repository.IdentityRepository
}

func NewRouterService(identityRepo *repository.IdentityRepository) *RouterService {
	return &RouterService{identityRepo: identityRepo}
}

// ResolveIdentity returns the bound identity for (cell, organization),
// creating the binding on first use by picking the least-loaded
// candidate.
func (s *RouterService) ResolveIdentity(ctx context.Context, cell string, organizationID int64) (string, error) {
	binding, err := s.identityRepo.FindBinding(ctx, cell, organizationID)
	if err == nil {
		return binding.IdentityID, nil
	}
	if !errors.Is(err, repository.ErrBindingMissing) {
		return "", err
	}

	candidate, err := s.identityRepo.LeastLoadedIdentity(ctx, organizationID)
	if err != nil {
		return "", err
	}

	// Conflict-ignore insert plus re-read: whichever writer got there
	// first owns the binding forever.
	winner, err := s.identityRepo.CreateBinding(ctx, cell, organizationID, candidate)
	if err != nil {
		return "", err
	}
	return winner.IdentityID, nil
}

// ResolveIdentitiesBulk binds many unbound cells at once, spreading
// them round-robin over the organization's candidates. This does not
// account for existing per-identity skew; it is a documented
// approximation, good enough for bulk imports.
func (s *RouterService) ResolveIdentitiesBulk(ctx context.Context, cells []string, organizationID int64) (map[string]string, error) {
	if len(cells) == 0 {
		return map[string]string{}, nil
	}

	candidates, err := s.identityRepo.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, repository.ErrNoIdentities
	}

	bindings := make([]*model.StickyBinding, len(cells))
	for i, cell := range cells {
		bindings[i] = &model.StickyBinding{
			Cell:           cell,
			OrganizationID: organizationID,
			IdentityID:     candidates[i%len(candidates)].ID,
		}
	}
	if err := s.identityRepo.CreateBindingsBulk(ctx, bindings); err != nil {
		return nil, err
	}

	// Read back the winners: any cell bound concurrently keeps its
	// original identity, not the one we proposed.
	out := make(map[string]string, len(cells))
	for _, cell := range cells {
		b, err := s.identityRepo.FindBinding(ctx, cell, organizationID)
		if err != nil {
			return nil, err
		}
		out[cell] = b.IdentityID
	}
	return out, nil
}
