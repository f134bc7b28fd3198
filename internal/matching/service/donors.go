package service

import (
	"context"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/access"
	"organmatch/internal/matching/models"
	"organmatch/internal/matching/store"
	id "organmatch/pkg/domain"
)

// AddDonor registers a donor under the calling authority.
func (s *Service) AddDonor(ctx context.Context, data models.DonorData) (*models.Donor, error) {
	var out *models.Donor
	err := s.mutate(ctx, access.OpAddDonor, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		if _, err := authorize(ctx, uow, access.Request{Operation: access.OpAddDonor, Caller: caller}); err != nil {
			return nil, err
		}
		if err := data.Validate(s.maxNotes); err != nil {
			return nil, err
		}

		donor, err := models.NewDonor(id.NewDonorID(), caller, data, now)
		if err != nil {
			return nil, err
		}
		if err := uow.PutDonor(donor); err != nil {
			return nil, err
		}
		out = donor
		return []ledger.Event{{Type: EventDonorAdded, Payload: DonorAdded{
			DonorID:   donor.ID,
			Authority: caller,
			OrganType: data.OrganType,
			BloodType: data.BloodType,
		}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkWithdrawn withdraws a donor for good.
func (s *Service) MarkWithdrawn(ctx context.Context, donorID id.DonorID) (*models.Donor, error) {
	var out *models.Donor
	err := s.mutate(ctx, access.OpMarkWithdrawn, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		donor, err := uow.Donor(ctx, donorID)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}

		req := access.Request{Operation: access.OpMarkWithdrawn, Caller: caller}
		if donor != nil {
			req.Owner = &donor.Authority
		}
		if _, err := authorize(ctx, uow, req); err != nil {
			return nil, err
		}
		if donor == nil {
			return nil, notFound("donor")
		}
		if err := donor.CanWithdraw(); err != nil {
			return nil, err
		}

		donor.ApplyWithdrawal(now)
		if err := uow.PutDonor(donor); err != nil {
			return nil, err
		}
		out = donor
		return []ledger.Event{{Type: EventDonorWithdrawn, Payload: DonorWithdrawn{DonorID: donorID}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetDonor(ctx context.Context, donorID id.DonorID) (*models.Donor, error) {
	var out *models.Donor
	err := s.view(ctx, "get_donor", func(ctx context.Context, uow *store.UnitOfWork) error {
		donor, err := uow.Donor(ctx, donorID)
		if err := ignoreNotFound(err); err != nil {
			return err
		}
		if donor == nil {
			return notFound("donor")
		}
		out = donor
		return nil
	})
	return out, err
}
