package service

import (
	"context"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/access"
	"organmatch/internal/matching/models"
	"organmatch/internal/matching/store"
	id "organmatch/pkg/domain"
)

// UpsertRecipient creates or updates the recipient record of patient. A nil
// patient targets the caller's own record.
//
// Creating sets created_at and increments the program's recipient count.
// Updating an existing record changes only the mutable fields (urgency,
// distance, notes); the other fields of data are ignored.
func (s *Service) UpsertRecipient(ctx context.Context, patient *id.AccountID, data models.RecipientData) (*models.Recipient, error) {
	var out *models.Recipient
	err := s.mutate(ctx, access.OpUpsertRecipient, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		target := caller
		if patient != nil {
			target = *patient
		}

		existing, err := uow.Recipient(ctx, target)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}
		in, err := authorize(ctx, uow, access.Request{
			Operation: access.OpUpsertRecipient,
			Caller:    caller,
			Owner:     &target,
		})
		if err != nil {
			return nil, err
		}
		if err := data.Validate(s.maxNotes); err != nil {
			return nil, err
		}

		record := existing
		created := record == nil
		if created {
			program := in.program
			if err := program.CanRegisterRecipient(); err != nil {
				return nil, err
			}
			record, err = models.NewRecipient(target, data, now)
			if err != nil {
				return nil, err
			}
			program.ApplyRecipientRegistered(now)
			if err := uow.PutProgram(program); err != nil {
				return nil, err
			}
		} else {
			if err := record.CanUpdate(); err != nil {
				return nil, err
			}
			record.ApplyUpdate(data, now)
		}
		if err := uow.PutRecipient(record); err != nil {
			return nil, err
		}
		out = record

		return []ledger.Event{{Type: EventRecipientUpdated, Payload: RecipientUpdated{
			Patient:        target,
			Created:        created,
			MedicalUrgency: record.Data.MedicalUrgency,
			OrganType:      record.Data.OrganType,
			BloodType:      record.Data.BloodType,
		}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRemoved takes a recipient off the waiting list for good.
func (s *Service) MarkRemoved(ctx context.Context, patient id.AccountID) (*models.Recipient, error) {
	var out *models.Recipient
	err := s.mutate(ctx, access.OpMarkRemoved, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		record, err := uow.Recipient(ctx, patient)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}

		req := access.Request{Operation: access.OpMarkRemoved, Caller: caller}
		if record != nil {
			req.Owner = &record.Authority
		}
		if _, err := authorize(ctx, uow, req); err != nil {
			return nil, err
		}
		if record == nil {
			return nil, notFound("recipient")
		}
		if err := record.CanRemove(); err != nil {
			return nil, err
		}

		record.ApplyRemoval(now)
		if err := uow.PutRecipient(record); err != nil {
			return nil, err
		}
		out = record
		return []ledger.Event{{Type: EventRecipientRemoved, Payload: RecipientRemoved{Patient: patient}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetRecipient(ctx context.Context, patient id.AccountID) (*models.Recipient, error) {
	var out *models.Recipient
	err := s.view(ctx, "get_recipient", func(ctx context.Context, uow *store.UnitOfWork) error {
		record, err := uow.Recipient(ctx, patient)
		if err := ignoreNotFound(err); err != nil {
			return err
		}
		if record == nil {
			return notFound("recipient")
		}
		out = record
		return nil
	})
	return out, err
}
