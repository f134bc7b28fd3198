package service

import (
	"context"
	"time"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/access"
	"organmatch/internal/matching/models"
	"organmatch/internal/matching/store"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// Initialize creates the program singleton with admin as its administrator.
// A nil admin makes the caller the administrator.
func (s *Service) Initialize(ctx context.Context, admin id.AccountID) (*models.ProgramState, error) {
	var out *models.ProgramState
	err := s.mutate(ctx, access.OpInitialize, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		in, err := authorize(ctx, uow, access.Request{Operation: access.OpInitialize, Caller: caller})
		if err != nil {
			return nil, err
		}
		if in.program != nil {
			return nil, dErrors.New(dErrors.CodeAlreadyInitialized, "program is already initialized")
		}
		if admin.IsNil() {
			admin = caller
		}
		program, err := models.NewProgramState(admin, now)
		if err != nil {
			return nil, err
		}
		if err := uow.PutProgram(program); err != nil {
			return nil, err
		}
		out = program
		return []ledger.Event{{Type: EventProgramInitialized, Payload: ProgramInitialized{Admin: admin}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetMedicalAuthority grants or revokes the authority role. Records are
// created on first grant and never deleted.
func (s *Service) SetMedicalAuthority(ctx context.Context, authority id.AccountID, isActive bool) (*models.MedicalAuthority, error) {
	var out *models.MedicalAuthority
	err := s.mutate(ctx, access.OpSetMedicalAuthority, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		if _, err := authorize(ctx, uow, access.Request{Operation: access.OpSetMedicalAuthority, Caller: caller}); err != nil {
			return nil, err
		}

		record, err := uow.Authority(ctx, authority)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}
		created := record == nil
		if created {
			record, err = models.NewMedicalAuthority(authority, isActive, now)
			if err != nil {
				return nil, err
			}
		} else {
			record.ApplyActivation(isActive, now)
		}
		if err := uow.PutAuthority(record); err != nil {
			return nil, err
		}
		out = record
		return []ledger.Event{{Type: EventAuthorityUpdated, Payload: AuthorityUpdated{
			Authority: authority,
			IsActive:  isActive,
			Created:   created,
		}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Pause(ctx context.Context) (*models.ProgramState, error) {
	return s.toggle(ctx, access.OpPause, EventProgramPaused,
		(*models.ProgramState).CanPause, (*models.ProgramState).ApplyPause)
}

func (s *Service) Unpause(ctx context.Context) (*models.ProgramState, error) {
	return s.toggle(ctx, access.OpUnpause, EventProgramUnpaused,
		(*models.ProgramState).CanUnpause, (*models.ProgramState).ApplyUnpause)
}

func (s *Service) toggle(
	ctx context.Context,
	op access.Operation,
	event ledger.EventType,
	can func(*models.ProgramState) error,
	apply func(*models.ProgramState, time.Time),
) (*models.ProgramState, error) {
	var out *models.ProgramState
	err := s.mutate(ctx, op, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		in, err := authorize(ctx, uow, access.Request{Operation: op, Caller: caller})
		if err != nil {
			return nil, err
		}
		program := in.program
		if err := can(program); err != nil {
			return nil, err
		}
		apply(program, now)
		if err := uow.PutProgram(program); err != nil {
			return nil, err
		}
		out = program
		return []ledger.Event{{Type: event, Payload: ProgramToggled{Admin: caller}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetProgram(ctx context.Context) (*models.ProgramState, error) {
	var out *models.ProgramState
	err := s.view(ctx, "get_program", func(ctx context.Context, uow *store.UnitOfWork) error {
		program, err := uow.Program(ctx)
		if err := ignoreNotFound(err); err != nil {
			return err
		}
		if program == nil {
			return notFound("program")
		}
		out = program
		return nil
	})
	return out, err
}

func (s *Service) GetAuthority(ctx context.Context, authority id.AccountID) (*models.MedicalAuthority, error) {
	var out *models.MedicalAuthority
	err := s.view(ctx, "get_authority", func(ctx context.Context, uow *store.UnitOfWork) error {
		record, err := uow.Authority(ctx, authority)
		if err := ignoreNotFound(err); err != nil {
			return err
		}
		if record == nil {
			return notFound("medical authority")
		}
		out = record
		return nil
	})
	return out, err
}
