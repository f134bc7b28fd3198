package service

import (
	"context"
	"time"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/access"
	"organmatch/internal/matching/engine"
	"organmatch/internal/matching/models"
	"organmatch/internal/matching/store"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// FindBestMatch proposes a pending match between donor and the best eligible
// recipient. Donor and recipient keep their status; both are linked to the
// match until it is confirmed or rejected.
func (s *Service) FindBestMatch(ctx context.Context, donorID id.DonorID) (*models.Match, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveFindMatchLatency(time.Since(start))
	}()

	var (
		out  *models.Match
		best *engine.Result
	)
	err := s.mutate(ctx, access.OpFindBestMatch, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		if _, err := authorize(ctx, uow, access.Request{Operation: access.OpFindBestMatch, Caller: caller}); err != nil {
			return nil, err
		}

		donor, err := uow.Donor(ctx, donorID)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}
		if donor == nil {
			return nil, notFound("donor")
		}
		if err := donor.CanSeekMatch(); err != nil {
			return nil, err
		}

		best, err = s.matcher.Select(ctx, uow, donor)
		if err != nil {
			return nil, err
		}
		recipient := best.Recipient

		match := models.NewMatch(id.NewMatchID(), recipient.Authority, donor.ID, best.Score, now)
		donor.ApplyMatchProposed(match.ID, now)
		recipient.ApplyMatchProposed(match.ID, now)
		if err := uow.PutMatch(match); err != nil {
			return nil, err
		}
		if err := uow.PutDonor(donor); err != nil {
			return nil, err
		}
		if err := uow.PutRecipient(recipient); err != nil {
			return nil, err
		}
		out = match

		s.logger.DebugContext(ctx, "match candidate selected",
			"donor_id", donor.ID.String(),
			"recipient", recipient.Authority.String(),
			"score", best.Score,
			"eligible", best.Eligible,
		)
		return []ledger.Event{{Type: EventMatchFound, Payload: MatchFound{
			MatchID:   match.ID,
			DonorID:   donor.ID,
			Recipient: recipient.Authority,
			Score:     best.Score,
		}}}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveMatch(best.Score, best.Eligible)
	return out, nil
}

// ConfirmMatch settles a pending match: donor and recipient become matched
// and, when the caller is an active authority, its verified match count grows
// by one.
func (s *Service) ConfirmMatch(ctx context.Context, matchID id.MatchID) (*models.Match, error) {
	return s.decide(ctx, access.OpConfirmMatch, matchID)
}

// RejectMatch discards a pending match. Donor and recipient stay active and
// become eligible for future matches again.
func (s *Service) RejectMatch(ctx context.Context, matchID id.MatchID) (*models.Match, error) {
	return s.decide(ctx, access.OpRejectMatch, matchID)
}

func (s *Service) decide(ctx context.Context, op access.Operation, matchID id.MatchID) (*models.Match, error) {
	var out *models.Match
	err := s.mutate(ctx, op, func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error) {
		caller, now := callerAndNow(ctx)
		match, err := uow.Match(ctx, matchID)
		if err := ignoreNotFound(err); err != nil {
			return nil, err
		}

		req := access.Request{Operation: op, Caller: caller}
		if match != nil {
			req.RecipientOwner = &match.Recipient
		}
		in, err := authorize(ctx, uow, req)
		if err != nil {
			return nil, err
		}
		if match == nil {
			return nil, notFound("match")
		}

		confirm := op == access.OpConfirmMatch
		if confirm {
			err = match.CanConfirm()
		} else {
			err = match.CanReject()
		}
		if err != nil {
			return nil, err
		}

		donor, recipient, err := loadParties(ctx, uow, match)
		if err != nil {
			return nil, err
		}
		if err := donor.CanSettleMatch(match.ID); err != nil {
			return nil, err
		}
		if err := recipient.CanSettleMatch(match.ID); err != nil {
			return nil, err
		}

		event := EventMatchRejected
		if confirm {
			event = EventMatchConfirmed
			if auth := in.callerAuthority; auth != nil && auth.IsActive {
				if err := auth.CanRecordVerifiedMatch(); err != nil {
					return nil, err
				}
				auth.ApplyVerifiedMatch(now)
				if err := uow.PutAuthority(auth); err != nil {
					return nil, err
				}
			}
			match.ApplyConfirmation(caller, now)
			donor.ApplyMatchConfirmed(now)
			recipient.ApplyMatchConfirmed(now)
		} else {
			match.ApplyRejection(caller, now)
			donor.ApplyMatchRejected(now)
			recipient.ApplyMatchRejected(now)
		}

		if err := uow.PutMatch(match); err != nil {
			return nil, err
		}
		if err := uow.PutDonor(donor); err != nil {
			return nil, err
		}
		if err := uow.PutRecipient(recipient); err != nil {
			return nil, err
		}
		out = match
		return []ledger.Event{{Type: event, Payload: MatchDecided{
			MatchID:   match.ID,
			DonorID:   match.Donor,
			Recipient: match.Recipient,
			DecidedBy: caller,
		}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadParties reads the donor and recipient a match links. A missing party
// means the store is inconsistent.
func loadParties(ctx context.Context, uow *store.UnitOfWork, match *models.Match) (*models.Donor, *models.Recipient, error) {
	donor, err := uow.Donor(ctx, match.Donor)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "match references an unreadable donor")
	}
	recipient, err := uow.Recipient(ctx, match.Recipient)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "match references an unreadable recipient")
	}
	return donor, recipient, nil
}

func (s *Service) GetMatch(ctx context.Context, matchID id.MatchID) (*models.Match, error) {
	var out *models.Match
	err := s.view(ctx, "get_match", func(ctx context.Context, uow *store.UnitOfWork) error {
		match, err := uow.Match(ctx, matchID)
		if err := ignoreNotFound(err); err != nil {
			return err
		}
		if match == nil {
			return notFound("match")
		}
		out = match
		return nil
	})
	return out, err
}
