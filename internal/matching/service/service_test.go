package service

//go:generate mockgen -source=publisher.go -destination=mocks/mocks.go -package=mocks Publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/engine"
	"organmatch/internal/matching/metrics"
	"organmatch/internal/matching/models"
	"organmatch/internal/matching/scoring"
	"organmatch/internal/matching/service/mocks"
	"organmatch/internal/matching/store"
	"organmatch/internal/storage"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
	"organmatch/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	backend *storage.Memory
	ledger  *ledger.Ledger
	service *Service

	admin     id.AccountID
	authority id.AccountID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.backend = storage.NewMemory()
	s.ledger = ledger.New(ledger.NewMemoryStore())
	s.service = s.newService(WithPublisher(s.ledger))
	s.admin = id.AccountID(uuid.New())
	s.authority = id.AccountID(uuid.New())
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
	}
	return New(store.New(s.backend), engine.New(scoring.NewDefault()), append(base, opts...)...)
}

// as returns a context for caller at the suite clock plus offset.
func (s *ServiceSuite) as(caller id.AccountID, offset time.Duration) context.Context {
	ctx := requestcontext.WithCaller(s.ctx, caller)
	return requestcontext.WithTime(ctx, s.now.Add(offset))
}

func (s *ServiceSuite) bootstrap() {
	_, err := s.service.Initialize(s.as(s.admin, 0), s.admin)
	s.Require().NoError(err)
	_, err = s.service.SetMedicalAuthority(s.as(s.admin, time.Minute), s.authority, true)
	s.Require().NoError(err)
}

func kidney(blood id.BloodType, urgency uint8) models.RecipientData {
	return models.RecipientData{
		MedicalUrgency:       urgency,
		GeographicalDistance: 250,
		HLAMarkers:           models.HLAMarkers{1, 2, 3, 4, 5},
		BloodType:            blood,
		OrganType:            id.OrganKidney,
		Age:                  45,
	}
}

func kidneyDonor(blood id.BloodType) models.DonorData {
	return models.DonorData{
		HLAMarkers: models.HLAMarkers{1, 2, 3, 9, 9},
		BloodType:  blood,
		OrganType:  id.OrganKidney,
	}
}

func (s *ServiceSuite) addRecipient(patient id.AccountID, data models.RecipientData, offset time.Duration) *models.Recipient {
	r, err := s.service.UpsertRecipient(s.as(s.authority, offset), &patient, data)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) addDonor(data models.DonorData, offset time.Duration) *models.Donor {
	d, err := s.service.AddDonor(s.as(s.authority, offset), data)
	s.Require().NoError(err)
	return d
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "error: %v", err)
}

func (s *ServiceSuite) TestMatchLifecycle() {
	s.bootstrap()
	r1, r2 := id.AccountID(uuid.New()), id.AccountID(uuid.New())
	s.addRecipient(r1, kidney(id.BloodOMinus, 85), time.Hour)
	s.addRecipient(r2, kidney(id.BloodOMinus, 40), time.Hour)
	donor := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)

	match, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
	s.Require().NoError(err)
	s.Equal(r1, match.Recipient)
	s.Equal(donor.ID, match.Donor)
	s.Equal(models.MatchStatusPending, match.Status)
	s.NotZero(match.Score)

	confirmed, err := s.service.ConfirmMatch(s.as(s.authority, 4*time.Hour), match.ID)
	s.Require().NoError(err)
	s.Equal(models.MatchStatusConfirmed, confirmed.Status)

	ctx := s.as(s.authority, 5*time.Hour)
	d, err := s.service.GetDonor(ctx, donor.ID)
	s.Require().NoError(err)
	s.Equal(models.DonorStatusMatched, d.Status)
	s.Nil(d.OpenMatch)

	rec1, err := s.service.GetRecipient(ctx, r1)
	s.Require().NoError(err)
	s.Equal(models.RecipientStatusMatched, rec1.Status)
	s.Nil(rec1.PendingMatch)

	rec2, err := s.service.GetRecipient(ctx, r2)
	s.Require().NoError(err)
	s.Equal(models.RecipientStatusActive, rec2.Status)

	auth, err := s.service.GetAuthority(ctx, s.authority)
	s.Require().NoError(err)
	s.EqualValues(1, auth.VerifiedMatches)

	program, err := s.service.GetProgram(ctx)
	s.Require().NoError(err)
	s.EqualValues(2, program.RecipientCount)

	entries, err := s.ledger.Since(s.ctx, 0, 0)
	s.Require().NoError(err)
	var types []ledger.EventType
	for _, e := range entries {
		types = append(types, e.Type)
	}
	s.Equal([]ledger.EventType{
		EventProgramInitialized,
		EventAuthorityUpdated,
		EventRecipientUpdated,
		EventRecipientUpdated,
		EventDonorAdded,
		EventMatchFound,
		EventMatchConfirmed,
	}, types)
	n, err := s.ledger.Verify(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(len(entries), n)
}

func (s *ServiceSuite) TestInitialize() {
	s.Run("second initialize leaves the admin unchanged", func() {
		s.SetupTest()
		s.bootstrap()
		other := id.AccountID(uuid.New())
		_, err := s.service.Initialize(s.as(other, time.Hour), other)
		s.requireCode(err, dErrors.CodeAlreadyInitialized)

		program, err := s.service.GetProgram(s.as(other, time.Hour))
		s.Require().NoError(err)
		s.Equal(s.admin, program.Admin)
	})

	s.Run("nil admin makes the caller the admin", func() {
		s.SetupTest()
		program, err := s.service.Initialize(s.as(s.admin, 0), id.AccountID{})
		s.Require().NoError(err)
		s.Equal(s.admin, program.Admin)
		s.False(program.Paused)
	})

	s.Run("operations before initialize are rejected", func() {
		s.SetupTest()
		_, err := s.service.AddDonor(s.as(s.authority, 0), kidneyDonor(id.BloodOMinus))
		s.requireCode(err, dErrors.CodeInvalidState)

		_, err = s.service.GetProgram(s.as(s.authority, 0))
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestSetMedicalAuthority() {
	s.bootstrap()

	s.Run("only the admin grants the role", func() {
		_, err := s.service.SetMedicalAuthority(s.as(s.authority, time.Hour), id.AccountID(uuid.New()), true)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("revoking keeps the verified match count", func() {
		r := id.AccountID(uuid.New())
		s.addRecipient(r, kidney(id.BloodOMinus, 50), time.Hour)
		donor := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)
		match, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
		s.Require().NoError(err)
		_, err = s.service.ConfirmMatch(s.as(s.authority, 4*time.Hour), match.ID)
		s.Require().NoError(err)

		auth, err := s.service.SetMedicalAuthority(s.as(s.admin, 5*time.Hour), s.authority, false)
		s.Require().NoError(err)
		s.False(auth.IsActive)
		s.EqualValues(1, auth.VerifiedMatches)

		_, err = s.service.AddDonor(s.as(s.authority, 6*time.Hour), kidneyDonor(id.BloodOMinus))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}

func (s *ServiceSuite) TestUpsertRecipient() {
	s.bootstrap()

	s.Run("out of range age writes nothing", func() {
		patient := id.AccountID(uuid.New())
		data := kidney(id.BloodAPlus, 10)
		data.Age = 121
		_, err := s.service.UpsertRecipient(s.as(patient, time.Hour), nil, data)
		s.requireCode(err, dErrors.CodeInvalidData)

		_, err = s.service.GetRecipient(s.as(patient, time.Hour), patient)
		s.requireCode(err, dErrors.CodeNotFound)
		program, err := s.service.GetProgram(s.as(patient, time.Hour))
		s.Require().NoError(err)
		s.Zero(program.RecipientCount)
	})

	s.Run("patient registers and updates their own record", func() {
		patient := id.AccountID(uuid.New())
		created, err := s.service.UpsertRecipient(s.as(patient, time.Hour), nil, kidney(id.BloodAPlus, 10))
		s.Require().NoError(err)
		s.Equal(patient, created.Authority)
		s.Equal(s.now.Add(time.Hour), created.CreatedAt)

		update := kidney(id.BloodBPlus, 70)
		update.GeographicalDistance = 10
		update.MedicalNotes = "dialysis three times a week"
		updated, err := s.service.UpsertRecipient(s.as(patient, 2*time.Hour), nil, update)
		s.Require().NoError(err)
		s.EqualValues(70, updated.Data.MedicalUrgency)
		s.EqualValues(10, updated.Data.GeographicalDistance)
		s.Equal(update.MedicalNotes, updated.Data.MedicalNotes)
		s.Equal(id.BloodAPlus, updated.Data.BloodType)
		s.Equal(created.CreatedAt, updated.CreatedAt)
	})

	s.Run("strangers may not write another patient's record", func() {
		patient := id.AccountID(uuid.New())
		stranger := id.AccountID(uuid.New())
		_, err := s.service.UpsertRecipient(s.as(stranger, time.Hour), &patient, kidney(id.BloodAPlus, 10))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("notes longer than the limit are rejected", func() {
		svc := s.newService(WithMaxMedicalNotes(8))
		patient := id.AccountID(uuid.New())
		data := kidney(id.BloodAPlus, 10)
		data.MedicalNotes = "more than eight bytes"
		_, err := svc.UpsertRecipient(s.as(patient, time.Hour), nil, data)
		s.requireCode(err, dErrors.CodeInvalidData)
	})
}

func (s *ServiceSuite) TestPause() {
	s.bootstrap()
	_, err := s.service.Pause(s.as(s.authority, time.Hour))
	s.requireCode(err, dErrors.CodeUnauthorized)

	program, err := s.service.Pause(s.as(s.admin, time.Hour))
	s.Require().NoError(err)
	s.True(program.Paused)

	_, err = s.service.Pause(s.as(s.admin, time.Hour))
	s.requireCode(err, dErrors.CodeInvalidState)

	patient := id.AccountID(uuid.New())
	_, err = s.service.UpsertRecipient(s.as(patient, 2*time.Hour), nil, kidney(id.BloodOPlus, 20))
	s.requireCode(err, dErrors.CodeProgramPaused)
	_, err = s.service.UpsertRecipient(s.as(s.admin, 2*time.Hour), &patient, kidney(id.BloodOPlus, 20))
	s.requireCode(err, dErrors.CodeProgramPaused)

	_, err = s.service.Unpause(s.as(s.admin, 3*time.Hour))
	s.Require().NoError(err)
	_, err = s.service.UpsertRecipient(s.as(patient, 4*time.Hour), nil, kidney(id.BloodOPlus, 20))
	s.Require().NoError(err)

	_, err = s.service.Unpause(s.as(s.admin, 5*time.Hour))
	s.requireCode(err, dErrors.CodeInvalidState)
}

func (s *ServiceSuite) TestFindBestMatch() {
	s.Run("donor with an open match cannot be matched again", func() {
		s.SetupTest()
		s.bootstrap()
		s.addRecipient(id.AccountID(uuid.New()), kidney(id.BloodOMinus, 50), time.Hour)
		s.addRecipient(id.AccountID(uuid.New()), kidney(id.BloodOMinus, 40), time.Hour)
		donor := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)

		_, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
		s.Require().NoError(err)
		_, err = s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("equal candidates resolve to the earliest registration", func() {
		s.SetupTest()
		s.bootstrap()
		early, late := id.AccountID(uuid.New()), id.AccountID(uuid.New())
		s.addRecipient(late, kidney(id.BloodOMinus, 60), 20*time.Minute)
		s.addRecipient(early, kidney(id.BloodOMinus, 60), 10*time.Minute)
		donor := s.addDonor(kidneyDonor(id.BloodOMinus), time.Hour)

		match, err := s.service.FindBestMatch(s.as(s.authority, 2*time.Hour), donor.ID)
		s.Require().NoError(err)
		s.Equal(early, match.Recipient)
	})

	s.Run("no compatible recipient", func() {
		s.SetupTest()
		s.bootstrap()
		s.addRecipient(id.AccountID(uuid.New()), kidney(id.BloodOMinus, 90), time.Hour)
		donor := s.addDonor(kidneyDonor(id.BloodABPlus), 2*time.Hour)

		_, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
		s.requireCode(err, dErrors.CodeNoEligibleRecipient)

		d, err := s.service.GetDonor(s.as(s.authority, 3*time.Hour), donor.ID)
		s.Require().NoError(err)
		s.Nil(d.OpenMatch)
	})

	s.Run("unknown donor", func() {
		s.SetupTest()
		s.bootstrap()
		_, err := s.service.FindBestMatch(s.as(s.authority, time.Hour), id.NewDonorID())
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("pending recipient is skipped", func() {
		s.SetupTest()
		s.bootstrap()
		first, second := id.AccountID(uuid.New()), id.AccountID(uuid.New())
		s.addRecipient(first, kidney(id.BloodOMinus, 90), time.Hour)
		s.addRecipient(second, kidney(id.BloodOMinus, 10), time.Hour)
		d1 := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)
		d2 := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)

		m1, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), d1.ID)
		s.Require().NoError(err)
		s.Equal(first, m1.Recipient)
		m2, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), d2.ID)
		s.Require().NoError(err)
		s.Equal(second, m2.Recipient)
	})
}

func (s *ServiceSuite) pendingMatch() (*models.Match, id.AccountID) {
	s.bootstrap()
	patient := id.AccountID(uuid.New())
	s.addRecipient(patient, kidney(id.BloodOMinus, 70), time.Hour)
	donor := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)
	match, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
	s.Require().NoError(err)
	return match, patient
}

func (s *ServiceSuite) TestDecideMatch() {
	s.Run("terminal match cannot be decided again", func() {
		s.SetupTest()
		match, patient := s.pendingMatch()
		_, err := s.service.RejectMatch(s.as(s.authority, 4*time.Hour), match.ID)
		s.Require().NoError(err)

		_, err = s.service.ConfirmMatch(s.as(s.authority, 5*time.Hour), match.ID)
		s.requireCode(err, dErrors.CodeInvalidState)

		got, err := s.service.GetMatch(s.as(s.authority, 5*time.Hour), match.ID)
		s.Require().NoError(err)
		s.Equal(models.MatchStatusRejected, got.Status)
		rec, err := s.service.GetRecipient(s.as(s.authority, 5*time.Hour), patient)
		s.Require().NoError(err)
		s.Equal(models.RecipientStatusActive, rec.Status)
		s.Nil(rec.PendingMatch)
	})

	s.Run("confirmed match cannot be confirmed again", func() {
		s.SetupTest()
		match, patient := s.pendingMatch()
		first, err := s.service.ConfirmMatch(s.as(s.authority, 4*time.Hour), match.ID)
		s.Require().NoError(err)

		_, err = s.service.ConfirmMatch(s.as(s.authority, 5*time.Hour), match.ID)
		s.requireCode(err, dErrors.CodeInvalidState)

		ctx := s.as(s.authority, 6*time.Hour)
		got, err := s.service.GetMatch(ctx, match.ID)
		s.Require().NoError(err)
		s.Equal(models.MatchStatusConfirmed, got.Status)
		s.Require().NotNil(got.DecidedBy)
		s.Require().NotNil(got.DecidedAt)
		s.Equal(*first.DecidedBy, *got.DecidedBy)
		s.True(first.DecidedAt.Equal(*got.DecidedAt))

		d, err := s.service.GetDonor(ctx, match.Donor)
		s.Require().NoError(err)
		s.Equal(models.DonorStatusMatched, d.Status)
		rec, err := s.service.GetRecipient(ctx, patient)
		s.Require().NoError(err)
		s.Equal(models.RecipientStatusMatched, rec.Status)
		auth, err := s.service.GetAuthority(ctx, s.authority)
		s.Require().NoError(err)
		s.EqualValues(1, auth.VerifiedMatches)

		entries, err := s.ledger.Since(s.ctx, 0, 0)
		s.Require().NoError(err)
		var confirms int
		for _, e := range entries {
			if e.Type == EventMatchConfirmed {
				confirms++
			}
		}
		s.Equal(1, confirms)
	})

	s.Run("caller without a role cannot confirm", func() {
		s.SetupTest()
		match, _ := s.pendingMatch()
		stranger := id.AccountID(uuid.New())
		_, err := s.service.ConfirmMatch(s.as(stranger, 4*time.Hour), match.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)

		got, err := s.service.GetMatch(s.as(stranger, 4*time.Hour), match.ID)
		s.Require().NoError(err)
		s.Equal(models.MatchStatusPending, got.Status)
	})

	s.Run("matched recipient cannot confirm their own match", func() {
		s.SetupTest()
		match, patient := s.pendingMatch()
		_, err := s.service.SetMedicalAuthority(s.as(s.admin, 4*time.Hour), patient, true)
		s.Require().NoError(err)
		_, err = s.service.ConfirmMatch(s.as(patient, 5*time.Hour), match.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("admin confirm does not credit an authority", func() {
		s.SetupTest()
		match, _ := s.pendingMatch()
		_, err := s.service.ConfirmMatch(s.as(s.admin, 4*time.Hour), match.ID)
		s.Require().NoError(err)
		auth, err := s.service.GetAuthority(s.as(s.admin, 4*time.Hour), s.authority)
		s.Require().NoError(err)
		s.Zero(auth.VerifiedMatches)
	})

	s.Run("unknown match", func() {
		s.SetupTest()
		s.bootstrap()
		_, err := s.service.RejectMatch(s.as(s.authority, time.Hour), id.NewMatchID())
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("pending match blocks removal and withdrawal", func() {
		s.SetupTest()
		match, patient := s.pendingMatch()
		_, err := s.service.MarkRemoved(s.as(s.authority, 4*time.Hour), patient)
		s.requireCode(err, dErrors.CodeInvalidState)
		_, err = s.service.MarkWithdrawn(s.as(s.authority, 4*time.Hour), match.Donor)
		s.requireCode(err, dErrors.CodeInvalidState)

		_, err = s.service.RejectMatch(s.as(s.authority, 5*time.Hour), match.ID)
		s.Require().NoError(err)
		rec, err := s.service.MarkRemoved(s.as(s.authority, 6*time.Hour), patient)
		s.Require().NoError(err)
		s.Equal(models.RecipientStatusRemoved, rec.Status)
		d, err := s.service.MarkWithdrawn(s.as(s.authority, 6*time.Hour), match.Donor)
		s.Require().NoError(err)
		s.Equal(models.DonorStatusWithdrawn, d.Status)
	})
}

func (s *ServiceSuite) TestConcurrentDecisionsSettleOnce() {
	match, _ := s.pendingMatch()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.service.ConfirmMatch(s.as(s.authority, 4*time.Hour), match.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.service.RejectMatch(s.as(s.admin, 4*time.Hour), match.ID)
	}()
	wg.Wait()

	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case dErrors.HasCode(err, dErrors.CodeInvalidState):
			invalid++
		}
	}
	s.Equal(1, ok, "errors: %v", errs)
	s.Equal(1, invalid, "errors: %v", errs)

	got, err := s.service.GetMatch(s.as(s.admin, 5*time.Hour), match.ID)
	s.Require().NoError(err)
	s.True(got.Status.IsTerminal())

	entries, err := s.ledger.Since(s.ctx, 0, 0)
	s.Require().NoError(err)
	decisions := 0
	for _, e := range entries {
		if e.Type == EventMatchConfirmed || e.Type == EventMatchRejected {
			decisions++
		}
	}
	s.Equal(1, decisions)
}

func (s *ServiceSuite) TestEventsFollowCommit() {
	s.Run("failed operation publishes nothing", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		publisher := mocks.NewMockPublisher(ctrl)
		svc := s.newService(WithPublisher(publisher))

		publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
		_, err := svc.Initialize(s.as(s.admin, 0), s.admin)
		s.Require().NoError(err)

		_, err = svc.Initialize(s.as(s.admin, 0), s.admin)
		s.requireCode(err, dErrors.CodeAlreadyInitialized)
		_, err = svc.AddDonor(s.as(s.authority, 0), kidneyDonor(id.BloodOMinus))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("ledger failure does not fail the operation", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		publisher := mocks.NewMockPublisher(ctrl)
		svc := s.newService(WithPublisher(publisher))

		publisher.EXPECT().
			Publish(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, events ...ledger.Event) ([]ledger.Entry, error) {
				s.Require().Len(events, 1)
				s.Equal(EventProgramInitialized, events[0].Type)
				return nil, errors.New("ledger unavailable")
			})

		program, err := svc.Initialize(s.as(s.admin, 0), s.admin)
		s.Require().NoError(err)
		s.Equal(s.admin, program.Admin)

		stored, err := svc.GetProgram(s.as(s.admin, 0))
		s.Require().NoError(err)
		s.Equal(s.admin, stored.Admin)
	})
}

// holdingPublisher parks the first publish of one event type until released.
type holdingPublisher struct {
	next    Publisher
	hold    ledger.EventType
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *holdingPublisher) Publish(ctx context.Context, events ...ledger.Event) ([]ledger.Entry, error) {
	if len(events) > 0 && events[0].Type == p.hold {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	return p.next.Publish(ctx, events...)
}

func (s *ServiceSuite) TestLedgerFollowsCommitOrder() {
	publisher := &holdingPublisher{
		next:    s.ledger,
		hold:    EventMatchFound,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s.service = s.newService(WithPublisher(publisher))
	s.bootstrap()
	patient := id.AccountID(uuid.New())
	s.addRecipient(patient, kidney(id.BloodOMinus, 70), time.Hour)
	donor := s.addDonor(kidneyDonor(id.BloodOMinus), 2*time.Hour)

	found := make(chan error, 1)
	go func() {
		_, err := s.service.FindBestMatch(s.as(s.authority, 3*time.Hour), donor.ID)
		found <- err
	}()
	<-publisher.entered

	d, err := s.service.GetDonor(s.as(s.authority, 3*time.Hour), donor.ID)
	s.Require().NoError(err)
	s.Require().NotNil(d.OpenMatch)

	confirmed := make(chan error, 1)
	go func() {
		_, err := s.service.ConfirmMatch(s.as(s.authority, 4*time.Hour), *d.OpenMatch)
		confirmed <- err
	}()
	select {
	case err := <-confirmed:
		s.Failf("confirm finished before the match was recorded", "err: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(publisher.release)
	s.Require().NoError(<-found)
	s.Require().NoError(<-confirmed)

	entries, err := s.ledger.Since(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(len(entries), 2)
	tail := entries[len(entries)-2:]
	s.Equal(EventMatchFound, tail[0].Type)
	s.Equal(EventMatchConfirmed, tail[1].Type)
	s.Less(tail[0].Seq, tail[1].Seq)
}

func (s *ServiceSuite) TestCommittedEventSurvivesCallerCancellation() {
	s.bootstrap()
	ctx, cancel := context.WithCancel(s.as(s.authority, time.Hour))
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockPublisher(ctrl)
	svc := s.newService(WithPublisher(publisher))

	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, events ...ledger.Event) ([]ledger.Entry, error) {
			cancel()
			return s.ledger.Publish(ctx, events...)
		})

	_, err := svc.AddDonor(ctx, kidneyDonor(id.BloodOMinus))
	s.Require().NoError(err)

	head, err := s.ledger.Head(s.ctx)
	s.Require().NoError(err)
	s.Equal(EventDonorAdded, head.Type)
}

func (s *ServiceSuite) TestReadsRequireCaller() {
	s.bootstrap()
	_, err := s.service.GetProgram(s.ctx)
	s.requireCode(err, dErrors.CodeUnauthorized)

	_, err = s.service.GetDonor(s.as(s.authority, 0), id.NewDonorID())
	s.requireCode(err, dErrors.CodeNotFound)
	_, err = s.service.GetMatch(s.as(s.authority, 0), id.NewMatchID())
	s.requireCode(err, dErrors.CodeNotFound)
	_, err = s.service.GetAuthority(s.as(s.authority, 0), id.AccountID(uuid.New()))
	s.requireCode(err, dErrors.CodeNotFound)
}
