package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "organmatch/internal/jwt_token"
	"organmatch/internal/ledger"
	"organmatch/internal/matching/engine"
	"organmatch/internal/matching/handler"
	matchingmetrics "organmatch/internal/matching/metrics"
	"organmatch/internal/matching/scoring"
	"organmatch/internal/matching/service"
	"organmatch/internal/matching/store"
	"organmatch/internal/platform/metrics"
	"organmatch/internal/storage"
	id "organmatch/pkg/domain"
	"organmatch/pkg/testutil"
)

type stack struct {
	router http.Handler
	jwt    *jwttoken.JWTService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	events := ledger.New(ledger.NewMemoryStore(), ledger.WithMetrics(ledger.NewMetricsWith(reg)))
	svc := service.New(
		store.New(storage.NewMemory()),
		engine.New(scoring.NewDefault()),
		service.WithLogger(log),
		service.WithMetrics(matchingmetrics.NewWith(reg)),
		service.WithPublisher(events),
	)
	jwt := jwttoken.NewJWTService("router-test-key", "organmatch")
	router := newRouter(log, metrics.NewWith(reg), jwttoken.NewJWTServiceAdapter(jwt), handler.New(svc, events, log))
	return &stack{router: router, jwt: jwt}
}

func (s *stack) call(t *testing.T, caller id.AccountID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if !caller.IsNil() {
		token, err := s.jwt.GenerateAccessToken(caller, time.Hour)
		require.NoError(t, err)
		req = testutil.WithBearer(req, token)
	}
	return testutil.DoRequest(s.router, req)
}

func recipientBody(patient id.AccountID, urgency int) map[string]any {
	return map[string]any{
		"patient":               patient.String(),
		"medical_urgency":       urgency,
		"geographical_distance": 150,
		"hla_markers":           []int{1, 2, 3, 4, 5},
		"blood_type":            "O-",
		"organ_type":            "kidney",
		"age":                   50,
	}
}

func TestRouterMatchScenario(t *testing.T) {
	s := newStack(t)
	admin := id.AccountID(uuid.New())
	authority := id.AccountID(uuid.New())
	r1, r2 := id.AccountID(uuid.New()), id.AccountID(uuid.New())

	testutil.Given(t, "an initialized program with one medical authority", func(t *testing.T) {
		rr := s.call(t, admin, http.MethodPost, "/program/initialize", nil)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		rr = s.call(t, admin, http.MethodPut, "/authorities/"+authority.String(), map[string]any{"is_active": true})
		testutil.AssertStatus(t, rr, http.StatusOK)

		testutil.When(t, "the authority registers two recipients and a donor and asks for a match", func(t *testing.T) {
			testutil.AssertStatus(t, s.call(t, authority, http.MethodPut, "/recipients", recipientBody(r1, 85)), http.StatusOK)
			testutil.AssertStatus(t, s.call(t, authority, http.MethodPut, "/recipients", recipientBody(r2, 40)), http.StatusOK)

			rr := s.call(t, authority, http.MethodPost, "/donors", map[string]any{
				"hla_markers": []int{1, 2, 3, 9, 9},
				"blood_type":  "O-",
				"organ_type":  "kidney",
			})
			testutil.AssertStatus(t, rr, http.StatusCreated)
			donor := testutil.UnmarshalResponse[handler.DonorResponse](t, rr)

			rr = s.call(t, authority, http.MethodPost, "/donors/"+donor.ID+"/match", nil)
			testutil.AssertStatus(t, rr, http.StatusCreated)
			match := testutil.UnmarshalResponse[handler.MatchResponse](t, rr)

			testutil.Then(t, "the more urgent recipient is proposed", func(t *testing.T) {
				assert.Equal(t, r1.String(), match.Recipient)
				assert.Equal(t, "pending", match.Status)
			})

			testutil.Then(t, "the recipient cannot confirm and the authority can", func(t *testing.T) {
				rr := s.call(t, r1, http.MethodPost, "/matches/"+match.ID+"/confirm", nil)
				testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")

				rr = s.call(t, authority, http.MethodPost, "/matches/"+match.ID+"/confirm", nil)
				testutil.AssertStatus(t, rr, http.StatusOK)

				rr = s.call(t, authority, http.MethodGet, "/authorities/"+authority.String(), nil)
				auth := testutil.UnmarshalResponse[handler.AuthorityResponse](t, rr)
				assert.EqualValues(t, 1, auth.VerifiedMatches)

				rr = s.call(t, authority, http.MethodGet, "/recipients/"+r2.String(), nil)
				assert.Equal(t, "active", testutil.UnmarshalResponse[handler.RecipientResponse](t, rr).Status)
			})

			testutil.Then(t, "the ledger holds the chained history", func(t *testing.T) {
				rr := s.call(t, admin, http.MethodGet, "/ledger", nil)
				testutil.AssertStatus(t, rr, http.StatusOK)
				page := testutil.UnmarshalResponse[handler.LedgerPage](t, rr)
				require.Len(t, page.Entries, 7)
				assert.EqualValues(t, 7, page.Next)
				assert.Equal(t, admin.String(), page.Entries[0].Actor)
				for i := 1; i < len(page.Entries); i++ {
					assert.Equal(t, page.Entries[i-1].Hash, page.Entries[i].PrevHash)
				}
			})
		})

		testutil.When(t, "the admin pauses the program", func(t *testing.T) {
			testutil.AssertStatus(t, s.call(t, admin, http.MethodPost, "/program/pause", nil), http.StatusOK)

			testutil.Then(t, "recipient updates are refused", func(t *testing.T) {
				rr := s.call(t, authority, http.MethodPut, "/recipients", recipientBody(id.AccountID(uuid.New()), 10))
				testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "program_paused")
			})
		})
	})
}

func TestRouterAmbientRoutes(t *testing.T) {
	s := newStack(t)

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodGet, "/program", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
}
