package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-engine/internal/config"
	"github.com/noah-isme/gema-grading-engine/internal/dto"
	"github.com/noah-isme/gema-grading-engine/internal/grading"
)

type stubSubmissionService struct {
	started   []dto.SubmissionStartRequest
	finalized map[uint]bool
	history   map[uint][]dto.QuestionResponseView
	validate  *validator.Validate
}

func newStubSubmissionService() *stubSubmissionService {
	return &stubSubmissionService{
		finalized: map[uint]bool{},
		history:   map[uint][]dto.QuestionResponseView{},
		validate:  validator.New(),
	}
}

func (s *stubSubmissionService) Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return dto.SubmissionResponse{}, err
	}
	s.started = append(s.started, req)
	return dto.SubmissionResponse{ID: uint(len(s.started)), AssignmentID: req.AssignmentID, LearnerID: req.LearnerID, State: "IN_PROGRESS"}, nil
}

func (s *stubSubmissionService) Finalize(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	if s.finalized[id] {
		return dto.SubmissionResponse{}, grading.ErrSubmissionClosed
	}
	s.finalized[id] = true
	return dto.SubmissionResponse{ID: id, State: "SUBMITTED"}, nil
}

func (s *stubSubmissionService) Get(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	if id != 1 {
		return dto.SubmissionResponse{}, grading.ErrSubmissionNotFound
	}
	return dto.SubmissionResponse{ID: 1, State: "IN_PROGRESS", TotalPoints: 4}, nil
}

func (s *stubSubmissionService) History(ctx context.Context, submissionID, questionID uint) ([]dto.QuestionResponseView, error) {
	return s.history[questionID], nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details *dto.GradeError `json:"details"`
}

func send(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func newSubmissionApp(svc *stubSubmissionService) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(42))
		return c.Next()
	})
	NewSubmissionHandler(svc, zerolog.Nop()).Register(app.Group("/submissions"))
	return app
}

func TestSubmissionHandlerStartUsesTokenLearner(t *testing.T) {
	svc := newStubSubmissionService()
	app := newSubmissionApp(svc)

	resp, payload := send(t, app, http.MethodPost, "/submissions", `{"assignmentId": 5}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.True(t, payload.Success)
	require.Equal(t, uint(42), svc.started[0].LearnerID)

	resp, _ = send(t, app, http.MethodPost, "/submissions", `{}`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionHandlerFinalizeTwiceIsConflict(t *testing.T) {
	app := newSubmissionApp(newStubSubmissionService())

	resp, payload := send(t, app, http.MethodPost, "/submissions/1/finalize", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, payload.Success)

	resp, payload = send(t, app, http.MethodPost, "/submissions/1/finalize", "")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.False(t, payload.Success)
	require.NotNil(t, payload.Details)
	require.Equal(t, grading.KindSubmissionClosed, payload.Details.Kind)
}

func TestSubmissionHandlerGetAndHistory(t *testing.T) {
	svc := newStubSubmissionService()
	svc.history[3] = []dto.QuestionResponseView{{ID: 1, QuestionID: 3, Sequence: 1}, {ID: 2, QuestionID: 3, Sequence: 2}}
	app := newSubmissionApp(svc)

	resp, payload := send(t, app, http.MethodGet, "/submissions/1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var view dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(payload.Data, &view))
	require.Equal(t, 4.0, view.TotalPoints)

	resp, _ = send(t, app, http.MethodGet, "/submissions/2", "")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = send(t, app, http.MethodGet, "/submissions/abc", "")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, payload = send(t, app, http.MethodGet, "/submissions/1/questions/3/responses", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history []dto.QuestionResponseView
	require.NoError(t, json.Unmarshal(payload.Data, &history))
	require.Len(t, history, 2)
	require.Equal(t, 2, history[1].Sequence)
}

func TestHealthCheckReportsDependencies(t *testing.T) {
	cfg := config.Config{AppName: "GEMA Grading Engine", AppEnv: "test"}

	app := fiber.New()
	app.Get("/ok", HealthCheck(cfg, map[string]HealthProbe{
		"postgres": func(ctx context.Context) error { return nil },
	}))
	app.Get("/degraded", HealthCheck(cfg, map[string]HealthProbe{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("dial tcp: refused") },
	}))

	resp, payload := send(t, app, http.MethodGet, "/ok", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, payload.Success)

	resp, payload = send(t, app, http.MethodGet, "/degraded", "")
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(payload.Data, &health))
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "unavailable", health.Dependencies["redis"])
	require.Equal(t, "ok", health.Dependencies["postgres"])
	require.WithinDuration(t, time.Now(), health.Timestamp, time.Minute)
}
