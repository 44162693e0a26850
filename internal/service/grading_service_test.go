package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-engine/internal/dto"
	"github.com/noah-isme/gema-grading-engine/internal/grading"
	"github.com/noah-isme/gema-grading-engine/internal/models"
	"github.com/noah-isme/gema-grading-engine/internal/repository"
	"github.com/noah-isme/gema-grading-engine/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	calls   int
	onCall  func()
}

func (s *scriptedCompleter) Complete(ctx context.Context, req ai.CompletionRequest) (ai.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.replies) == 0 {
		return ai.Completion{}, errors.New("unexpected reasoning call")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return ai.Completion{Content: reply, Model: "stub"}, nil
}

func (s *scriptedCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type keywordModerator struct {
	mu      sync.Mutex
	blocked string
	texts   []string
}

func (m *keywordModerator) Moderate(ctx context.Context, text string) (ai.ModerationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.texts = append(m.texts, text)
	if m.blocked != "" && strings.Contains(text, m.blocked) {
		return ai.ModerationResult{Flagged: true, Categories: []string{"harassment"}}, nil
	}
	return ai.ModerationResult{}, nil
}

func (m *keywordModerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []GradingEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event GradingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type gradingFixture struct {
	db          *gorm.DB
	questions   repository.QuestionRepository
	submissions repository.SubmissionRepository
	completer   *scriptedCompleter
	moderator   *keywordModerator
	events      *recordingPublisher
	grading     GradingService
	lifecycle   SubmissionService
}

func newGradingFixture(t *testing.T) *gradingFixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Question{}, &models.AssignmentSubmission{}, &models.QuestionResponse{}))

	fastRetry := grading.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	completer := &scriptedCompleter{}
	moderator := &keywordModerator{}
	events := &recordingPublisher{}

	questions := repository.NewQuestionRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	gate := grading.NewSafetyGate(moderator, nil, grading.SafetyGateConfig{Timeout: time.Second, Retry: fastRetry}, testLogger())
	resolver := grading.NewResolver(
		grading.NewChoiceGrader(),
		grading.NewRubricAdapter(completer, grading.RubricConfig{Timeout: time.Second, OutputAttempts: 2, Retry: fastRetry}, testLogger()),
	)

	return &gradingFixture{
		db:          db,
		questions:   questions,
		submissions: submissions,
		completer:   completer,
		moderator:   moderator,
		events:      events,
		grading:     NewGradingService(questions, submissions, resolver, gate, NewLocalResponseLocker(), events, nil, testLogger()),
		lifecycle:   NewSubmissionService(submissions, events, nil, testLogger()),
	}
}

func (f *gradingFixture) start(t *testing.T) dto.SubmissionResponse {
	t.Helper()
	submission, err := f.lifecycle.Start(context.Background(), dto.SubmissionStartRequest{AssignmentID: 1, LearnerID: 42})
	require.NoError(t, err)
	return submission
}

func (f *gradingFixture) choiceQuestion(t *testing.T, retries *int) models.Question {
	t.Helper()
	question := models.Question{
		AssignmentID: 1,
		Type:         string(grading.QuestionTypeMultipleCorrect),
		Text:         "Which of these are prime?",
		TotalPoints:  10,
		Choices: datatypes.NewJSONSlice([]models.Choice{
			{Label: "A", IsCorrect: true},
			{Label: "B"},
			{Label: "C", IsCorrect: true},
			{Label: "D"},
		}),
		NumRetries: retries,
	}
	require.NoError(t, f.questions.Create(context.Background(), &question))
	return question
}

func (f *gradingFixture) essayQuestion(t *testing.T) models.Question {
	t.Helper()
	question := models.Question{
		AssignmentID: 1,
		Type:         string(grading.QuestionTypeText),
		Text:         "Explain recursion.",
		TotalPoints:  5,
		ScoringType:  string(grading.ScoringSingleCriteria),
		Rubrics: datatypes.NewJSONSlice([]models.ScoringRubric{{
			Criteria: []models.ScoringCriterion{
				{Description: "No understanding", Points: 0},
				{Description: "Complete explanation with an example", Points: 5},
			},
		}}),
	}
	require.NoError(t, f.questions.Create(context.Background(), &question))
	return question
}

func (f *gradingFixture) responseCount(t *testing.T, submissionID, questionID uint) int64 {
	t.Helper()
	count, err := f.submissions.CountResponses(context.Background(), submissionID, questionID)
	require.NoError(t, err)
	return count
}

func choices(labels ...string) grading.LearnerResponse {
	return grading.LearnerResponse{Choices: labels}
}

func text(value string) grading.LearnerResponse {
	return grading.LearnerResponse{Text: &value}
}

func TestRecordResponseGradesChoiceQuestion(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	retries := 3
	question := f.choiceQuestion(t, &retries)

	result, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: choices("A", "C"),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotZero(t, result.ID)
	require.Equal(t, 10.0, *result.TotalPoints)
	require.Equal(t, string(grading.StatusCorrect), result.Status)
	require.Equal(t, 1, result.Sequence)
	require.Equal(t, 2, *result.RemainingAttempts)
	require.NotEmpty(t, result.Feedback)

	require.Zero(t, f.moderator.callCount(), "choice selections carry no free text")
	require.Zero(t, f.completer.callCount())
	require.Equal(t, []string{EventResponseRecorded}, f.events.types())
}

func TestRecordResponseStopsAtRetryLimit(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	retries := 2
	question := f.choiceQuestion(t, &retries)

	req := dto.GradeRequest{SubmissionID: submission.ID, QuestionID: question.ID, LearnerResponse: choices("A")}
	for i := 0; i < retries; i++ {
		_, err := f.grading.RecordResponse(context.Background(), req)
		require.NoError(t, err)
	}

	_, err := f.grading.RecordResponse(context.Background(), req)
	require.ErrorIs(t, err, grading.ErrRetriesExhausted)
	require.Equal(t, grading.KindRetriesExhausted, grading.KindOf(err))
	require.Equal(t, int64(retries), f.responseCount(t, submission.ID, question.ID))
}

func TestRecordResponseRetryLimitShortCircuitsSafetyGate(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	question := f.essayQuestion(t)
	zero := 0
	require.NoError(t, f.db.Model(&models.Question{}).Where("id = ?", question.ID).Update("num_retries", zero).Error)

	_, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: text("A function calling itself."),
	})
	require.ErrorIs(t, err, grading.ErrRetriesExhausted)
	require.Zero(t, f.moderator.callCount())
	require.Zero(t, f.completer.callCount())
}

func TestRecordResponseAfterFinalizeIsClosed(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	question := f.choiceQuestion(t, nil)

	_, err := f.lifecycle.Finalize(context.Background(), submission.ID)
	require.NoError(t, err)

	_, err = f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: choices("A", "C"),
	})
	require.ErrorIs(t, err, grading.ErrSubmissionClosed)
	require.Zero(t, f.responseCount(t, submission.ID, question.ID))

	_, err = f.lifecycle.Finalize(context.Background(), submission.ID)
	require.ErrorIs(t, err, grading.ErrSubmissionClosed)
}

func TestRecordResponsePolicyDenialSkipsReasoningService(t *testing.T) {
	f := newGradingFixture(t)
	f.moderator.blocked = "idiot"
	submission := f.start(t)
	question := f.essayQuestion(t)

	_, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: text("<b>you are an idiot</b>"),
	})
	require.ErrorIs(t, err, grading.ErrContentPolicyViolation)
	require.Zero(t, f.completer.callCount(), "reasoning service must not be called")
	require.Zero(t, f.responseCount(t, submission.ID, question.ID))
	require.Empty(t, f.events.types())
}

func TestRecordResponseInvalidOutputPersistsNothing(t *testing.T) {
	f := newGradingFixture(t)
	f.completer.replies = []string{"I think this deserves 4 points.", `{"results": []}`}
	submission := f.start(t)
	question := f.essayQuestion(t)

	_, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: text("A function calling itself."),
	})
	require.ErrorIs(t, err, grading.ErrGradingOutputInvalid)
	require.Equal(t, 2, f.completer.callCount())
	require.Zero(t, f.responseCount(t, submission.ID, question.ID))
}

func TestRecordResponseRubricGradedAndVisible(t *testing.T) {
	f := newGradingFixture(t)
	f.completer.replies = []string{
		`{"results":[{"criteria":"Explanation","points":7,"feedback":"Clear, <i>but</i> no example."}]}`,
		`{"results":[{"criteria":"Explanation","points":5,"feedback":"Complete."}]}`,
	}
	submission := f.start(t)
	question := f.essayQuestion(t)

	req := dto.GradeRequest{SubmissionID: submission.ID, QuestionID: question.ID, LearnerResponse: text("A function calling itself.")}
	first, err := f.grading.RecordResponse(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 5.0, *first.TotalPoints, "clamped to the question total")
	require.Equal(t, "Clear, but no example.", first.Feedback[0].Feedback)
	require.Nil(t, first.RemainingAttempts)

	second, err := f.grading.RecordResponse(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, second.Sequence)

	history, err := f.lifecycle.History(context.Background(), submission.ID, question.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 1, history[0].Sequence)
	require.Equal(t, "rubric", history[1].Grader)

	view, err := f.lifecycle.Get(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Len(t, view.Responses, 1)
	require.Equal(t, 5.0, view.TotalPoints)
	require.Equal(t, models.SubmissionStateInProgress, view.State)
}

func TestRecordResponseCancelledBeforePersistence(t *testing.T) {
	f := newGradingFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.completer.replies = []string{`{"results":[{"criteria":"Explanation","points":3,"feedback":"ok"}]}`}
	f.completer.onCall = cancel
	submission := f.start(t)
	question := f.essayQuestion(t)

	_, err := f.grading.RecordResponse(ctx, dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: text("A function calling itself."),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.responseCount(t, submission.ID, question.ID))
}

func TestRecordResponseSerialisesConcurrentRetries(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	retries := 1
	question := f.choiceQuestion(t, &retries)

	req := dto.GradeRequest{SubmissionID: submission.ID, QuestionID: question.ID, LearnerResponse: choices("A", "C")}
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.grading.RecordResponse(context.Background(), req)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, grading.ErrRetriesExhausted)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(1), f.responseCount(t, submission.ID, question.ID))
}

func TestRecordResponseRejectsForeignOrMissingRecords(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	foreign := models.Question{AssignmentID: 99, Type: string(grading.QuestionTypeTrueFalse), Text: "Sky is blue", TotalPoints: 1}
	require.NoError(t, f.questions.Create(context.Background(), &foreign))

	_, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID: submission.ID, QuestionID: foreign.ID, LearnerResponse: choices("true"),
	})
	require.ErrorIs(t, err, grading.ErrQuestionNotFound)

	_, err = f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID: 404, QuestionID: foreign.ID, LearnerResponse: choices("true"),
	})
	require.ErrorIs(t, err, grading.ErrSubmissionNotFound)

	_, err = f.grading.RecordResponse(context.Background(), dto.GradeRequest{QuestionID: foreign.ID})
	require.ErrorIs(t, err, grading.ErrInvalidResponse)
}

func TestRecordResponseRejectsMismatchedAnswer(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	question := f.choiceQuestion(t, nil)

	_, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: text("A and C"),
	})
	require.ErrorIs(t, err, grading.ErrInvalidResponse)
	require.Zero(t, f.moderator.callCount())
}

func TestFinalizePublishesTotals(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	question := f.choiceQuestion(t, nil)

	_, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID: submission.ID, QuestionID: question.ID, LearnerResponse: choices("A"),
	})
	require.NoError(t, err)

	finalized, err := f.lifecycle.Finalize(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStateSubmitted, finalized.State)
	require.Equal(t, 5.0, finalized.TotalPoints)
	require.Equal(t, []string{EventResponseRecorded, EventSubmissionFinalized}, f.events.types())

	_, err = f.lifecycle.Finalize(context.Background(), 404)
	require.ErrorIs(t, err, grading.ErrSubmissionNotFound)
}

func TestRecordResponseStoresEmptySelection(t *testing.T) {
	f := newGradingFixture(t)
	submission := f.start(t)
	question := f.choiceQuestion(t, nil)

	result, err := f.grading.RecordResponse(context.Background(), dto.GradeRequest{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: grading.LearnerResponse{Choices: []string{}},
	})
	require.NoError(t, err)
	require.Equal(t, string(grading.StatusIncorrect), result.Status)

	history, err := f.submissions.ListResponses(context.Background(), submission.ID, question.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.JSONEq(t, `{"choices":[]}`, string(history[0].LearnerResponse))
}
