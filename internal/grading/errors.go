package grading

import (
	"context"
	"errors"
)

// ErrContentPolicyViolation indicates the content policy service rejected one of the grading inputs.
var ErrContentPolicyViolation = errors.New("content policy violation")

// ErrRetriesExhausted indicates the learner has used every allowed response for the question.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrSubmissionClosed indicates the attempt is no longer accepting responses.
var ErrSubmissionClosed = errors.New("submission closed")

// ErrGradingOutputInvalid indicates the reasoning service never produced output matching the grading contract.
var ErrGradingOutputInvalid = errors.New("grading output invalid")

// ErrDependencyUnavailable indicates an external dependency kept failing after bounded retries.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// ErrInvalidResponse indicates the learner response does not fit the question type.
var ErrInvalidResponse = errors.New("invalid learner response")

// ErrInvalidQuestion indicates the stored question cannot be graded as configured.
var ErrInvalidQuestion = errors.New("invalid question configuration")

// ErrQuestionNotFound indicates the question cannot be located.
var ErrQuestionNotFound = errors.New("question not found")

// ErrSubmissionNotFound indicates the submission cannot be located.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrorKind is the stable, caller-facing classification of a grading failure.
type ErrorKind string

const (
	KindContentPolicyViolation ErrorKind = "ContentPolicyViolation"
	KindRetriesExhausted       ErrorKind = "RetriesExhausted"
	KindSubmissionClosed       ErrorKind = "SubmissionClosed"
	KindGradingOutputInvalid   ErrorKind = "GradingOutputInvalid"
	KindDependencyUnavailable  ErrorKind = "DependencyUnavailable"
	KindInvalidResponse        ErrorKind = "InvalidResponse"
	KindInvalidQuestion        ErrorKind = "InvalidQuestion"
	KindNotFound               ErrorKind = "NotFound"
	KindCancelled              ErrorKind = "Cancelled"
	KindInternal               ErrorKind = "Internal"
)

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContentPolicyViolation):
		return KindContentPolicyViolation
	case errors.Is(err, ErrRetriesExhausted):
		return KindRetriesExhausted
	case errors.Is(err, ErrSubmissionClosed):
		return KindSubmissionClosed
	case errors.Is(err, ErrGradingOutputInvalid):
		return KindGradingOutputInvalid
	case errors.Is(err, ErrDependencyUnavailable):
		return KindDependencyUnavailable
	case errors.Is(err, ErrInvalidResponse):
		return KindInvalidResponse
	case errors.Is(err, ErrInvalidQuestion):
		return KindInvalidQuestion
	case errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrSubmissionNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// Message returns the human readable message shown to callers for a kind.
// Raw dependency payloads are never part of it.
func (k ErrorKind) Message() string {
	switch k {
	case KindContentPolicyViolation:
		return "the submitted content was rejected by the content policy"
	case KindRetriesExhausted:
		return "no attempts remaining for this question"
	case KindSubmissionClosed:
		return "this submission has already been submitted"
	case KindGradingOutputInvalid:
		return "the response could not be graded, please resubmit"
	case KindDependencyUnavailable:
		return "grading is temporarily unavailable, please retry later"
	case KindInvalidResponse:
		return "the response does not match the question type"
	case KindInvalidQuestion:
		return "the question is not configured for grading"
	case KindNotFound:
		return "resource not found"
	case KindCancelled:
		return "the grading request was cancelled"
	default:
		return "internal server error"
	}
}

// Retryable reports whether the caller may resubmit the same request later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindDependencyUnavailable, KindGradingOutputInvalid, KindCancelled:
		return true
	default:
		return false
	}
}
