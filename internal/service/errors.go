package service

import "errors"

// Error kinds. Every domain error matches exactly one kind with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrNoEligibleAttempt = errors.New("no eligible attempt")
)

type domainError struct {
	kind error
	msg  string
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Is(target error) bool { return target == e.kind }

func newDomainError(kind error, msg string) error {
	return &domainError{kind: kind, msg: msg}
}

var (
	ErrExamNotFound     = newDomainError(ErrNotFound, "exam not found")
	ErrPaperNotFound    = newDomainError(ErrNotFound, "paper not found")
	ErrQuestionNotFound = newDomainError(ErrNotFound, "question not found")
	ErrAttemptNotFound  = newDomainError(ErrNotFound, "attempt not found")
	ErrResultNotFound   = newDomainError(ErrNotFound, "result not found")

	ErrExamNotInProgress       = newDomainError(ErrConflict, "exam not in progress")
	ErrAttemptAlreadySubmitted = newDomainError(ErrConflict, "attempt already submitted")
	ErrAttemptAlreadyActive    = newDomainError(ErrConflict, "another attempt is already in progress")

	ErrAttemptForbidden = newDomainError(ErrForbidden, "attempt does not belong to current user")
	ErrReviewNotAllowed = newDomainError(ErrForbidden, "review not allowed")

	ErrInvalidQuestionID  = newDomainError(ErrValidation, "invalid questionId in answers")
	ErrQuestionNotInPaper = newDomainError(ErrValidation, "answer contains question not in paper")
	ErrDuplicateQuestion  = newDomainError(ErrValidation, "duplicate questionId in answers")
	ErrInvalidEventType   = newDomainError(ErrValidation, "invalid proctor event type")
	ErrInvalidPayload     = newDomainError(ErrValidation, "invalid proctor event payload")

	ErrNoInProgressAttempt = newDomainError(ErrNoEligibleAttempt, "no_in_progress_attempt")
	ErrNoSubmittedAttempt  = newDomainError(ErrNoEligibleAttempt, "no_submitted_attempt")
	ErrCannotForceSubmit   = newDomainError(ErrNoEligibleAttempt, "cannot_force_submit")
	ErrCannotReopen        = newDomainError(ErrNoEligibleAttempt, "cannot_reopen_attempt")
)
