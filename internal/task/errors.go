package task

import "errors"

var ErrInvalidSubmission = errors.New("invalid submission")

// SubmissionError rejects a task synchronously, before anything is enqueued.
type SubmissionError struct {
	Reason string
}

func (e *SubmissionError) Error() string {
	return "invalid submission: " + e.Reason
}

func (e *SubmissionError) Unwrap() error {
	return ErrInvalidSubmission
}
