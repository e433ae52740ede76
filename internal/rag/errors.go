package rag

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindValidation            ErrorKind = "validation"
	KindRetrievalUnavailable  ErrorKind = "retrieval_unavailable"
	KindGenerationTimeout     ErrorKind = "generation_timeout"
	KindGenerationUnavailable ErrorKind = "generation_unavailable"
	KindStreamAborted         ErrorKind = "stream_aborted"
)

// Error is the structured failure surfaced to callers. Message must
// stay free of chunk text and prompts; those never leave the pipeline
// through the error channel.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	QueryID string    `json:"query_id"`
	At      time.Time `json:"at"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(kind ErrorKind, queryID, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, QueryID: queryID, At: time.Now().UTC(), cause: cause}
}

// KindOf reports the error kind, or empty when err is not a pipeline
// error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
