package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error
type Kind string

const (
	KindValidation       Kind = "validation"
	KindGenerationFailed Kind = "generation_failed"
	KindNotFound         Kind = "not_found"
	KindState            Kind = "state"
)

// Stable error codes surfaced to API clients
const (
	CodeChoiceNotFound     = "CHOICE_NOT_FOUND"
	CodeSceneNotFound      = "SCENE_NOT_FOUND"
	CodeStoryNotFound      = "STORY_NOT_FOUND"
	CodeCharacterNotFound  = "CHARACTER_NOT_FOUND"
	CodeNoActiveStory      = "NO_ACTIVE_STORY"
	CodeInsufficientTokens = "INSUFFICIENT_TOKENS"
	CodeInvalidStory       = "INVALID_STORY"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeGenerationFailed   = "GENERATION_FAILED"
)

// Error is the typed error returned across package boundaries
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Validation reports malformed or missing input
func Validation(code, message string) *Error {
	return New(KindValidation, code, message, nil)
}

// GenerationFailed reports a non-success answer from an external generation service
func GenerationFailed(message string, cause error) *Error {
	return New(KindGenerationFailed, CodeGenerationFailed, message, cause)
}

// NotFound reports a story, scene or character absent from the model
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message, nil)
}

// State reports an operation attempted in the wrong session state
func State(code, message string) *Error {
	return New(KindState, code, message, nil)
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of err, or "" when err is not an *Error
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsValidation(err error) bool       { return KindOf(err) == KindValidation }
func IsGenerationFailed(err error) bool { return KindOf(err) == KindGenerationFailed }
func IsNotFound(err error) bool         { return KindOf(err) == KindNotFound }
func IsState(err error) bool            { return KindOf(err) == KindState }
