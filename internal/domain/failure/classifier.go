// Package failure classifies pipeline errors into a small taxonomy that
// drives retry decisions and the message shown to users.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category groups failure codes by how the system reacts to them.
type Category string

// Failure categories.
const (
	// CategoryTransient failures are retried automatically.
	CategoryTransient Category = "transient"
	// CategoryRecoverable failures need the user to fix the input.
	CategoryRecoverable Category = "recoverable"
	// CategoryPermanent failures need operator attention.
	CategoryPermanent Category = "permanent"
)

// Code identifies a specific failure cause.
type Code string

// Failure codes.
const (
	CodeRetriesExceeded    Code = "RETRIES_EXCEEDED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeTimeout            Code = "TIMEOUT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeCancelled          Code = "CANCELLED"
	CodePasswordProtected  Code = "PASSWORD_PROTECTED"
	CodeCorruptedFile      Code = "CORRUPTED_FILE"
	CodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge       Code = "FILE_TOO_LARGE"
	CodeEmptyContent       Code = "EMPTY_CONTENT"
	CodeStaleJob           Code = "STALE_JOB"
	CodeProcessingTimeout  Code = "PROCESSING_TIMEOUT"
	CodeRemoteJobFailed    Code = "REMOTE_JOB_FAILED"
	CodeFileNotFound       Code = "FILE_NOT_FOUND"
	CodeStorageError       Code = "STORAGE_ERROR"
	CodeUnknown            Code = "UNKNOWN_ERROR"
)

// Classification is the result of classifying an error.
type Classification struct {
	Category    Category
	Code        Code
	AutoRetry   bool
	UserMessage string
}

type rule struct {
	code     Code
	category Category
	patterns []string
}

// rules are evaluated in order and the first match wins. Retry exhaustion must
// stay first so a wrapped transient cause never re-enables retries.
var rules = []rule{
	{CodeRetriesExceeded, CategoryPermanent, []string{"retries exceeded", "max retries", "maximum retries"}},

	{CodeRateLimited, CategoryTransient, []string{"rate limit", "too many requests", "http 429", "quota exceeded"}},
	{CodeTimeout, CategoryTransient, []string{"timeout", "timed out", "deadline exceeded"}},
	{CodeServiceUnavailable, CategoryTransient, []string{
		"service unavailable", "http 500", "http 502", "http 503", "http 504", "bad gateway", "internal server error",
	}},
	{CodeNetworkError, CategoryTransient, []string{
		"network", "connection reset", "connection refused", "no such host", "broken pipe", "unexpected eof", ": eof",
	}},

	{CodePasswordProtected, CategoryRecoverable, []string{"password", "encrypted"}},
	{CodeCorruptedFile, CategoryRecoverable, []string{"corrupt", "malformed", "damaged", "invalid pdf"}},
	{CodeUnsupportedFormat, CategoryRecoverable, []string{"unsupported", "invalid format", "unknown format"}},
	{CodeFileTooLarge, CategoryRecoverable, []string{"too large", "exceeds maximum size", "http 413"}},
	{CodeEmptyContent, CategoryRecoverable, []string{"empty", "no text", "no extractable", "no content"}},
}

var userMessages = map[Code]string{
	CodeRetriesExceeded:    "We could not process this document after several attempts. Please try again later.",
	CodeRateLimited:        "The processing service is busy. Please try again in a few minutes.",
	CodeTimeout:            "Processing took too long. Please try again in a few minutes.",
	CodeServiceUnavailable: "A processing service is temporarily unavailable. Please try again in a few minutes.",
	CodeNetworkError:       "A network problem interrupted processing. Please try again in a few minutes.",
	CodeCancelled:          "Processing was interrupted. Please try again.",
	CodePasswordProtected:  "This document is password protected. Please upload an unlocked copy.",
	CodeCorruptedFile:      "This file appears to be damaged. Please upload a new copy.",
	CodeUnsupportedFormat:  "This file format is not supported. Please upload a PDF, Word, Excel or image file.",
	CodeFileTooLarge:       "This file is too large to process. Please upload a smaller file.",
	CodeEmptyContent:       "We could not find any text in this document. Please check the file and upload it again.",
	CodeStaleJob:           "Processing stopped unexpectedly. Please upload the document again.",
	CodeProcessingTimeout:  "Processing took longer than allowed. Please try again.",
	CodeRemoteJobFailed:    "The document could not be parsed. Please check the file and upload it again.",
	CodeFileNotFound:       "The uploaded file could not be found. Please upload the document again.",
	CodeStorageError:       "The uploaded file could not be read right now. Please try again in a few minutes.",
	CodeUnknown:            "Something went wrong while processing this document. Our team has been notified.",
}

// UserMessage returns the user-facing message for a code.
func UserMessage(code Code) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[CodeUnknown]
}

// For builds the canonical classification of a code.
func For(code Code, category Category) Classification {
	return Classification{
		Category:    category,
		Code:        code,
		AutoRetry:   category == CategoryTransient,
		UserMessage: UserMessage(code),
	}
}

// Classify maps an error message onto the taxonomy. Matching is case-insensitive.
func Classify(message string) Classification {
	lower := strings.ToLower(message)
	for _, r := range rules {
		if containsAny(lower, r.patterns) {
			return For(r.code, r.category)
		}
	}
	return For(CodeUnknown, CategoryPermanent)
}

// ClassifyError classifies err, honouring any preset classification in its chain.
func ClassifyError(err error) Classification {
	if err == nil {
		return For(CodeUnknown, CategoryPermanent)
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Classification
	}
	if errors.Is(err, context.Canceled) {
		return For(CodeCancelled, CategoryTransient)
	}
	return Classify(err.Error())
}

// IsRetryable reports whether err should be retried within the current run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return ClassifyError(err).AutoRetry
}

// Checker adapts IsRetryable to retry executors.
type Checker struct{}

// IsRetryable implements retry.RetryableChecker.
func (Checker) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Error is an error carrying a preset classification.
type Error struct {
	Classification
	msg    string
	err    error
	remote bool
}

// New creates a classified error with the canonical classification for code.
func New(code Code, category Category, msg string) *Error {
	return &Error{Classification: For(code, category), msg: msg}
}

// Wrap attaches a preset classification to err.
func Wrap(code Code, category Category, msg string, err error) *Error {
	return &Error{Classification: For(code, category), msg: msg, err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.err == nil:
		return e.msg
	case e.msg == "":
		return e.err.Error()
	default:
		return e.msg + ": " + e.err.Error()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

// NewStaleJobError is recorded on jobs reclaimed by the stale sweep.
func NewStaleJobError(threshold fmt.Stringer) *Error {
	return New(CodeStaleJob, CategoryPermanent, fmt.Sprintf("job exceeded stale threshold of %s", threshold))
}

// NewProcessingTimeoutError is raised when a run passes its total deadline.
func NewProcessingTimeoutError(stage string, limit fmt.Stringer) *Error {
	return New(CodeProcessingTimeout, CategoryTransient,
		fmt.Sprintf("processing deadline of %s exceeded after %s stage", limit, stage))
}

// NewRemoteJobError reports a failure state returned by a remote job. Input
// problems keep their recoverable code; anything else becomes a permanent
// REMOTE_JOB_FAILED, since resubmitting the same job cannot succeed in-run.
func NewRemoteJobError(service, msg string) *Error {
	c := Classify(msg)
	if c.Category != CategoryRecoverable {
		c = For(CodeRemoteJobFailed, CategoryPermanent)
	}
	return &Error{Classification: c, msg: fmt.Sprintf("%s job failed: %s", service, msg), remote: true}
}

// NewRetriesExceededError wraps the last error of an exhausted retry loop.
func NewRetriesExceededError(attempts int, last error) *Error {
	return Wrap(CodeRetriesExceeded, CategoryPermanent, fmt.Sprintf("retries exceeded after %d attempts", attempts), last)
}

// IsRemoteJobError reports whether err came from a remote job failure status.
func IsRemoteJobError(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.remote
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
