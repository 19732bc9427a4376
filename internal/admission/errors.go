// SPDX-License-Identifier: MIT

package admission

import "net/http"

// Error refusal codes, stable across releases; clients key off them.
const (
	CodeNoFile              = "NO_FILE"
	CodeEmptyFile           = "EMPTY_FILE"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeInvalidFileType     = "INVALID_FILE_TYPE"
	CodeInvalidFormat       = "INVALID_FORMAT"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeQueueOverloaded     = "QUEUE_OVERLOADED"
	CodeInsufficientStorage = "INSUFFICIENT_STORAGE"
)

// Error is an admission refusal with its HTTP mapping.
type Error struct {
	Code       string
	Status     int
	Message    string
	RetryAfter int // seconds, for rate-limited refusals
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func refuse(code string, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg}
}

var (
	errNoFile       = refuse(CodeNoFile, http.StatusBadRequest, "no file provided in the 'file' field")
	errEmptyFile    = refuse(CodeEmptyFile, http.StatusBadRequest, "uploaded file is empty")
	errStorageFull  = refuse(CodeInsufficientStorage, http.StatusServiceUnavailable, "not enough storage to accept the upload")
	errBadExtension = refuse(CodeInvalidFileType, http.StatusBadRequest, "file extension is not a supported audio format")
	errBadContent   = refuse(CodeInvalidFormat, http.StatusBadRequest, "file content does not look like audio")
)
