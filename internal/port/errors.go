package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	ErrCorpusEmpty      = errors.New("corpus empty")
	ErrEmbedding        = errors.New("embedding failed")
	ErrIndexLoad        = errors.New("index load failed")
	ErrTransient        = errors.New("transient generation error")
	ErrFatal            = errors.New("fatal generation error")
	ErrGenerationFailed = errors.New("generation failed")

	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrChatNotFound         = errors.New("chat not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// CorpusEmptyError is returned when the knowledge directory yields nothing to index.
type CorpusEmptyError struct {
	Root string
	Err  error
}

func (e *CorpusEmptyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no .txt documents found in %q: %v", e.Root, e.Err)
	}
	return fmt.Sprintf("no .txt documents found in %q", e.Root)
}

func (e *CorpusEmptyError) Is(target error) bool { return target == ErrCorpusEmpty }
func (e *CorpusEmptyError) Unwrap() error        { return e.Err }

// EmbeddingError reports text that cannot be embedded. Index is the
// position in a batch, or -1 for a single Embed call.
type EmbeddingError struct {
	Index  int
	Reason string
}

func (e *EmbeddingError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("embedding input %d: %s", e.Index, e.Reason)
	}
	return "embedding: " + e.Reason
}

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// IndexLoadError reports a missing, corrupt or stale persisted index.
// Stale is set when the index was built with a different embedding model.
type IndexLoadError struct {
	Path   string
	Reason string
	Stale  bool
	Err    error
}

func (e *IndexLoadError) Error() string {
	msg := fmt.Sprintf("load index %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IndexLoadError) Is(target error) bool { return target == ErrIndexLoad }
func (e *IndexLoadError) Unwrap() error        { return e.Err }

// TransientError is a generation failure worth retrying: timeouts, network
// errors, rate limits and 5xx responses.
type TransientError struct {
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient generation error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient generation error: %v", e.Err)
}

func (e *TransientError) Is(target error) bool { return target == ErrTransient }
func (e *TransientError) Unwrap() error        { return e.Err }

// FatalError is a generation failure that retrying cannot fix: bad
// credentials, unknown model, malformed request.
type FatalError struct {
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fatal generation error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fatal generation error: %v", e.Err)
}

func (e *FatalError) Is(target error) bool { return target == ErrFatal }
func (e *FatalError) Unwrap() error        { return e.Err }

// ClassifyStatus maps an HTTP status from an LLM endpoint to a typed error.
func ClassifyStatus(status int, err error) error {
	switch {
	case status == 408 || status == 409 || status == 429 || status >= 500:
		return &TransientError{StatusCode: status, Err: err}
	default:
		return &FatalError{StatusCode: status, Err: err}
	}
}
