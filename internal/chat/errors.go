package chat

import (
	"errors"
	"fmt"

	"github.com/umar/carechat/internal/models"
)

// Kind classifies failures surfaced to the viewer.
type Kind int

const (
	KindBackendUnavailable Kind = iota + 1
	KindNotFound
	KindValidationFailed
	KindUploadFailed
	KindInsertFailed
)

func (k Kind) String() string {
	switch k {
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindNotFound:
		return "not_found"
	case KindValidationFailed:
		return "validation_failed"
	case KindUploadFailed:
		return "upload_failed"
	case KindInsertFailed:
		return "insert_failed"
	}
	return "unknown"
}

// Retryable reports whether repeating the operation may succeed.
func (k Kind) Retryable() bool {
	return k == KindBackendUnavailable || k == KindUploadFailed || k == KindInsertFailed
}

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidationFailed   = &Error{Kind: KindValidationFailed}
	ErrUploadFailed       = &Error{Kind: KindUploadFailed}
	ErrInsertFailed       = &Error{Kind: KindInsertFailed}

	// ErrSendInProgress rejects a Send while another is pending.
	ErrSendInProgress = errors.New("send already in progress")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// backendError classifies a store failure for op.
func backendError(op string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}
	return &Error{Kind: KindBackendUnavailable, Op: op, Err: err}
}

// KindOf extracts the kind of err, or 0 when err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
