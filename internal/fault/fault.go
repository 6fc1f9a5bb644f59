// ABOUTME: Error taxonomy shared by webhook handlers and interaction callbacks
// ABOUTME: Each Kind maps to one HTTP status that tells the sender whether to retry

package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by what the upstream sender should do about it.
type Kind int

const (
	// Unexpected is anything not classified; the sender may retry.
	Unexpected Kind = iota
	// Validation means the request was malformed (missing headers or body).
	Validation
	// Auth means the signature or shared secret did not verify.
	Auth
	// NotApplicable means the event is valid but can never be processed
	// (unknown user, no binding, self-authored message). Do not retry.
	NotApplicable
	// Remote is a structured failure from the remote conversations API.
	Remote
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Auth:
		return "auth"
	case NotApplicable:
		return "not_applicable"
	case Remote:
		return "remote"
	default:
		return "unexpected"
	}
}

// Status returns the HTTP status code for k.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case NotApplicable:
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with no cause.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// remoteError is satisfied by errors returned from the remote API client.
// Declared here so this package does not import the client.
type remoteError interface {
	error
	RemoteStatus() int
}

// KindOf reports the Kind of err. The outermost *Error wins; an unclassified
// remote API error is Remote; everything else is Unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return Unexpected
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var re remoteError
	if errors.As(err, &re) {
		return Remote
	}
	return Unexpected
}

// StatusCode maps err to the HTTP status sent back to a webhook sender.
// A nil error is 200.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return KindOf(err).Status()
}
