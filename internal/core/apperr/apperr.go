package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Configuration Kind = "configuration"
	Validation    Kind = "validation"
	Signature     Kind = "signature"
	Upstream      Kind = "upstream"
	Persistence   Kind = "persistence"
	Internal      Kind = "internal"
)

// Error carries a kind for transport mapping, a message that is safe to
// return to clients and, for validation failures, the offending fields.
type Error struct {
	Kind   Kind
	Msg    string
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func ConfigurationErr(msg string) *Error {
	return &Error{Kind: Configuration, Msg: msg}
}

func ValidationErr(msg string, fields ...string) *Error {
	return &Error{Kind: Validation, Msg: msg, Fields: fields}
}

func SignatureErr(msg string) *Error {
	return &Error{Kind: Signature, Msg: msg}
}

func UpstreamErr(msg string, err error) *Error {
	return &Error{Kind: Upstream, Msg: msg, Err: err}
}

func PersistenceErr(msg string, err error) *Error {
	return &Error{Kind: Persistence, Msg: msg, Err: err}
}

func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	return &Error{Kind: Internal, Msg: "unexpected error", Err: err}
}

func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return Internal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation, Signature:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Details returns the wrapped cause for 500 responses, or the message
// when there is none.
func Details(err error) string {
	ae, ok := As(err)
	if !ok {
		return err.Error()
	}
	if ae.Err != nil {
		return ae.Err.Error()
	}
	return ae.Msg
}
