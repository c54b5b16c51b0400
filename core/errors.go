package core

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorCode is the stable machine readable code of an Error. It is part of the
// response envelope and therefore part of the public API.
type ErrorCode string

// all error codes
const (
	CodeUnknownNamespace             ErrorCode = "UNKNOWN_NAMESPACE"
	CodeUnknownEntity                ErrorCode = "UNKNOWN_ENTITY"
	CodeInvalidFilterOperator        ErrorCode = "INVALID_FILTER_OPERATOR"
	CodeInvalidFilterField           ErrorCode = "INVALID_FILTER_FIELD"
	CodeUnresolvableExpansionSegment ErrorCode = "UNRESOLVABLE_EXPANSION_SEGMENT"
	CodeValidation                   ErrorCode = "VALIDATION_ERROR"
	CodeNotFound                     ErrorCode = "NOT_FOUND"
	CodeRelationResolution           ErrorCode = "RELATION_RESOLUTION_ERROR"
	CodePostPersistRequeryMiss       ErrorCode = "POST_PERSIST_REQUERY_MISS"
	CodeUnknownBatchAction           ErrorCode = "UNKNOWN_BATCH_ACTION"
	CodeBatchAction                  ErrorCode = "BATCH_ACTION_ERROR"
	CodeInvalidRequest               ErrorCode = "INVALID_REQUEST"
	CodeNotAuthorized                ErrorCode = "NOT_AUTHORIZED"
	CodeInternal                     ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Two errors match if their codes match.
var (
	ErrUnknownNamespace             = &Error{Code: CodeUnknownNamespace}
	ErrUnknownEntity                = &Error{Code: CodeUnknownEntity}
	ErrInvalidFilterOperator        = &Error{Code: CodeInvalidFilterOperator}
	ErrInvalidFilterField           = &Error{Code: CodeInvalidFilterField}
	ErrUnresolvableExpansionSegment = &Error{Code: CodeUnresolvableExpansionSegment}
	ErrValidation                   = &Error{Code: CodeValidation}
	ErrNotFound                     = &Error{Code: CodeNotFound}
	ErrRelationResolution           = &Error{Code: CodeRelationResolution}
	ErrPostPersistRequeryMiss       = &Error{Code: CodePostPersistRequeryMiss}
	ErrUnknownBatchAction           = &Error{Code: CodeUnknownBatchAction}
	ErrBatchAction                  = &Error{Code: CodeBatchAction}
	ErrInvalidRequest               = &Error{Code: CodeInvalidRequest}
	ErrNotAuthorized                = &Error{Code: CodeNotAuthorized}
)

// Error is a classified error. Fields carries field level problems, keyed by field name.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  map[string][]string
	Err     error
}

// NewError returns a new classified error with a formatted message
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Errorf is like NewError but wraps cause.
func Errorf(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(fmt.Sprintf("\n- %s: %s", name, strings.Join(e.Fields[name], "; ")))
		}
	}
	if e.Err != nil {
		b.WriteString(" (")
		b.WriteString(e.Err.Error())
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// AddField records a problem with a field. It returns the error for chaining.
func (e *Error) AddField(name, problem string) *Error {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[name] = append(e.Fields[name], problem)
	return e
}

// HasFields returns true if at least one field problem was recorded
func (e *Error) HasFields() bool {
	return len(e.Fields) > 0
}

// Status returns the HTTP status code for the error code
func (c ErrorCode) Status() int {
	switch c {
	case CodeUnknownNamespace, CodeUnknownEntity, CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidFilterOperator, CodeInvalidFilterField, CodeUnresolvableExpansionSegment,
		CodeValidation, CodeRelationResolution, CodeUnknownBatchAction, CodeBatchAction,
		CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotAuthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// AsError returns err as classified error. Unclassified errors become INTERNAL_ERROR.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}
