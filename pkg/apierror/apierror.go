// Package apierror gives every error kind raised inside the control plane a
// concrete HTTP status and machine-readable kind so the API controller can
// render it without string-matching.
package apierror

import "net/http"

// Kind identifies the category of failure.
type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindConflictingPath     Kind = "ConflictingPath"
	KindInvalidHierarchy    Kind = "InvalidHierarchy"
	KindUnknownGroup        Kind = "UnknownGroup"
	KindUnknownVersion      Kind = "UnknownVersion"
	KindDeploymentInFlight  Kind = "DeploymentInProgress"
	KindNotLeader           Kind = "NotLeader"
	KindAuthenticationError Kind = "AuthenticationFailure"
	KindAuthorizationError  Kind = "AuthorizationFailure"
	KindRepositoryFailure   Kind = "RepositoryFailure"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusUnprocessableEntity,
	KindConflictingPath:     http.StatusConflict,
	KindInvalidHierarchy:    http.StatusConflict,
	KindUnknownGroup:        http.StatusNotFound,
	KindUnknownVersion:      http.StatusNotFound,
	KindDeploymentInFlight:  http.StatusConflict,
	KindNotLeader:           http.StatusServiceUnavailable,
	KindAuthenticationError: http.StatusUnauthorized,
	KindAuthorizationError:  http.StatusForbidden,
	KindRepositoryFailure:   http.StatusServiceUnavailable,
}

// Error is the structured error type returned across package boundaries to
// the API controller. Internal packages are free to wrap plain errors with
// fmt.Errorf; only the boundary that talks to HTTP needs to produce one of
// these.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries per-field validation messages for KindValidation.
	Fields map[string]string
	// ConflictingID names the in-flight deployment for KindDeploymentInFlight.
	ConflictingID string
	// LeaderAddr names the current raft leader for KindNotLeader.
	LeaderAddr string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Status returns the HTTP status code associated with the error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation builds a KindValidation error carrying per-field messages.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// DeploymentInFlight builds a KindDeploymentInFlight error naming the
// conflicting deployment.
func DeploymentInFlight(conflictingID string) *Error {
	return &Error{
		Kind:          KindDeploymentInFlight,
		Message:       "a deployment is already in progress",
		ConflictingID: conflictingID,
	}
}

// NotLeader builds a KindNotLeader error naming the current leader.
func NotLeader(leaderAddr string) *Error {
	return &Error{
		Kind:       KindNotLeader,
		Message:    "this node is not the raft leader",
		LeaderAddr: leaderAddr,
	}
}

// As extracts an *Error from err, following wrapped errors.
func As(err error) (*Error, bool) {
	var target *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return target, false
}
