package ccr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork is returned for transport failures and non-2xx responses.
	ErrNetwork = errors.New("ccr: network error")
	// ErrPackageNotFound is returned when the service has no package by the given name.
	ErrPackageNotFound = errors.New("ccr: package not found")
	// ErrInvalidResponse is returned when the service answers with something that can't be
	// interpreted, as opposed to answering that there is no result.
	ErrInvalidResponse = errors.New("ccr: invalid response")
	ErrMissingField    = errors.New("ccr: missing field")
	ErrLoginFailed     = errors.New("ccr: login failed")
	ErrSessionClosed   = errors.New("ccr: session closed")
	ErrUnknownCategory = errors.New("ccr: unknown category")
	ErrInvalidPackage  = errors.New("ccr: invalid package or wrong file type")
	// ErrAlreadyInState is matched by action errors where the package was already in the
	// state the action would put it in, nothing was sent in that case.
	ErrAlreadyInState = errors.New("ccr: already in requested state")

	ErrVote      = errors.New("ccr: vote failed")
	ErrFlag      = errors.New("ccr: flag failed")
	ErrNotify    = errors.New("ccr: notify failed")
	ErrOwnership = errors.New("ccr: ownership change failed")
	ErrCategory  = errors.New("ccr: category change failed")
	ErrDelete    = errors.New("ccr: delete failed")
	ErrSubmit    = errors.New("ccr: submit failed")
)

type Action string

const (
	ActionVote        Action = "vote"
	ActionUnvote      Action = "unvote"
	ActionFlag        Action = "flag"
	ActionUnflag      Action = "unflag"
	ActionNotify      Action = "notify"
	ActionUnnotify    Action = "unnotify"
	ActionAdopt       Action = "adopt"
	ActionDisown      Action = "disown"
	ActionDelete      Action = "delete"
	ActionSetCategory Action = "setcategory"
	ActionSubmit      Action = "submit"
)

// Sentinel is the per-action error every ActionError of this action matches.
func (a Action) Sentinel() error {
	switch a {
	case ActionVote, ActionUnvote:
		return ErrVote
	case ActionFlag, ActionUnflag:
		return ErrFlag
	case ActionNotify, ActionUnnotify:
		return ErrNotify
	case ActionAdopt, ActionDisown:
		return ErrOwnership
	case ActionDelete:
		return ErrDelete
	case ActionSetCategory:
		return ErrCategory
	case ActionSubmit:
		return ErrSubmit
	default:
		return nil
	}
}

// formField is the "do_<Action>" field the packages page expects.
func (a Action) formField() string {
	switch a {
	case ActionVote:
		return "do_Vote"
	case ActionUnvote:
		return "do_UnVote"
	case ActionFlag:
		return "do_Flag"
	case ActionUnflag:
		return "do_UnFlag"
	case ActionNotify:
		return "do_Notify"
	case ActionUnnotify:
		return "do_UnNotify"
	case ActionAdopt:
		return "do_Adopt"
	case ActionDisown:
		return "do_Disown"
	case ActionDelete:
		return "do_Delete"
	case ActionSetCategory:
		return "do_ChangeCategory"
	default:
		return ""
	}
}

// ActionError is returned when a mutating action could not be confirmed.
type ActionError struct {
	Action  Action
	Package string
	Reason  string
	// AlreadyInState is set when the action was refused because the package was already in
	// the target state.
	AlreadyInState bool
	// Body is the markup the outcome was read from, if any.
	Body string
	Err  error
}

func (e *ActionError) Error() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("ccr: %s %s", e.Action, e.Package))
	if e.Reason != "" {
		out.WriteString(": ")
		out.WriteString(e.Reason)
	}
	if e.Err != nil {
		out.WriteString(": ")
		out.WriteString(e.Err.Error())
	}
	return out.String()
}

func (e *ActionError) Unwrap() []error {
	errs := []error{}
	if sentinel := e.Action.Sentinel(); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.AlreadyInState {
		errs = append(errs, ErrAlreadyInState)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// InvalidPackageError is returned when a submission is rejected, either by the service or
// because the archive could not be read before uploading.
type InvalidPackageError struct {
	Message string
	Err     error
}

func (e *InvalidPackageError) Error() string {
	if e.Message == "" {
		return ErrInvalidPackage.Error()
	}
	return fmt.Sprintf("ccr: invalid package: %s", e.Message)
}

func (e *InvalidPackageError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidPackage, e.Err}
	}
	return []error{ErrInvalidPackage}
}
