package control

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAlreadyVoted        = errors.New("voter has already voted")
	ErrUnknownPosition     = errors.New("unknown position")
	ErrCardinalityExceeded = errors.New("too many candidates selected")
	ErrInvalidCandidate    = errors.New("invalid candidate")
	ErrEmptyBallot         = errors.New("ballot has no selections")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrHasVotes            = errors.New("record has votes")
	ErrStorage             = errors.New("storage failure")
)

// ValidationError 选票校验失败，Err 为具体的哨兵错误
type ValidationError struct {
	Err         error
	PositionID  uint
	CandidateID uint
	Limit       int
	Got         int
}

func (e *ValidationError) Error() string {
	switch e.Err {
	case ErrUnknownPosition:
		return fmt.Sprintf("%s: position %d", e.Err, e.PositionID)
	case ErrCardinalityExceeded:
		return fmt.Sprintf("%s: position %d allows %d, got %d", e.Err, e.PositionID, e.Limit, e.Got)
	case ErrInvalidCandidate:
		return fmt.Sprintf("%s: candidate %d for position %d", e.Err, e.CandidateID, e.PositionID)
	default:
		return e.Err.Error()
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Code 返回对外暴露的错误码
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrUnknownPosition):
		return "unknown_position"
	case errors.Is(err, ErrCardinalityExceeded):
		return "cardinality_exceeded"
	case errors.Is(err, ErrInvalidCandidate):
		return "invalid_candidate"
	case errors.Is(err, ErrEmptyBallot):
		return "empty_ballot"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrHasVotes):
		return "has_votes"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "internal_error"
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
