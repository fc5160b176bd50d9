package domain

import "errors"

var (
	// ErrInvalidSlug is returned when a question-set identifier is malformed.
	ErrInvalidSlug = errors.New("invalid question set slug")
	// ErrUnknownSlug is returned when a well-formed slug is not in the current index.
	ErrUnknownSlug = errors.New("unknown question set")
	// ErrInvalidData indicates a question-set document failed schema validation.
	ErrInvalidData = errors.New("invalid question set data")
	// ErrNoActiveSession is returned when an exam operation runs without a started exam.
	ErrNoActiveSession = errors.New("no active exam session")
	// ErrDataUnavailable indicates previously indexed data can no longer be loaded.
	ErrDataUnavailable = errors.New("question set data unavailable")
	// ErrNoResult is returned when a result is requested without an exam in progress.
	ErrNoResult = errors.New("no exam result available")
)
