package chart

import "errors"

var (
	// ErrValidation reports malformed or incomplete mutation input. No
	// state changes when it is returned.
	ErrValidation = errors.New("invalid chart input")

	// ErrNotFound reports a missing snapshot or a point id that does not
	// exist in any candidate channel.
	ErrNotFound = errors.New("chart point not found")
)
