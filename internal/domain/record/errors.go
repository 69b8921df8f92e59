package record

import "errors"

var (
	// ErrValidation reports malformed or incomplete input. No state
	// changes when it is returned.
	ErrValidation = errors.New("invalid record input")

	// ErrNotFound reports a record id that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState reports a lifecycle transition that is not legal
	// from the record's current status.
	ErrInvalidState = errors.New("invalid record state")

	// ErrRecordClosed reports a normal write against a record that is no
	// longer open. Closed records change only through amendment.
	ErrRecordClosed = errors.New("record is closed")
)
