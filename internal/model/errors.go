package model

import "errors"

var (
	// ErrDuplicateOutboxEntry means a STARTED row for the same saga, type and
	// event status already exists: the inbound message was already applied.
	ErrDuplicateOutboxEntry = errors.New("duplicate outbox entry")
	// ErrStaleOutboxVersion means another publisher already moved the row.
	ErrStaleOutboxVersion = errors.New("stale outbox version")
	// ErrDuplicateRequest means the participant already answered this
	// request for the order, whatever the answer was.
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrTransportSend      = errors.New("transport send failure")
	// ErrSagaStepMismatch marks a response for an unknown, terminal or
	// already advanced saga.
	ErrSagaStepMismatch  = errors.New("saga step mismatch")
	ErrCompensation      = errors.New("compensation failure")
	ErrNotFound          = errors.New("not found")
	ErrInvalidOrderState = errors.New("invalid order state")
)
