package outbox

import "errors"

var (
	ErrStorageNil       = errors.New("outbox: storage cannot be nil")
	ErrPayloadNil       = errors.New("outbox: payload cannot be nil")
	ErrPayloadMarshal   = errors.New("outbox: failed to marshal payload")
	ErrInsert           = errors.New("outbox: failed to insert record")
	ErrDuplicateRecord  = errors.New("outbox: record with this key already exists")
	ErrNoRecord         = errors.New("outbox: no record to claim")
	ErrRecordNotFound   = errors.New("outbox: record not found")
	ErrNotProcessing    = errors.New("outbox: record is not in processing state")
	ErrHandlerNotFound  = errors.New("outbox: no handler registered for record")
	ErrNoHandlers       = errors.New("outbox: no handlers registered")
	ErrRelayRunning     = errors.New("outbox: relay already started")
	ErrRelayNotRunning  = errors.New("outbox: relay not started")
	ErrHandlerPanicked  = errors.New("outbox: handler panicked")
	ErrDuplicateHandler = errors.New("outbox: handler already registered")
	ErrInvalidConfig    = errors.New("outbox: invalid configuration")
)
