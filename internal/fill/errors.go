package fill

import "errors"

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrFieldNotFound     = errors.New("field not found")
	ErrInvalidAnswer     = errors.New("answer value is required")
	ErrNoPendingFields   = errors.New("no pending fields")
	ErrFieldNotAwaited   = errors.New("field is not awaiting an answer")
	ErrDocumentNotReady  = errors.New("document is not ready for filling")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidFields     = errors.New("invalid field list")
)
