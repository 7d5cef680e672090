package job

import (
	"errors"
	"fmt"
)

var (
	ErrNoInput          = errors.New("empty upload")
	ErrJobNotFound      = errors.New("job not found")
	ErrBusy             = errors.New("a conversion is already running")
	ErrDocumentNotReady = errors.New("document not ready")
	ErrRunPanicked      = errors.New("conversion crashed")
)

func newErrInvalidPage(err error) error { return fmt.Errorf("invalid page settings: %w", err) }
