package schemas

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrAlreadyExists     = errors.New("task already exists")
	ErrNotReady          = errors.New("task not ready")
	ErrOperationFailed   = errors.New("operation failed")
	ErrArtifactMissing   = fmt.Errorf("%w: artifact missing", ErrOperationFailed)
	ErrInvalidTransition = errors.New("invalid task transition")
)
