package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEndpointClosed      = errors.New("endpoint closed")
	ErrSendBufferFull      = errors.New("send buffer full")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrShuttingDown        = errors.New("server is shutting down")
)

// ValidationError is returned for malformed client events. It is reported to
// the sending connection only.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
