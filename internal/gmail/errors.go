package gmail

import "fmt"

// NotFoundError is returned when Gmail answers 404 for a message or thread.
// Err holds Gmail's own error when there is one; its message is kept as is.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("gmail %s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
