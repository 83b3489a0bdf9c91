package utility

// AppError carries a plain message; protocol and configuration failures
// here have no cause chain worth wrapping.
type AppError struct {
	message string
}

func (e *AppError) Error() string {
	return e.message
}

// Err wraps a message into an error value.
func Err(message string) error {
	return &AppError{message: message}
}
