package app

import "fmt"

// DomainError carries an HTTP status and a stable machine-readable code
// alongside the human message. The HTTP layer maps it straight onto the
// error envelope.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return e.Message
}

func domainError(status int, code, format string, args ...any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *DomainError) withDetails(details map[string]any) *DomainError {
	e.Details = details
	return e
}
