package avito

import "fmt"

// TransportError is a network-level failure talking to the messenger API.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("avito transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError means the token exchange itself failed. Fatal to the current
// poll cycle, the next cycle starts from a clean attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("avito auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx response other than 401.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("avito remote: status %d: %s", e.Status, e.Body)
}
