package agent

import "fmt"

// AgentError wraps any failure of the response generator. The worker treats
// it as a per-message failure, never as fatal.
type AgentError struct {
	Err error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent: %v", e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
