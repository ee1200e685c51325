package core

import "fmt"

// InvalidInputError reports a caller-supplied history that cannot be answered.
// No provider is called when it is returned.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid chat history: " + e.Reason
}

// ProviderError reports a chat completion call that failed, timed out or
// produced nothing usable.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("chat provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
