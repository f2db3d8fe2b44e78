package bridge

import "fmt"

// DecodeError an inbound message body is malformed
type DecodeError struct {
	Subject string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed message on %s: %s", e.Subject, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ForwardError a sync event could not be stored in the durable log
type ForwardError struct {
	Topic string
	Err   error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("durable log delivery to %s failed: %s", e.Topic, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// ReplayError the local pipeline failed to apply a remote sync event
type ReplayError struct {
	OriginID string
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay of sync event from %s failed: %s", e.OriginID, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}
