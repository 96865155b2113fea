// Package aggregator implements per-EventId quorum queues that deduplicate
// and validate operator Packets and, once a threshold of distinct signers is
// reached, submit the aggregated signature set to a destination chain.
package aggregator

import "fmt"

// EnvelopeDiffError is returned when an incoming Packet's envelope does not
// byte-match the envelope already queued for the same EventId.
type EnvelopeDiffError struct {
	QueueId string
}

func (e *EnvelopeDiffError) Error() string {
	return fmt.Sprintf("aggregator: envelope mismatch for queue %s", e.QueueId)
}

// AlreadyBurnedError is returned when a Packet arrives for a queue that has
// already crossed quorum and submitted on-chain.
type AlreadyBurnedError struct {
	QueueId string
}

func (e *AlreadyBurnedError) Error() string {
	return fmt.Sprintf("aggregator: queue %s already burned", e.QueueId)
}

// MissingServiceError is returned when a Packet references a service the
// aggregator has not been told about via POST /services.
type MissingServiceError struct {
	ServiceId string
}

func (e *MissingServiceError) Error() string {
	return fmt.Sprintf("aggregator: unknown service %s", e.ServiceId)
}

// RepeatServiceError is returned when POST /services is called twice for the
// same service id with a differing descriptor.
type RepeatServiceError struct {
	ServiceId string
}

func (e *RepeatServiceError) Error() string {
	return fmt.Sprintf("aggregator: service %s already registered with a different descriptor", e.ServiceId)
}

// UnexpectedResponsesLengthError is returned by an aggregation component
// invocation that didn't return exactly the expected number of responses.
type UnexpectedResponsesLengthError struct {
	Expected int
	Got      int
}

func (e *UnexpectedResponsesLengthError) Error() string {
	return fmt.Sprintf("aggregator: expected %d responses from aggregation component, got %d", e.Expected, e.Got)
}

// ServiceManagerValidateKind classifies the result of validating a
// destination chain's response to handleSignedEnvelope.
type ServiceManagerValidateKind int

const (
	ServiceManagerValidateKnown ServiceManagerValidateKind = iota
	ServiceManagerValidateAnyRevert
	ServiceManagerValidateUnknownEvm
	ServiceManagerValidateUnknownCosmos
	ServiceManagerValidateWavs
)

// ServiceManagerValidateError reports a problem validating or executing a
// handleSignedEnvelope call against a service manager contract.
type ServiceManagerValidateError struct {
	Kind   ServiceManagerValidateKind
	Detail string
}

func (e *ServiceManagerValidateError) Error() string {
	return fmt.Sprintf("aggregator: service manager validation failed (%d): %s", e.Kind, e.Detail)
}
