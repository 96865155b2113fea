package wavs

import "fmt"

// Workflow couples a trigger, a component, and a submit target.
type Workflow struct {
	Trigger   TriggerConfig
	Component Component
	Submit    SubmitConfig
}

// Runnable reports whether the workflow's component digest is resolvable
// without contacting a registry or download source (i.e. its source carries
// a non-zero digest, whatever the source kind); callers that can resolve Download/Registry
// sources should do so before relying on this check.
func (w Workflow) Runnable() bool {
	return !w.Component.Source.Digest.IsZero()
}

// ServiceStatus enumerates the lifecycle states of a Service.
type ServiceStatus int

const (
	StatusActive ServiceStatus = iota
	StatusPaused
)

func (s ServiceStatus) String() string {
	if s == StatusPaused {
		return "paused"
	}
	return "active"
}

// ServiceManager identifies the on-chain descriptor a service is anchored to.
type ServiceManager struct {
	Chain   ChainKey
	Address string
}

// Service is a deployable unit composed of one or more workflows, anchored by
// an on-chain service manager. Its id() is a pure function of Manager:
// changing Manager produces a different service, so services are never
// renamed in place.
type Service struct {
	Name      string
	Status    ServiceStatus
	Manager   ServiceManager
	Workflows map[WorkflowId]Workflow
}

// Id derives the stable ServiceId from Manager.
func (s Service) Id() ServiceId {
	return DeriveServiceId(s.Manager.Chain, s.Manager.Address)
}

// Validate checks workflow id syntax across the service.
func (s Service) Validate() error {
	for id := range s.Workflows {
		if !id.Valid() {
			return fmt.Errorf("invalid workflow id %q: must match [a-z0-9_-]{3,36}", id)
		}
	}
	return nil
}
