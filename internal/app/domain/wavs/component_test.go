package wavs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentEffectiveFuelLimitDefaultsAndClamps(t *testing.T) {
	c := Component{}
	assert.Equal(t, DefaultFuelLimit, c.EffectiveFuelLimit(0), "no component or operator cap falls back to the default")

	c.FuelLimit = 1000
	assert.Equal(t, uint64(1000), c.EffectiveFuelLimit(0), "no operator cap: component's own limit wins")
	assert.Equal(t, uint64(500), c.EffectiveFuelLimit(500), "stricter operator cap wins")
	assert.Equal(t, uint64(1000), c.EffectiveFuelLimit(5000), "looser operator cap never raises the limit")
}

func TestComponentEffectiveTimeLimitDefaultsAndClamps(t *testing.T) {
	c := Component{}
	assert.Equal(t, DefaultTimeLimitSeconds, c.EffectiveTimeLimit(0))

	c.TimeLimitSeconds = 30
	assert.Equal(t, uint32(30), c.EffectiveTimeLimit(0))
	assert.Equal(t, uint32(10), c.EffectiveTimeLimit(10))
	assert.Equal(t, uint32(30), c.EffectiveTimeLimit(60))
}

func TestPermissionsHTTPAllowed(t *testing.T) {
	none := Permissions{AllowedHTTPHosts: HTTPHostsNone}
	assert.False(t, none.HTTPAllowed("example.com"))

	all := Permissions{AllowedHTTPHosts: HTTPHostsAll}
	assert.True(t, all.HTTPAllowed("anything.example"))

	only := Permissions{AllowedHTTPHosts: HTTPHostsOnly, OnlyHosts: []string{"allowed.example"}}
	assert.True(t, only.HTTPAllowed("allowed.example"))
	assert.False(t, only.HTTPAllowed("other.example"))
}

func TestWorkflowRunnable(t *testing.T) {
	runnable := Workflow{Component: Component{Source: ComponentSource{Kind: SourceDigest, Digest: HashComponent([]byte("x"))}}}
	assert.True(t, runnable.Runnable())

	notRunnable := Workflow{Component: Component{Source: ComponentSource{Kind: SourceDownload, URL: "https://x"}}}
	assert.False(t, notRunnable.Runnable())
}

func TestServiceValidateRejectsInvalidWorkflowId(t *testing.T) {
	svc := Service{
		Manager:   ServiceManager{Chain: "evm:1", Address: "0xaaa"},
		Workflows: map[WorkflowId]Workflow{"Bad Id!": {}},
	}
	assert.Error(t, svc.Validate())

	svc.Workflows = map[WorkflowId]Workflow{"good-workflow-id": {}}
	assert.NoError(t, svc.Validate())
}

func TestServiceIdChangesWithManager(t *testing.T) {
	a := Service{Manager: ServiceManager{Chain: "evm:1", Address: "0xaaa"}}
	b := Service{Manager: ServiceManager{Chain: "evm:1", Address: "0xbbb"}}
	assert.NotEqual(t, a.Id(), b.Id())
}
