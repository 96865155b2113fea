package wavs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComponentDigestRoundTrip(t *testing.T) {
	d := HashComponent([]byte("wasm-bytes"))
	parsed, err := ParseComponentDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseServiceDigestRoundTrip(t *testing.T) {
	d := HashService([]byte("evm:0xabc"))
	parsed, err := ParseServiceDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseComponentDigestRejectsWrongLength(t *testing.T) {
	_, err := ParseComponentDigest("deadbeef")
	assert.Error(t, err)
}

func TestParseComponentDigestRejectsNonHex(t *testing.T) {
	_, err := ParseComponentDigest("zz")
	assert.Error(t, err)
}

func TestDigestIsZero(t *testing.T) {
	var d ComponentDigest
	assert.True(t, d.IsZero())
	assert.False(t, HashComponent([]byte("x")).IsZero())
}

// DeriveServiceId is a pure, deterministic function of (chain, address): the
// same pair always derives the same ServiceId, and distinct pairs derive
// distinct ones.
func TestDeriveServiceIdDeterministicAndDistinct(t *testing.T) {
	a1 := DeriveServiceId("evm:1", "0xaaa")
	a2 := DeriveServiceId("evm:1", "0xaaa")
	assert.Equal(t, a1, a2)

	b := DeriveServiceId("evm:1", "0xbbb")
	assert.NotEqual(t, a1, b)

	c := DeriveServiceId("evm:2", "0xaaa")
	assert.NotEqual(t, a1, c)
}

func TestWorkflowIdValid(t *testing.T) {
	assert.True(t, WorkflowId("my-workflow_1").Valid())
	assert.False(t, WorkflowId("ab").Valid(), "too short")
	assert.False(t, WorkflowId("Invalid-Caps").Valid(), "uppercase not allowed")
	assert.False(t, WorkflowId("has space").Valid())
}

func TestChainKeyNamespace(t *testing.T) {
	assert.Equal(t, "evm", ChainKey("evm:31337").Namespace())
	assert.Equal(t, "cosmos", ChainKey("cosmos:wasmd-1").Namespace())
	assert.Equal(t, "nonamespace", ChainKey("nonamespace").Namespace())
}

func TestEventIdString(t *testing.T) {
	var id EventId
	for i := range id {
		id[i] = byte(i)
	}
	assert.Len(t, id.String(), EventIDSize*2)
}
