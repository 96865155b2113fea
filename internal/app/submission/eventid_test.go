package submission

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func sampleAction() wavs.TriggerAction {
	return wavs.TriggerAction{
		ServiceId:  wavs.ServiceId(wavs.HashService([]byte("evm:0xabc"))),
		WorkflowId: wavs.WorkflowId("my-workflow"),
		Data: wavs.TriggerData{
			Kind:            wavs.DataEvmContractEvent,
			BlockNumber:     100,
			TxHash:          "0xdeadbeef",
			LogIndex:        2,
			ContractAddress: "0xcontract",
			Topics:          []string{"topic-a", "topic-b"},
			EventAttrs:      map[string]string{"b": "2", "a": "1"},
			TriggerTime:     time.Unix(1700000000, 0),
		},
	}
}

// DeriveEventId must be a pure function of its inputs: two independently
// built TriggerActions with identical field values produce byte-identical
// EventIds, the property different operators rely on to land in the same
// quorum queue.
func TestDeriveEventIdDeterministic(t *testing.T) {
	salt := []byte("salt-1")
	id1 := DeriveEventId(sampleAction(), salt)
	id2 := DeriveEventId(sampleAction(), salt)
	assert.Equal(t, id1, id2)
}

func TestDeriveEventIdVariesWithSalt(t *testing.T) {
	action := sampleAction()
	id1 := DeriveEventId(action, []byte("salt-1"))
	id2 := DeriveEventId(action, []byte("salt-2"))
	assert.NotEqual(t, id1, id2)
}

// EventAttrs is a map; CanonicalBytes must sort it so insertion order never
// affects the derived bytes.
func TestCanonicalBytesEventAttrsOrderIndependent(t *testing.T) {
	a := sampleAction()
	a.Data.EventAttrs = map[string]string{"z": "1", "a": "2", "m": "3"}
	b := sampleAction()
	b.Data.EventAttrs = map[string]string{"m": "3", "z": "1", "a": "2"}
	assert.Equal(t, CanonicalBytes(a, nil), CanonicalBytes(b, nil))
}

func TestDeriveEventIdSizeAndNonZero(t *testing.T) {
	id := DeriveEventId(sampleAction(), []byte("salt"))
	assert.Len(t, id, wavs.EventIDSize)
	assert.NotEqual(t, wavs.EventId{}, id)
}

// Sign/RecoverAddress must round-trip: the address recovered from a
// signature must match the signer's own derived address (§4.5, §8).
func TestSignRecoverAddressRoundTrip(t *testing.T) {
	entropy, err := bip39.NewEntropy(128)
	require.NoError(t, err)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)

	signer, err := NewSigner(KeySource{Mnemonic: mnemonic}, NewHDIndexAllocator(nil))
	require.NoError(t, err)

	envelope := wavs.Envelope{
		Payload: []byte("payload-bytes"),
		EventId: DeriveEventId(sampleAction(), []byte("salt")),
	}

	sig, signerAddr, err := signer.Sign(envelope, wavs.DefaultSignatureKind, 3)
	require.NoError(t, err)

	recovered, err := RecoverAddress(envelope, wavs.DefaultSignatureKind, sig)
	require.NoError(t, err)
	assert.Equal(t, signerAddr, recovered)
}

func TestSignRecoverAddressRoundTripEip191(t *testing.T) {
	entropy, err := bip39.NewEntropy(128)
	require.NoError(t, err)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)

	signer, err := NewSigner(KeySource{Mnemonic: mnemonic}, NewHDIndexAllocator(nil))
	require.NoError(t, err)

	envelope := wavs.Envelope{Payload: []byte("eip191-payload"), EventId: wavs.EventId{1, 2, 3}}
	kind := wavs.SignatureKind{Algorithm: "secp256k1", Prefix: wavs.PrefixEip191}

	sig, signerAddr, err := signer.Sign(envelope, kind, 0)
	require.NoError(t, err)

	recovered, err := RecoverAddress(envelope, kind, sig)
	require.NoError(t, err)
	assert.Equal(t, signerAddr, recovered)
}

// Address derives from HD index 0 regardless of which index later
// submissions use, giving the operator one stable identity.
func TestSignerAddressIsIndexZero(t *testing.T) {
	entropy, err := bip39.NewEntropy(128)
	require.NoError(t, err)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)

	signer, err := NewSigner(KeySource{Mnemonic: mnemonic}, NewHDIndexAllocator(nil))
	require.NoError(t, err)

	addr, err := signer.Address()
	require.NoError(t, err)

	envelope := wavs.Envelope{Payload: []byte("p"), EventId: wavs.EventId{9}}
	_, signerAtZero, err := signer.Sign(envelope, wavs.DefaultSignatureKind, 0)
	require.NoError(t, err)
	assert.Equal(t, signerAtZero, addr)
}

// A raw-private-key signer only ever has index 0, so Address must succeed
// and Sign at a non-zero index must fail.
func TestRawKeySignerRejectsNonZeroIndex(t *testing.T) {
	signer, err := NewSigner(KeySource{RawPrivKey: "0x" + strings.Repeat("ab", 32)}, NewHDIndexAllocator(nil))
	require.NoError(t, err)

	_, err = signer.Address()
	require.NoError(t, err)

	envelope := wavs.Envelope{Payload: []byte("p"), EventId: wavs.EventId{1}}
	_, _, err = signer.Sign(envelope, wavs.DefaultSignatureKind, 1)
	assert.Error(t, err)
}
