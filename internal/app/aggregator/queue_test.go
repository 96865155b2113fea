package aggregator

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func testEnvelope() wavs.Envelope {
	return wavs.Envelope{Payload: []byte("payload"), EventId: wavs.EventId{1, 2, 3}}
}

var (
	signerA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	signerB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// A repeat admission from the same signer overwrites its signature in place
// rather than growing the signer count or re-crossing the threshold (§4.6).
func TestQuorumQueueAdmitIdempotentPerSigner(t *testing.T) {
	q := newQuorumQueue(testEnvelope(), 10)

	res, err := q.admit(testEnvelope(), signerA, []byte("sig-1"), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.count)
	assert.False(t, res.crossed)

	res, err = q.admit(testEnvelope(), signerA, []byte("sig-1-resubmitted"), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.count, "resubmission from the same signer must not grow the count")
	assert.False(t, res.crossed, "resubmission must not re-cross a threshold it already crossed or never crossed")
}

// Crossing quorum_threshold is reported exactly once, on the admission that
// first reaches it.
func TestQuorumQueueAdmitCrossesThresholdOnce(t *testing.T) {
	q := newQuorumQueue(testEnvelope(), 10)

	res, err := q.admit(testEnvelope(), signerA, []byte("sig-a"), 2)
	require.NoError(t, err)
	assert.False(t, res.crossed)

	res, err = q.admit(testEnvelope(), signerB, []byte("sig-b"), 2)
	require.NoError(t, err)
	assert.True(t, res.crossed)
	assert.Equal(t, 2, res.count)

	// A third distinct signer after quorum already crossed must not report
	// crossed again.
	signerC := common.HexToAddress("0x3333333333333333333333333333333333333333")
	res, err = q.admit(testEnvelope(), signerC, []byte("sig-c"), 2)
	require.NoError(t, err)
	assert.False(t, res.crossed)
	assert.Equal(t, 3, res.count)
}

// Once burned, a queue rejects every further admission — including a
// resubmission of the very envelope that crossed quorum — as AlreadyBurned,
// never re-validating or re-counting it.
func TestQuorumQueueAdmitAfterBurnIsAlreadyBurned(t *testing.T) {
	q := newQuorumQueue(testEnvelope(), 10)
	q.burn(time.Now())

	res, err := q.admit(testEnvelope(), signerA, []byte("sig-a"), 1)
	require.NoError(t, err)
	assert.True(t, res.alreadyBurned)
	assert.Equal(t, 0, res.count)
}

// burn is idempotent: a second call never moves burnedAt forward.
func TestQuorumQueueBurnIdempotent(t *testing.T) {
	q := newQuorumQueue(testEnvelope(), 10)
	first := time.Now()
	q.burn(first)

	later := first.Add(time.Hour)
	q.burn(later)

	assert.Equal(t, first.Unix(), q.burnedAt.Unix())
}

// admit rejects a submission whose envelope differs from the queue's head
// envelope (e.g. a conflicting payload for the same EventId).
func TestQuorumQueueAdmitRejectsMismatchedEnvelope(t *testing.T) {
	q := newQuorumQueue(testEnvelope(), 10)
	other := wavs.Envelope{Payload: []byte("different-payload"), EventId: testEnvelope().EventId}

	_, err := q.admit(other, signerA, []byte("sig"), 2)
	assert.Error(t, err)
	var diffErr *EnvelopeDiffError
	assert.ErrorAs(t, err, &diffErr)
}

// signatureData returns signers sorted ascending by address, with
// signatures permuted to match, regardless of admission order.
func TestQuorumQueueSignatureDataSortsSigners(t *testing.T) {
	q := newQuorumQueue(testEnvelope(), 42)
	_, err := q.admit(testEnvelope(), signerB, []byte("sig-b"), 2)
	require.NoError(t, err)
	_, err = q.admit(testEnvelope(), signerA, []byte("sig-a"), 2)
	require.NoError(t, err)

	data := q.signatureData()
	require.Len(t, data.Signers, 2)
	assert.Equal(t, signerA.Hex(), data.Signers[0])
	assert.Equal(t, signerB.Hex(), data.Signers[1])
	assert.Equal(t, []byte("sig-a"), data.Signatures[0])
	assert.Equal(t, []byte("sig-b"), data.Signatures[1])
	assert.EqualValues(t, 42, data.ReferenceBlock)
}

// Cleanup removes only burned queues older than burnedTTL, leaving active
// queues and recently burned queues untouched.
func TestQueueStoreCleanupRemovesOnlyExpiredBurned(t *testing.T) {
	store := NewQueueStore(time.Minute)
	now := time.Now()

	activeID := wavs.EventId{1}
	store.getOrCreate(activeID, testEnvelope(), 1)

	recentlyBurnedID := wavs.EventId{2}
	recentlyBurned := store.getOrCreate(recentlyBurnedID, testEnvelope(), 1)
	recentlyBurned.burn(now)

	expiredBurnedID := wavs.EventId{3}
	expiredBurned := store.getOrCreate(expiredBurnedID, testEnvelope(), 1)
	expiredBurned.burn(now.Add(-2 * time.Minute))

	removed := store.Cleanup(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Len())
}
