package aggregator

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// envelopesEqual compares two envelopes for byte-exact equality; Envelope
// isn't comparable with == because Payload is a slice.
func envelopesEqual(a, b wavs.Envelope) bool {
	return bytes.Equal(a.Payload, b.Payload) && a.EventId == b.EventId && a.Ordering == b.Ordering
}

// queueState is the lifecycle state of one quorum queue (§4.6).
type queueState int

const (
	stateActive queueState = iota
	stateBurned
)

// quorumQueue accumulates distinct-signer submissions for one EventId until
// quorum_threshold is reached, then burns.
type quorumQueue struct {
	mu sync.Mutex

	state    queueState
	burnedAt time.Time

	envelope       wavs.Envelope
	referenceBlock uint32

	// signatures is keyed by signer so a repeat delivery from the same
	// operator overwrites in place rather than growing the queue (§4.6's
	// idempotent-update rule).
	signatures map[common.Address][]byte
	order      []common.Address // first-seen order, used only for readability in diagnostics
}

func newQuorumQueue(envelope wavs.Envelope, referenceBlock uint32) *quorumQueue {
	return &quorumQueue{
		state:          stateActive,
		envelope:       envelope,
		referenceBlock: referenceBlock,
		signatures:     make(map[common.Address][]byte),
	}
}

// admitResult reports what happened to an admitted submission.
type admitResult struct {
	count        int
	crossed      bool // threshold just crossed on this call
	alreadyBurned bool
}

// admit validates envelope against the queue head and idempotently records
// (signer, signature). Returns the current signer count and whether this
// call just crossed quorumThreshold.
func (q *quorumQueue) admit(envelope wavs.Envelope, signer common.Address, signature []byte, quorumThreshold int) (admitResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == stateBurned {
		return admitResult{alreadyBurned: true}, nil
	}
	if !envelopesEqual(envelope, q.envelope) {
		return admitResult{}, &EnvelopeDiffError{}
	}

	wasCrossed := len(q.signatures) >= quorumThreshold
	if _, exists := q.signatures[signer]; !exists {
		q.order = append(q.order, signer)
	}
	q.signatures[signer] = signature

	count := len(q.signatures)
	crossed := !wasCrossed && count >= quorumThreshold
	return admitResult{count: count, crossed: crossed}, nil
}

// burn transitions the queue to Burned(now), idempotently.
func (q *quorumQueue) burn(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == stateBurned {
		return
	}
	q.state = stateBurned
	q.burnedAt = now
}

// signatureData builds the (signers, signatures, referenceBlock) tuple with
// signers sorted ascending by address and signatures permuted to match
// (§4.6's handleSignedEnvelope wire contract).
func (q *quorumQueue) signatureData() wavs.SignatureData {
	q.mu.Lock()
	defer q.mu.Unlock()

	signers := make([]common.Address, 0, len(q.signatures))
	for s := range q.signatures {
		signers = append(signers, s)
	}
	sort.Slice(signers, func(i, j int) bool {
		return bytesLess(signers[i].Bytes(), signers[j].Bytes())
	})

	out := wavs.SignatureData{ReferenceBlock: q.referenceBlock}
	for _, s := range signers {
		out.Signers = append(out.Signers, s.Hex())
		out.Signatures = append(out.Signatures, q.signatures[s])
	}
	return out
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// burnedSince reports how long ago the queue burned; only meaningful when
// state == stateBurned.
func (q *quorumQueue) burnedSince(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return now.Sub(q.burnedAt)
}

// QueueStore owns every quorum queue, keyed by EventId, plus the periodic
// burned-queue cleanup sweep (§4.6).
type QueueStore struct {
	mu        sync.RWMutex
	queues    map[wavs.EventId]*quorumQueue
	burnedTTL time.Duration
}

// NewQueueStore constructs a store; burnedTTL must exceed the maximum
// expected network delay so late duplicates are still rejected as
// AlreadyBurned rather than silently re-accepted (§4.6).
func NewQueueStore(burnedTTL time.Duration) *QueueStore {
	return &QueueStore{queues: make(map[wavs.EventId]*quorumQueue), burnedTTL: burnedTTL}
}

// getOrCreate returns the queue for id, creating it (Active, seeded from
// envelope/referenceBlock) on first submission.
func (s *QueueStore) getOrCreate(id wavs.EventId, envelope wavs.Envelope, referenceBlock uint32) *quorumQueue {
	s.mu.RLock()
	q, ok := s.queues[id]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[id]; ok {
		return q
	}
	q = newQuorumQueue(envelope, referenceBlock)
	s.queues[id] = q
	return q
}

// Cleanup removes Burned queues older than burnedTTL. Called periodically by
// the aggregator Manager.
func (s *QueueStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, q := range s.queues {
		q.mu.Lock()
		burned := q.state == stateBurned && now.Sub(q.burnedAt) > s.burnedTTL
		q.mu.Unlock()
		if burned {
			delete(s.queues, id)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked queues (active + burned), used
// by /info diagnostics.
func (s *QueueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queues)
}
