package submission

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// KeySource is either a BIP-39 mnemonic (HD-derived, monotonic index) or a
// single raw secp256k1 private key (HD index must be 0), per §4.5.
type KeySource struct {
	Mnemonic   string
	RawPrivKey string // "0x..." hex, mutually exclusive with Mnemonic
}

// Signer signs envelope hashes with secp256k1 keys derived from a KeySource,
// and recovers signer addresses for validation (§4.5, §4.6).
type Signer struct {
	seed   []byte // non-nil when constructed from a mnemonic
	rawKey *ecdsa.PrivateKey

	// allocator is the open question from §9: the HD-index allocator is
	// process-wide. Persisted indices per logical role keep restarts from
	// reusing an index (see SPEC_FULL.md §C.4).
	allocator *HDIndexAllocator
}

// NewSigner validates src and constructs a Signer.
func NewSigner(src KeySource, allocator *HDIndexAllocator) (*Signer, error) {
	s := &Signer{allocator: allocator}
	switch {
	case src.Mnemonic != "" && src.RawPrivKey != "":
		return nil, fmt.Errorf("submission: mnemonic and raw private key are mutually exclusive")
	case src.Mnemonic != "":
		if !bip39.IsMnemonicValid(src.Mnemonic) {
			return nil, fmt.Errorf("submission: invalid BIP-39 mnemonic")
		}
		s.seed = bip39.NewSeed(src.Mnemonic, "")
	case src.RawPrivKey != "":
		raw := strings.TrimPrefix(src.RawPrivKey, "0x")
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("submission: parse raw private key: %w", err)
		}
		s.rawKey = key
	default:
		return nil, fmt.Errorf("submission: no signing key configured")
	}
	return s, nil
}

// deriveKey returns the deterministic key for hdIndex. A mnemonic-backed
// signer derives a fresh scalar per index via HMAC-SHA512 over the BIP-39
// seed (a simplified, deterministic stand-in for full BIP-32 — see
// DESIGN.md); a raw-key signer only accepts index 0, per §4.5.
func (s *Signer) deriveKey(hdIndex uint32) (*ecdsa.PrivateKey, error) {
	if s.rawKey != nil {
		if hdIndex != 0 {
			return nil, fmt.Errorf("submission: raw private key requires HD index 0, got %d", hdIndex)
		}
		return s.rawKey, nil
	}
	mac := hmac.New(sha512.New, s.seed)
	mac.Write([]byte("wavs-hd-signing-key"))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], hdIndex)
	mac.Write(idx[:])
	sum := mac.Sum(nil)
	key, err := crypto.ToECDSA(sum[:32])
	if err != nil {
		return nil, fmt.Errorf("submission: derive key at index %d: %w", hdIndex, err)
	}
	return key, nil
}

// Address returns the operator's identity address: the public key at HD
// index 0. Submissions themselves use whatever index the allocator hands
// out, but callers needing one stable address to identify this node (e.g.
// GET /info's peer_id) derive it from index 0.
func (s *Signer) Address() (common.Address, error) {
	key, err := s.deriveKey(0)
	if err != nil {
		return common.Address{}, &SigningError{Reason: err.Error()}
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Sign prehashes envelope per kind.Prefix, signs it with the key at hdIndex,
// and returns the 65-byte recoverable signature plus the signer address.
func (s *Signer) Sign(envelope wavs.Envelope, kind wavs.SignatureKind, hdIndex uint32) (signature []byte, signer common.Address, err error) {
	key, err := s.deriveKey(hdIndex)
	if err != nil {
		return nil, common.Address{}, &SigningError{Reason: err.Error()}
	}
	hash := prehash(envelope, kind)
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return nil, common.Address{}, &SigningError{Reason: err.Error()}
	}
	return sig, crypto.PubkeyToAddress(key.PublicKey), nil
}

// prehash computes the hash actually signed: the raw ABI-encoded-envelope
// hash, or that hash wrapped in the EIP-191 personal-sign prefix.
func prehash(envelope wavs.Envelope, kind wavs.SignatureKind) [32]byte {
	payloadHash := crypto.Keccak256Hash(abiEncodeEnvelope(envelope))
	if kind.Prefix == wavs.PrefixEip191 {
		return crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), payloadHash[:])
	}
	return payloadHash
}

// abiEncodeEnvelope ABI-encodes {payload bytes, eventId bytes20, ordering
// bytes12} as a tuple, matching the wire contract's "ABI-encoded for EVM"
// requirement (§6).
func abiEncodeEnvelope(e wavs.Envelope) []byte {
	bytesTy, _ := abi.NewType("bytes", "", nil)
	bytes20Ty, _ := abi.NewType("bytes20", "", nil)
	bytes12Ty, _ := abi.NewType("bytes12", "", nil)
	args := abi.Arguments{{Type: bytesTy}, {Type: bytes20Ty}, {Type: bytes12Ty}}
	packed, err := args.Pack(e.Payload, e.EventId, e.Ordering)
	if err != nil {
		// Packing a well-typed fixed tuple cannot fail at runtime; surface a
		// deterministic fallback rather than panicking in a hot signing path.
		return append(append(append([]byte{}, e.Payload...), e.EventId[:]...), e.Ordering[:]...)
	}
	return packed
}

// RecoverAddress recovers the signer address from a signature and the
// envelope it was produced over (§4.5, §8's round-trip property).
func RecoverAddress(envelope wavs.Envelope, kind wavs.SignatureKind, signature []byte) (common.Address, error) {
	hash := prehash(envelope, kind)
	pub, err := crypto.SigToPub(hash[:], signature)
	if err != nil {
		return common.Address{}, &RecoverSignerAddressError{Reason: err.Error()}
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// HDIndexAllocator hands out monotonic HD indices per logical signer role,
// addressing §9's global-state open question: the allocator is owned by the
// submission manager and persisted so restarts never reuse an index.
type HDIndexAllocator struct {
	mu      sync.Mutex
	next    map[string]uint32
	persist func(role string, index uint32) error
}

// NewHDIndexAllocator constructs an allocator. persist, if non-nil, is
// called synchronously every time an index is handed out, so a crash right
// after allocation never replays the same index.
func NewHDIndexAllocator(persist func(role string, index uint32) error) *HDIndexAllocator {
	return &HDIndexAllocator{next: make(map[string]uint32), persist: persist}
}

// Restore seeds the allocator's next-index counters from persisted state at
// startup.
func (a *HDIndexAllocator) Restore(role string, lastUsed uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[role] = lastUsed + 1
}

// Allocate returns the next unused index for role.
func (a *HDIndexAllocator) Allocate(role string) (uint32, error) {
	a.mu.Lock()
	idx := a.next[role]
	a.next[role] = idx + 1
	a.mu.Unlock()
	if a.persist != nil {
		if err := a.persist(role, idx); err != nil {
			return 0, fmt.Errorf("submission: persist HD index: %w", err)
		}
	}
	return idx, nil
}
