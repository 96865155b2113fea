// Package wavs holds the core data model shared by every subsystem: services,
// workflows, components, triggers, submit targets, and the digests and
// identifiers that tie them together.
package wavs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// DigestSize is the byte length of every SHA-256 digest in this package.
const DigestSize = 32

// EventIDSize is the byte length of a derived EventId.
const EventIDSize = 20

// EventOrderSize is the byte length of the optional ordering hint a
// component may attach to a response.
const EventOrderSize = 12

var workflowIDPattern = regexp.MustCompile(`^[a-z0-9_-]{3,36}$`)

// ComponentDigest identifies stored WASM bytecode by its SHA-256 hash.
// Digest kinds are distinct types on purpose: a ComponentDigest must never be
// implicitly usable where a ServiceDigest is expected.
type ComponentDigest [DigestSize]byte

// ServiceDigest identifies a service-manager descriptor by its SHA-256 hash;
// ServiceId is derived from it.
type ServiceDigest [DigestSize]byte

// AnyDigest is used where the caller has not yet committed to a digest kind,
// e.g. while verifying freshly downloaded bytes against a claimed digest.
type AnyDigest [DigestSize]byte

func (d ComponentDigest) String() string { return hex.EncodeToString(d[:]) }
func (d ServiceDigest) String() string   { return hex.EncodeToString(d[:]) }
func (d AnyDigest) String() string       { return hex.EncodeToString(d[:]) }

// IsZero reports whether the digest has never been assigned.
func (d ComponentDigest) IsZero() bool { return d == ComponentDigest{} }
func (d ServiceDigest) IsZero() bool   { return d == ServiceDigest{} }

// HashComponent computes the canonical digest for component bytecode.
func HashComponent(b []byte) ComponentDigest {
	return ComponentDigest(sha256.Sum256(b))
}

// HashService computes the canonical digest for an encoded service-manager
// descriptor (chain + address), used to derive ServiceId.
func HashService(b []byte) ServiceDigest {
	return ServiceDigest(sha256.Sum256(b))
}

// ParseComponentDigest decodes a lowercase hex string into a ComponentDigest.
func ParseComponentDigest(s string) (ComponentDigest, error) {
	var d ComponentDigest
	b, err := decodeDigestHex(s)
	if err != nil {
		return d, err
	}
	copy(d[:], b)
	return d, nil
}

// ParseServiceDigest decodes a lowercase hex string into a ServiceDigest.
func ParseServiceDigest(s string) (ServiceDigest, error) {
	var d ServiceDigest
	b, err := decodeDigestHex(s)
	if err != nil {
		return d, err
	}
	copy(d[:], b)
	return d, nil
}

func decodeDigestHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode digest: %w", err)
	}
	if len(b) != DigestSize {
		return nil, fmt.Errorf("decode digest: want %d bytes, got %d", DigestSize, len(b))
	}
	return b, nil
}

// ServiceId is a stable identifier derived purely from a service's manager
// descriptor; renaming a service's manager produces a different ServiceId.
type ServiceId ServiceDigest

func (id ServiceId) String() string { return ServiceDigest(id).String() }

// DeriveServiceId computes the ServiceId for a (chain, address) manager pair.
func DeriveServiceId(chain ChainKey, address string) ServiceId {
	return ServiceId(HashService([]byte(string(chain) + ":" + address)))
}

// WorkflowId is a short, validated handle unique within a service.
type WorkflowId string

// Valid reports whether the WorkflowId matches `[a-z0-9_-]{3,36}`.
func (id WorkflowId) Valid() bool {
	return workflowIDPattern.MatchString(string(id))
}

// ChainKey is "namespace:chain_id", e.g. "evm:31337" or "cosmos:wasmd-1".
type ChainKey string

// Namespace returns the chain-family portion of the key ("evm", "cosmos").
func (k ChainKey) Namespace() string {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return string(k[:i])
		}
	}
	return string(k)
}

// EventId is the 20-byte deterministic identifier derived in the submission
// manager; independent operators computing the same inputs must land on the
// same bytes so their signatures can be aggregated in the same queue.
type EventId [EventIDSize]byte

func (e EventId) String() string { return hex.EncodeToString(e[:]) }

// EventOrder is an optional 12-byte ordering hint a component may attach to
// one of its responses; it defaults to all zero bytes.
type EventOrder [EventOrderSize]byte
