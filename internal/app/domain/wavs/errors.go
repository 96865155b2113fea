package wavs

import "errors"

// Storage error kinds, shared by the content-addressed store, the services
// registry, and the key-value store.
var (
	ErrNotFound = errors.New("storage: not found")
	ErrCorrupt  = errors.New("storage: corrupt")
	ErrIO       = errors.New("storage: io error")
)

// DigestMismatchError is returned by fetch() when downloaded bytes do not
// hash to the digest the caller claimed.
type DigestMismatchError struct {
	Want ComponentDigest
	Got  ComponentDigest
}

func (e *DigestMismatchError) Error() string {
	return "digest mismatch: want " + e.Want.String() + ", got " + e.Got.String()
}
