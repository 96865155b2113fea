package wavs

// SubmitKind tags which variant of SubmitConfig is populated.
type SubmitKind int

const (
	SubmitNone SubmitKind = iota
	SubmitEthereumContract
	SubmitAggregator
)

// SignaturePrefix selects the byte prefix applied before signing, declared
// per submit target.
type SignaturePrefix int

const (
	// PrefixNone signs the raw prehash.
	PrefixNone SignaturePrefix = iota
	// PrefixEip191 signs "\x19Ethereum Signed Message:\n32" ‖ keccak256(payload).
	PrefixEip191
)

// SignatureKind declares the signing algorithm and prefix for a submit target.
type SignatureKind struct {
	Algorithm string // always "secp256k1" in the current design
	Prefix    SignaturePrefix
}

// DefaultSignatureKind is secp256k1 with no extra prefix.
var DefaultSignatureKind = SignatureKind{Algorithm: "secp256k1", Prefix: PrefixNone}

// SubmitConfig is the `(submit)` leg of a Workflow.
type SubmitConfig struct {
	Kind SubmitKind

	// EthereumContract.
	Chain   ChainKey
	Address string
	MaxGas  *uint64

	// Aggregator.
	URL           string
	Component     *Component // optional aggregation component embedded in the submit target
	SignatureKind SignatureKind
}
