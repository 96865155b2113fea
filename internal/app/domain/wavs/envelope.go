package wavs

// WasmResponse is one output of a single component invocation.
type WasmResponse struct {
	Payload      []byte
	EventIdSalt  []byte // optional; required when a batch has more than one response
	Ordering     *EventOrder
}

// Envelope is the signed unit routed to submission.
type Envelope struct {
	Payload  []byte
	EventId  EventId
	Ordering EventOrder
}

// Packet is the wire object POSTed to an aggregator.
type Packet struct {
	Envelope      Envelope
	SignerAddress string
	Signature     []byte
	Route         SubmitConfig
	BlockHeight   uint64
}

// SignatureData is the ABI-encoded argument to the destination chain's
// service-manager `handleSignedEnvelope`.
type SignatureData struct {
	Signers        []string // hex addresses, sorted ascending
	Signatures     [][]byte // permuted to match Signers
	ReferenceBlock uint32
}
