// Package submission implements the Submission Manager (§4.5): event-ID
// derivation, per-event signing, and routing of signed envelopes to either a
// direct chain submitter or a remote aggregator.
package submission

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// CanonicalBytes produces the deterministic byte sequence every operator
// hashes to derive an EventId (§4.4/§8): independent operators computing the
// same (trigger_action, salt) must land on identical bytes so their
// signatures aggregate in the same quorum queue. Field order is fixed; any
// map-valued field (EventAttrs) is sorted by key first.
func CanonicalBytes(action wavs.TriggerAction, salt []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(action.ServiceId.String())
	buf.WriteByte(0)
	buf.WriteString(string(action.WorkflowId))
	buf.WriteByte(0)

	writeUint64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}

	d := action.Data
	buf.WriteByte(byte(d.Kind))
	writeUint64(d.BlockNumber)
	buf.WriteString(d.TxHash)
	buf.WriteByte(0)
	var logIdx [4]byte
	binary.BigEndian.PutUint32(logIdx[:], d.LogIndex)
	buf.Write(logIdx[:])
	buf.WriteString(d.ContractAddress)
	buf.WriteByte(0)
	for _, t := range d.Topics {
		buf.WriteString(t)
		buf.WriteByte(0)
	}
	if len(d.EventAttrs) > 0 {
		keys := make([]string, 0, len(d.EventAttrs))
		for k := range d.EventAttrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(k)
			buf.WriteByte('=')
			buf.WriteString(d.EventAttrs[k])
			buf.WriteByte(0)
		}
	}
	writeUint64(d.Height)
	if !d.TriggerTime.IsZero() {
		writeUint64(uint64(d.TriggerTime.UTC().UnixNano()))
	} else {
		writeUint64(0)
	}
	buf.Write(d.Raw)
	buf.WriteByte(0)
	buf.Write(salt)
	return buf.Bytes()
}

// DeriveEventId computes the 20-byte EventId per §4.4:
// truncate20(keccak256(canonical_bytes(trigger_action, salt))).
func DeriveEventId(action wavs.TriggerAction, salt []byte) wavs.EventId {
	hash := crypto.Keccak256(CanonicalBytes(action, salt))
	var id wavs.EventId
	copy(id[:], hash[len(hash)-wavs.EventIDSize:])
	return id
}
