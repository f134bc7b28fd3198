package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"
)

// EventType names a domain event. The set of types belongs to the emitting
// module; the ledger treats them as opaque labels.
type EventType string

// Event is what a service hands to Publish. Payload is marshalled to JSON.
type Event struct {
	Type    EventType
	Payload any
}

// Entry is one sealed ledger record.
//
// Invariants:
//   - Seq starts at 1 and increases by exactly 1 per entry
//   - PrevHash equals the Hash of entry Seq-1 (empty for Seq 1)
//   - Hash covers every other field, so editing any of them breaks the chain
//   - At has microsecond precision so every backend can store it losslessly
type Entry struct {
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Actor     string          `json:"actor,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Client    string          `json:"client,omitempty"`
	At        time.Time       `json:"at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// ComputeHash returns the hex BLAKE2b-256 digest of the entry's content and
// PrevHash. Each variable-length field is length-prefixed so field boundaries
// cannot be shifted.
func (e Entry) ComputeHash() string {
	h, _ := blake2b.New256(nil) // nil key never errors
	var buf [8]byte

	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeBytes := func(b []byte) {
		writeUint(uint64(len(b)))
		_, _ = h.Write(b)
	}

	writeBytes([]byte(e.PrevHash))
	writeUint(e.Seq)
	writeBytes([]byte(e.Type))
	writeBytes(e.Payload)
	writeBytes([]byte(e.Actor))
	writeBytes([]byte(e.RequestID))
	writeBytes([]byte(e.Client))
	writeUint(uint64(e.At.UnixMicro()))

	return hex.EncodeToString(h.Sum(nil))
}

// seal fills PrevHash and Hash so the entry follows prev (nil for the first entry).
func (e *Entry) seal(prev *Entry) {
	e.PrevHash = ""
	if prev != nil {
		e.PrevHash = prev.Hash
	}
	e.Hash = e.ComputeHash()
}
