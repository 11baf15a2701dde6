// Package merger defines the CRDT capability boundary the document
// assembler uses to fold doc_change entries into accumulated state, and
// ships a default field-level last-write-wins implementation.
package merger

import "time"

// State is the opaque structured state a Merger operates on. The assembler
// treats it as a black box; only a Merger implementation interprets it.
type State map[string]any

// Change is the opaque payload carried by a doc_change entry, decoded from
// the entry's decrypted plaintext before being handed to Apply.
type Change map[string]any

// Merger is the pluggable CRDT capability. Implementations must be
// commutative and idempotent with respect to the order entries are applied
// in across replicas, since the assembler applies changes in
// (createdAt, id) topological order which may differ from creation order
// observed by any single writer.
type Merger interface {
	// Init returns the zero state for a freshly created document.
	Init() State

	// Apply merges change into state, authored at changeCreatedAt, and
	// returns the resulting state. Must not mutate state in place.
	Apply(state State, change Change, changeCreatedAt time.Time) State

	// Diff computes the change payload representing the mutation from
	// before to after, for emission as a doc_change entry's plaintext.
	Diff(before, after State) (Change, bool)

	// Serialize and Deserialize convert State to/from the plaintext bytes
	// stored in doc_snapshot and doc_create entries.
	Serialize(state State) ([]byte, error)
	Deserialize(data []byte) (State, error)

	// Value returns the logical (unwrapped) value of field, hiding whatever
	// bookkeeping the implementation attaches to each entry in State.
	Value(state State, field string) (any, bool)
}
