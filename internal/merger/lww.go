package merger

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// fieldTimestamp tracks the last-write-wins clock for a single field so
// concurrent changes from independently clocked writers converge on the
// field written with the latest changeCreatedAt, not on apply order.
type fieldTimestamp struct {
	Value     any   `json:"value"`
	UpdatedAt int64 `json:"updated_at"`
}

// LWW is the default Merger: every top-level field of the document's state
// carries its own last-write-wins clock, so concurrent edits to distinct
// fields both survive and concurrent edits to the same field converge
// deterministically on the one with the later changeCreatedAt (ties broken
// by field value comparison for determinism across replicas).
type LWW struct{}

// NewLWW returns the default field-level last-write-wins merger.
func NewLWW() *LWW { return &LWW{} }

func (LWW) Init() State {
	return State{}
}

func (LWW) Apply(state State, change Change, changeCreatedAt time.Time) State {
	out := cloneState(state)
	ts := changeCreatedAt.UnixNano()

	for field, newValue := range change {
		existing, ok := out[field].(fieldTimestamp)
		if !ok {
			out[field] = fieldTimestamp{Value: newValue, UpdatedAt: ts}
			continue
		}
		if ts > existing.UpdatedAt || (ts == existing.UpdatedAt && lessDeterministic(existing.Value, newValue)) {
			out[field] = fieldTimestamp{Value: newValue, UpdatedAt: ts}
		}
	}
	return out
}

func (LWW) Diff(before, after State) (Change, bool) {
	change := Change{}
	for field, v := range after {
		afterVal := unwrap(v)
		beforeVal, existed := before[field]
		if !existed || !reflect.DeepEqual(unwrap(beforeVal), afterVal) {
			change[field] = afterVal
		}
	}
	if len(change) == 0 {
		return nil, false
	}
	return change, true
}

func (LWW) Serialize(state State) ([]byte, error) {
	flat := make(map[string]any, len(state))
	for k, v := range state {
		flat[k] = unwrap(v)
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return nil, apperrors.Wrap(err, "serialize document state")
	}
	return data, nil
}

func (LWW) Deserialize(data []byte) (State, error) {
	var flat map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruption, "deserialize document state")
		}
	}
	state := State{}
	for k, v := range flat {
		state[k] = fieldTimestamp{Value: v, UpdatedAt: 0}
	}
	return state, nil
}

func (LWW) Value(state State, field string) (any, bool) {
	v, ok := state[field]
	if !ok {
		return nil, false
	}
	return unwrap(v), true
}

func cloneState(state State) State {
	out := make(State, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func unwrap(v any) any {
	if ft, ok := v.(fieldTimestamp); ok {
		return ft.Value
	}
	return v
}

// lessDeterministic breaks UpdatedAt ties by comparing JSON-encoded values
// lexically, so every replica picks the same winner regardless of apply order.
func lessDeterministic(a, b any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(bj) > string(aj)
}
