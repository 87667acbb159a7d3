package causalchain

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// canonical produces the "JSON-with-stable-key-order" encoding spec.md §4.5
// calls an acceptable reference rule: marshal through encoding/json into a
// generic map, walk it recursively sorting every object's keys, then
// re-marshal. This resolves Open Question #1 (DESIGN.md).
func canonical(a Action) ([]byte, error) {
	// ContentHash/PrevHash/Signature are excluded: the hash covers the
	// action's content, not fields derived from that content.
	shape := map[string]interface{}{
		"action_id":        a.ActionID,
		"parent_action_id": a.ParentActionID,
		"plan_id":          a.PlanID,
		"intent_id":        a.IntentID,
		"step_id":          a.StepID,
		"kind":             string(a.Kind),
		"timestamp":        a.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		"metadata":         a.Metadata,
	}
	raw, err := json.Marshal(shape)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(sortKeys(generic))
}

// sortKeys walks a decoded JSON value and replaces every map with an
// orderedMap so re-marshaling emits keys in lexicographic order, making the
// encoding deterministic regardless of encoding/json's natural (already
// sorted, but not contractually guaranteed across versions) map iteration.
func sortKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		om := orderedMap{keys: keys, values: make(map[string]interface{}, len(t))}
		for _, k := range keys {
			om.values[k] = sortKeys(t[k])
		}
		return om
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return t
	}
}

// orderedMap marshals its keys in the fixed order captured at construction
// time, since a plain Go map would re-randomize key order.
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		valJSON, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// hashAction computes the content hash used for both prev_hash chaining and
// signing, sharing blake2b with the marketplace's attestation hashing.
func hashAction(a Action) (string, error) {
	raw, err := canonical(a)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
