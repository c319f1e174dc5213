package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Environment selects which partition of the DrMap a deployment reads.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvTest       Environment = "test"
)

// Valid reports whether e is one of the two known environments.
func (e Environment) Valid() bool {
	return e == EnvProduction || e == EnvTest
}

// Partition maps list names to remote resource identifiers while preserving
// the key order of the JSON document it was decoded from. Diff output depends
// on that order, which Go maps do not keep.
type Partition struct {
	names []string
	ids   map[string]string
}

// NewPartition builds a partition from ordered name/id pairs.
// Intended for tests and programmatic construction.
func NewPartition(pairs ...[2]string) *Partition {
	p := &Partition{ids: make(map[string]string, len(pairs))}
	for _, kv := range pairs {
		if _, dup := p.ids[kv[0]]; !dup {
			p.names = append(p.names, kv[0])
		}
		p.ids[kv[0]] = kv[1]
	}
	return p
}

// Get returns the resource identifier for a list name.
func (p *Partition) Get(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	id, ok := p.ids[name]
	return id, ok
}

// Names returns the list names in document order.
func (p *Partition) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of entries.
func (p *Partition) Len() int {
	if p == nil {
		return 0
	}
	return len(p.names)
}

// UnmarshalJSON decodes an object of string values, keeping key order.
func (p *Partition) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("partition: expected object, got %v", tok)
	}

	p.names = nil
	p.ids = make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("partition: value for %q: %w", key, err)
		}
		if _, dup := p.ids[key]; !dup {
			p.names = append(p.names, key)
		}
		p.ids[key] = val
	}
	// consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the partition in document order.
func (p *Partition) MarshalJSON() ([]byte, error) {
	if p == nil || len(p.names) == 0 {
		return []byte("{}"), nil
	}
	buf := []byte{'{'}
	for i, name := range p.names {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.ids[name])
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// DrMap is the list-name to resource-identifier table held in drs.json at the
// monitored repository's root, partitioned by deployment environment.
// Instances are immutable once parsed; updates replace the whole object.
type DrMap struct {
	Prod *Partition `json:"prod"`
	Test *Partition `json:"test"`
}

// ParseDrMap decodes a drs.json document.
func ParseDrMap(data []byte) (*DrMap, error) {
	var m DrMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Partition returns the partition for the given environment.
func (m *DrMap) Partition(env Environment) *Partition {
	if m == nil {
		return nil
	}
	if env == EnvTest {
		return m.Test
	}
	return m.Prod
}

// ChangeKind classifies one entry of a DrMap diff.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "changed"
	ChangeRemoved ChangeKind = "removed"
)

// MapChange describes one difference between two DrMap snapshots.
type MapChange struct {
	Env   Environment `json:"env"`
	Kind  ChangeKind  `json:"kind"`
	List  string      `json:"list"`
	OldID string      `json:"old_id,omitempty"`
	NewID string      `json:"new_id,omitempty"`
}

func (c MapChange) String() string {
	switch c.Kind {
	case ChangeAdded:
		return fmt.Sprintf("[%s] %s: added (%s)", c.Env, c.List, c.NewID)
	case ChangeUpdated:
		return fmt.Sprintf("[%s] %s: %s -> %s", c.Env, c.List, c.OldID, c.NewID)
	default:
		return fmt.Sprintf("[%s] %s: removed (%s)", c.Env, c.List, c.OldID)
	}
}

// DiffDrMaps compares two snapshots per partition. Additions and value
// changes are emitted in the new snapshot's key order, followed by removals
// in the old snapshot's key order. Equal entries never appear.
func DiffDrMaps(old, new *DrMap) []MapChange {
	var changes []MapChange
	changes = append(changes, diffPartition(EnvProduction, old.Partition(EnvProduction), new.Partition(EnvProduction))...)
	changes = append(changes, diffPartition(EnvTest, old.Partition(EnvTest), new.Partition(EnvTest))...)
	return changes
}

func diffPartition(env Environment, old, new *Partition) []MapChange {
	var changes []MapChange
	for _, name := range new.Names() {
		newID, _ := new.Get(name)
		oldID, existed := old.Get(name)
		switch {
		case !existed:
			changes = append(changes, MapChange{Env: env, Kind: ChangeAdded, List: name, NewID: newID})
		case oldID != newID:
			changes = append(changes, MapChange{Env: env, Kind: ChangeUpdated, List: name, OldID: oldID, NewID: newID})
		}
	}
	for _, name := range old.Names() {
		if _, still := new.Get(name); !still {
			oldID, _ := old.Get(name)
			changes = append(changes, MapChange{Env: env, Kind: ChangeRemoved, List: name, OldID: oldID})
		}
	}
	return changes
}

