package indexer

import "fmt"

// InternedTable assigns dense indices to strings in order of first
// occurrence. Indices are never reused or reassigned, so a table can be
// persisted as its ordered sequence and rebuilt from it.
//
// InternedTable is not safe for concurrent use; the owning cache guards it.
type InternedTable struct {
	values []string
	index  map[string]uint32
}

// NewInternedTable creates an empty table.
func NewInternedTable() *InternedTable {
	return &InternedTable{index: make(map[string]uint32)}
}

// RestoreInternedTable rebuilds a table from its persisted ordered sequence.
// Duplicate entries mean the sequence was not produced by an InternedTable.
func RestoreInternedTable(values []string) (*InternedTable, error) {
	t := &InternedTable{
		values: make([]string, 0, len(values)),
		index:  make(map[string]uint32, len(values)),
	}
	for i, v := range values {
		if prev, ok := t.index[v]; ok {
			return nil, fmt.Errorf("duplicate interned value %q at %d (first at %d)", v, i, prev)
		}
		t.index[v] = uint32(i)
		t.values = append(t.values, v)
	}
	return t, nil
}

// Intern returns the index of s, appending it if unseen. The new index is
// always the prior length of the table.
func (t *InternedTable) Intern(s string) uint32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := uint32(len(t.values))
	t.values = append(t.values, s)
	t.index[s] = idx
	return idx
}

// Lookup returns the index of s without interning it.
func (t *InternedTable) Lookup(s string) (uint32, bool) {
	idx, ok := t.index[s]
	return idx, ok
}

// Value returns the string at idx.
func (t *InternedTable) Value(idx uint32) (string, bool) {
	if int(idx) >= len(t.values) {
		return "", false
	}
	return t.values[idx], true
}

func (t *InternedTable) Len() int { return len(t.values) }

// Values returns a copy of the ordered sequence.
func (t *InternedTable) Values() []string {
	out := make([]string, len(t.values))
	copy(out, t.values)
	return out
}
