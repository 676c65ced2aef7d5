package alleledb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpStats
	DumpRows
	DumpRawRows

	DumpAll = DumpHeader | DumpStats | DumpRows
)

var dumpSep = strings.Repeat("=", 80)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the store's content for tests and debugging, one entry per
// line in key order.
func (tx *Tx) Dump(f DumpFlags) string {
	var w strings.Builder
	s := tx.store
	if f.Contains(DumpHeader) {
		fmt.Fprintln(&w, dumpSep)
		fmt.Fprintf(&w, "%s (%s, %d keys)\n", s.path, s.kind.Name(), tx.KeyCount())
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(&w, "state: dirty = %v, full_compactions = %d\n", s.state.Dirty, s.state.FullCompactions)
	}
	if f.Contains(DumpRows) || f.Contains(DumpRawRows) {
		var pos int
		for c := tx.Cursor(); c.Next(); {
			pos++
			tx.dumpRow(&w, f, pos, c)
		}
	}
	return w.String()
}

func (tx *Tx) dumpRow(w *strings.Builder, f DumpFlags, pos int, c *Cursor) {
	key, err := c.Key()
	if err != nil {
		fmt.Fprintf(w, "%d: %s ** ERROR: %v\n", pos, hexstr(c.RawKey()), err)
		return
	}
	if f.Contains(DumpRawRows) {
		fmt.Fprintf(w, "%d: %s = %s\n", pos, rpad(key.String(), 24, ' '), hexstr(c.RawValue()))
		return
	}
	fmt.Fprintf(w, "%d: %s = %s\n", pos, rpad(key.String(), 24, ' '), tx.store.kind.DescribeValue(c.RawValue()))
}

// Dump opens a read transaction and renders the store, see Tx.Dump.
func (s *Store) Dump(f DumpFlags) (string, error) {
	var result string
	err := s.View(func(tx *Tx) error {
		result = tx.Dump(f)
		return nil
	})
	return result, err
}
