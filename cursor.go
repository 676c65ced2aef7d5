package alleledb

import (
	"go.etcd.io/bbolt"
)

// Cursor walks a store's entries in key order:
//
//	for c := tx.Cursor(); c.Next(); {
//		key, err := c.Key()
//		...
//	}
type Cursor struct {
	c       *bbolt.Cursor
	k, v    []byte
	started bool
	seek    []byte
}

func (tx *Tx) Cursor() *Cursor {
	return &Cursor{c: tx.data.Cursor()}
}

// Seek positions the cursor so that the next call to Next returns the first
// entry at or after key.
func (c *Cursor) Seek(key AlleleKey) *Cursor {
	c.seek = key.AppendBinary(nil)
	c.started = false
	return c
}

func (c *Cursor) Next() bool {
	if !c.started {
		c.started = true
		if c.seek != nil {
			c.k, c.v = c.c.Seek(c.seek)
			c.seek = nil
		} else {
			c.k, c.v = c.c.First()
		}
	} else {
		c.k, c.v = c.c.Next()
	}
	return c.k != nil
}

// RawKey and RawValue are only valid until the next call to Next and until
// the transaction ends.
func (c *Cursor) RawKey() []byte   { return c.k }
func (c *Cursor) RawValue() []byte { return c.v }

func (c *Cursor) Key() (AlleleKey, error) {
	return DecodeAlleleKey(c.k)
}
