package alleledb

import (
	"encoding/binary"
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/cespare/xxhash/v2"
)

type StoreStats struct {
	Keys      int
	DataSize  int
	DataAlloc int

	FileSize     int64
	FreePages    int
	PendingPages int

	State StoreState
}

func (ss StoreStats) String() string {
	return fmt.Sprintf("keys = %d, data_size = %s, data_alloc = %s, file_size = %s, free_pages = %d, pending_pages = %d, full_compactions = %d, dirty = %v",
		ss.Keys, datasize.ByteSize(ss.DataSize).HR(), datasize.ByteSize(ss.DataAlloc).HR(), datasize.ByteSize(ss.FileSize).HR(),
		ss.FreePages, ss.PendingPages, ss.State.FullCompactions, ss.State.Dirty)
}

func (s *Store) Stats() (StoreStats, error) {
	var result StoreStats
	err := s.View(func(tx *Tx) error {
		bs := tx.data.Stats()
		result.Keys = bs.KeyN
		result.DataSize = bs.LeafInuse
		result.DataAlloc = bs.BranchAlloc + bs.LeafAlloc
		return nil
	})
	if err != nil {
		return result, err
	}
	dbs := s.bdb.Stats()
	result.FreePages = dbs.FreePageN
	result.PendingPages = dbs.PendingPageN
	result.FileSize = s.FileSize()
	result.State = s.state
	return result, nil
}

// Digest is a checksum of the store's logical content: every key and value
// in order. Two stores with equal digests hold the same entries no matter
// how their pages are laid out.
func (s *Store) Digest() (uint64, error) {
	h := xxhash.New()
	var lenBuf [2 * binary.MaxVarintLen64]byte
	err := s.View(func(tx *Tx) error {
		for c := tx.Cursor(); c.Next(); {
			k, v := c.RawKey(), c.RawValue()
			n := binary.PutUvarint(lenBuf[:], uint64(len(k)))
			n += binary.PutUvarint(lenBuf[n:], uint64(len(v)))
			h.Write(lenBuf[:n])
			h.Write(k)
			h.Write(v)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
