package alleledb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"time"

	"github.com/c2h5oh/datasize"
	"go.etcd.io/bbolt"
)

const (
	compactingSuffix = ".compacting"
	inPlaceSuffix    = ".compact"
)

// CompactionPolicy fixes the points at which stores are compacted.
// Compacting too rarely or too often has both been seen to grow the final
// file, so these points are not advisory.
//
//  1. Versions are never retained: no reader overlaps a build's writes.
//  2. CompactLight runs after every LightEveryRecords indexed records and
//     once more at the end of indexing.
//  3. CompactFull runs exactly once at the end of each store's write phase,
//     and once at the end of a merge.
type CompactionPolicy struct {
	LightEveryRecords int
}

var DefaultCompactionPolicy = CompactionPolicy{
	LightEveryRecords: 5_000_000,
}

func (p CompactionPolicy) ShouldCompactLight(sinceLast int) bool {
	return p.LightEveryRecords > 0 && sinceLast >= p.LightEveryRecords
}

// CompactLight is a cheap in-place consolidation that is safe mid-build:
// it commits pending writes, lets bbolt return every page freed by earlier
// transactions to the freelist, and syncs the file.
func (s *Store) CompactLight() error {
	if err := s.checkWritable("compact light"); err != nil {
		return err
	}
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	// Beginning a write transaction releases pages pending since older
	// transactions, because no read transaction is open.
	if err := s.bdb.Update(func(*bbolt.Tx) error { return nil }); err != nil {
		return storeErrf(s.path, "compact light", nil, err)
	}
	if err := s.bdb.Sync(); err != nil {
		return storeErrf(s.path, "compact light", nil, err)
	}
	st := s.bdb.Stats()
	s.logger.Info("light compaction", "free_pages", st.FreePageN, "pending_pages", st.PendingPageN, "free_alloc", datasize.ByteSize(st.FreeAlloc).HR(), "size", datasize.ByteSize(s.FileSize()).HR())
	return nil
}

// CompactFull rewrites the whole store into a new file at dst, with every
// page filled and no free space. The copy is written to dst.compacting and
// renamed into place only when complete, so an interrupted compaction never
// leaves a plausible dst behind. Logical content is unchanged.
func (s *Store) CompactFull(dst string) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if dst == s.path {
		return storeErrf(dst, "compact full", nil, errors.New("destination is the store itself, use CompactInPlace"))
	}
	start := time.Now()
	tmp := dst + compactingSuffix
	if err := removeIfExists(tmp); err != nil {
		return storeErrf(tmp, "remove stale", nil, err)
	}

	dopt := s.opt
	dopt.ReadOnly = false
	ddb, err := bbolt.Open(tmp, 0666, dopt.boltOptions())
	if err != nil {
		return storeErrf(tmp, "compact full", nil, err)
	}
	defer func() {
		if ddb != nil {
			ddb.Close()
		}
		if err != nil {
			os.Remove(tmp)
		}
	}()

	var keys int
	err = s.bdb.View(func(src *bbolt.Tx) error {
		var err error
		keys, err = copyCompacted(ddb, src, int64(s.opt.CompactTxSize))
		return err
	})
	if err != nil {
		return storeErrf(s.path, "compact full into "+dst, nil, err)
	}
	if err = ddb.Sync(); err != nil {
		return storeErrf(tmp, "sync", nil, err)
	}
	err = ddb.Close()
	ddb = nil
	if err != nil {
		return storeErrf(tmp, "close", nil, err)
	}
	if err = os.Rename(tmp, dst); err != nil {
		return storeErrf(dst, "rename", nil, err)
	}

	s.logger.Info("full compaction", "dst", dst, "keys", keys, "before", datasize.ByteSize(s.FileSize()).HR(), "after", datasize.ByteSize(fileSize(dst)).HR(), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// copyCompacted copies meta and data buckets from src into an empty dst in
// key order. The destination's state counts one more full compaction and
// is clean.
func copyCompacted(dst *bbolt.DB, src *bbolt.Tx, txMaxSize int64) (int, error) {
	srcMeta, srcData := src.Bucket(metaBucket), src.Bucket(dataBucket)
	if srcMeta == nil || srcData == nil {
		return 0, errors.New("not an allele store")
	}

	var st StoreState
	if raw := srcMeta.Get(metaStateKey); raw != nil {
		if err := msgpackDecode(raw, reflect.ValueOf(&st)); err != nil {
			return 0, err
		}
	}
	st.Dirty = false
	st.FullCompactions++

	err := dst.Update(func(dtx *bbolt.Tx) error {
		meta, err := dtx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		c := srcMeta.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := meta.Put(k, v); err != nil {
				return err
			}
		}
		if err := meta.Put(metaStateKey, msgpackEncode(nil, reflect.ValueOf(&st))); err != nil {
			return err
		}
		_, err = dtx.CreateBucket(dataBucket)
		return err
	})
	if err != nil {
		return 0, err
	}

	var keys int
	var size int64
	dtx, err := dst.Begin(true)
	if err != nil {
		return 0, err
	}
	b := dtx.Bucket(dataBucket)
	b.FillPercent = 1.0
	c := srcData.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		sz := int64(len(k) + len(v))
		if size > 0 && size+sz > txMaxSize {
			if err := dtx.Commit(); err != nil {
				return keys, err
			}
			if dtx, err = dst.Begin(true); err != nil {
				return keys, err
			}
			b = dtx.Bucket(dataBucket)
			b.FillPercent = 1.0
			size = 0
		}
		if err := b.Put(k, v); err != nil {
			dtx.Rollback()
			return keys, err
		}
		size += sz
		keys++
	}
	if err := dtx.Commit(); err != nil {
		return keys, err
	}
	return keys, nil
}

// CompactInPlace fully compacts the store into a sibling file and swaps it
// in. A store that is already clean is left alone, so the once-per-write-phase
// rule holds even if callers ask twice.
func (s *Store) CompactInPlace() error {
	if err := s.checkWritable("compact in place"); err != nil {
		return err
	}
	if s.state.IsClean() {
		s.logger.Info("store already fully compacted, skipping", "full_compactions", s.state.FullCompactions)
		return nil
	}
	tmp := s.path + inPlaceSuffix
	if err := s.CompactFull(tmp); err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return storeErrf(s.path, "rename", nil, err)
	}
	if err := s.openBolt(); err != nil {
		return err
	}
	if !s.state.IsClean() {
		return storeErrf(s.path, "compact in place", nil, fmt.Errorf("store not clean after compaction: %+v", s.state))
	}
	return nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
