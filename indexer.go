package alleledb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/btree"
	"github.com/pbnjay/memory"
)

// RecordReader is a single-pass stream of records in no particular order.
// ReadRecords returns io.EOF once the stream is exhausted; a call may
// return no records without being at the end.
type RecordReader[T any] interface {
	ReadRecords() ([]Record[T], error)
	Close() error
}

// Source is one named upstream resource that can be streamed as records.
type Source[T any] interface {
	Name() string
	Open() (RecordReader[T], error)
}

const (
	minBufferRecords = 64 * 1024
	maxBufferRecords = 4 * 1024 * 1024

	// rough in-memory footprint of one buffered record, used for sizing only
	bufferedRecordCost = 256

	btreeDegree = 32
)

type IndexerOptions struct {
	// BufferRecords is how many distinct keys are held in memory before
	// they are written to the store. Zero picks a value from system memory.
	BufferRecords int

	Policy  CompactionPolicy
	Logger  *slog.Logger
	Verbose bool
}

func (opt *IndexerOptions) setDefaults() {
	if opt.BufferRecords <= 0 {
		opt.BufferRecords = DefaultBufferRecords()
	}
	if opt.Policy == (CompactionPolicy{}) {
		opt.Policy = DefaultCompactionPolicy
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
}

// DefaultBufferRecords spends about an eighth of system memory on the
// indexing buffer.
func DefaultBufferRecords() int {
	n := int(memory.TotalMemory() / 8 / bufferedRecordCost)
	return min(max(n, minBufferRecords), maxBufferRecords)
}

type bufferedRecord[T any] struct {
	enc   string
	key   AlleleKey
	value T
}

func bufferedRecordLess[T any](a, b bufferedRecord[T]) bool {
	return a.enc < b.enc
}

// Indexer builds one store from one record stream. Records collect in an
// ordered in-memory buffer that merges duplicate keys, and every full
// buffer is merged into the store in key order. The store therefore ends
// up exactly as if each record had been upserted one by one.
type Indexer[T Value[T]] struct {
	store  *Store
	kind   *Kind[T]
	opt    IndexerOptions
	logger *slog.Logger

	buf    *btree.BTreeG[bufferedRecord[T]]
	keyBuf []byte

	records    int
	keys       int
	conflicts  int
	sinceLight int
}

func NewIndexer[T Value[T]](store *Store, kind *Kind[T], opt IndexerOptions) (*Indexer[T], error) {
	opt.setDefaults()
	if store.Kind().Name() != kind.Name() {
		return nil, storeErrf(store.Path(), "index "+kind.Name(), nil, ErrKindMismatch)
	}
	if err := store.checkWritable("index"); err != nil {
		return nil, err
	}
	return &Indexer[T]{
		store:  store,
		kind:   kind,
		opt:    opt,
		logger: opt.Logger.With("store", store.Path()),
		buf:    btree.NewG(btreeDegree, bufferedRecordLess[T]),
	}, nil
}

// Records is the number of records read so far, duplicates included.
func (ix *Indexer[T]) Records() int { return ix.records }

// Conflicts is the number of same-field clashes resolved so far.
func (ix *Indexer[T]) Conflicts() int { return ix.conflicts }

func (ix *Indexer[T]) report(c Conflict) {
	ix.conflicts++
	if ix.opt.Verbose {
		ix.logger.Debug("conflict", "field", c.Field, "old", c.Old, "new", c.New)
	}
}

// Index drains r into the store and returns the number of distinct keys
// it added. It does not close r.
func (ix *Indexer[T]) Index(ctx context.Context, r RecordReader[T]) (int, error) {
	start := time.Now()
	keysBefore := ix.keys
	w, err := ix.store.NewWriter()
	if err != nil {
		return 0, err
	}
	defer w.Close()

	for {
		if err := ctx.Err(); err != nil {
			return ix.keys - keysBefore, err
		}
		recs, err := r.ReadRecords()
		for _, rec := range recs {
			ix.add(rec)
		}
		if ix.buf.Len() >= ix.opt.BufferRecords {
			if ferr := ix.flush(w); ferr != nil {
				return ix.keys - keysBefore, ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return ix.keys - keysBefore, fmt.Errorf("reading records: %w", err)
		}
	}
	if err := ix.flush(w); err != nil {
		return ix.keys - keysBefore, err
	}
	if err := w.Close(); err != nil {
		return ix.keys - keysBefore, err
	}

	added := ix.keys - keysBefore
	ix.logger.Info("indexed", "records", ix.records, "keys", added, "conflicts", ix.conflicts, "size", datasize.ByteSize(ix.store.FileSize()).HR(), "elapsed", time.Since(start).Round(time.Millisecond))
	return added, nil
}

func (ix *Indexer[T]) add(rec Record[T]) {
	ix.records++
	ix.sinceLight++
	ix.keyBuf = rec.Key.AppendBinary(ix.keyBuf[:0])
	item := bufferedRecord[T]{key: rec.Key, value: rec.Value}
	if existing, found := ix.buf.Get(bufferedRecord[T]{enc: string(ix.keyBuf)}); found {
		item.enc = existing.enc
		item.value = existing.value.Merge(rec.Value, ix.report)
	} else {
		item.enc = string(ix.keyBuf)
	}
	ix.buf.ReplaceOrInsert(item)
}

func (ix *Indexer[T]) flush(w *Writer) error {
	if ix.buf.Len() == 0 {
		return nil
	}
	n := ix.buf.Len()
	var err error
	ix.buf.Ascend(func(item bufferedRecord[T]) bool {
		err = w.Apply(func(tx *Tx) error {
			inserted, err := Upsert(tx, ix.kind, item.key, item.value, ix.report)
			if inserted {
				ix.keys++
			}
			return err
		})
		return err == nil
	})
	if err != nil {
		return err
	}
	ix.buf.Clear(true)
	if ix.opt.Verbose {
		ix.logger.Debug("flushed index buffer", "keys", n, "records", ix.records)
	}

	if ix.opt.Policy.ShouldCompactLight(ix.sinceLight) {
		ix.sinceLight = 0
		return ix.store.CompactLight()
	}
	return nil
}
