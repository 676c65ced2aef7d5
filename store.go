package alleledb

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/c2h5oh/datasize"
	"go.etcd.io/bbolt"
)

var (
	metaBucket = []byte("meta")
	dataBucket = []byte("data")

	metaKindKey   = []byte("kind")
	metaFormatKey = []byte("format")
	metaStateKey  = []byte("state")
)

const (
	storeFormatVer1      = 1
	storeFormatVerLatest = storeFormatVer1

	DefaultTxMaxRecords  = 100_000
	DefaultCompactTxSize = 64 * datasize.MB
)

type Options struct {
	// CreateIfMissing creates an empty store when path does not exist.
	// Otherwise opening a missing store fails with ErrStoreNotFound.
	CreateIfMissing bool

	// ReadOnly opens the store with a shared lock; writes fail with
	// ErrReadOnly. Any number of processes may read one store.
	ReadOnly bool

	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// TxMaxRecords is how many puts a Writer batches into one transaction.
	TxMaxRecords int

	// CompactTxSize is how many key+value bytes a full compaction copies
	// per transaction.
	CompactTxSize datasize.ByteSize
}

func (opt *Options) setDefaults() {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.TxMaxRecords <= 0 {
		opt.TxMaxRecords = DefaultTxMaxRecords
	}
	if opt.CompactTxSize == 0 {
		opt.CompactTxSize = DefaultCompactTxSize
	}
}

func (opt *Options) boltOptions() *bbolt.Options {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.ReadOnly = opt.ReadOnly
	// Stores are rebuilt from scratch after a crash, so the freelist is
	// never persisted and per-commit fsync is skipped; Close and
	// compaction sync explicitly. NoGrowSync also keeps bbolt from
	// truncating the file up to the mmap size, so file size tracks the
	// pages in use.
	bopt.NoFreelistSync = true
	bopt.NoGrowSync = true
	bopt.FreelistType = bbolt.FreelistMapType
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.NoSync = !opt.ReadOnly
		bopt.InitialMmapSize = 1024 * 1024 * 1024
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	return bopt
}

// StoreState is persisted in the meta bucket and tracks compaction.
type StoreState struct {
	// Dirty is set by the first data write after creation or after a full
	// compaction.
	Dirty bool `msgpack:"d"`

	// FullCompactions counts the full compactions this file descends from.
	FullCompactions int `msgpack:"fc"`
}

// IsClean reports whether the store was fully compacted after its last write.
func (st StoreState) IsClean() bool {
	return !st.Dirty && st.FullCompactions > 0
}

// Store is one ordered, durable AlleleKey → value map persisted in a single
// bbolt file. A store holds values of exactly one kind.
//
// Only one goroutine may write a store at a time. Reads never overlap
// writes during a build, so bbolt never has to retain old page versions
// and every overwrite's pages are reusable once the next write commits.
type Store struct {
	path   string
	kind   AnyKind
	opt    Options
	logger *slog.Logger

	bdb    *bbolt.DB
	state  StoreState
	writer *Writer
}

func Open(path string, kind AnyKind, opt Options) (*Store, error) {
	opt.setDefaults()

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, storeErrf(path, "open", nil, err)
		}
		if !opt.CreateIfMissing || opt.ReadOnly {
			return nil, storeErrf(path, "open", nil, ErrStoreNotFound)
		}
	}

	s := &Store{
		path:   path,
		kind:   kind,
		opt:    opt,
		logger: opt.Logger.With("store", path),
	}
	if err := s.openBolt(); err != nil {
		return nil, err
	}
	if s.state.Dirty && !opt.ReadOnly {
		s.logger.Warn("reopening a store with writes that were never fully compacted", "full_compactions", s.state.FullCompactions)
	}
	if opt.Verbose {
		s.logger.Debug("opened store", "kind", kind.Name(), "read_only", opt.ReadOnly, "size", datasize.ByteSize(s.FileSize()).HR())
	}
	return s, nil
}

func (s *Store) openBolt() error {
	bdb, err := bbolt.Open(s.path, 0666, s.opt.boltOptions())
	if err != nil {
		return storeErrf(s.path, "open", nil, err)
	}
	s.bdb = bdb
	if s.opt.ReadOnly {
		err = bdb.View(s.loadMeta)
	} else {
		err = bdb.Update(s.initMeta)
	}
	if err != nil {
		bdb.Close()
		s.bdb = nil
		return err
	}
	return nil
}

func (s *Store) initMeta(btx *bbolt.Tx) error {
	meta, err := btx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return storeErrf(s.path, "init", nil, err)
	}
	if _, err := btx.CreateBucketIfNotExists(dataBucket); err != nil {
		return storeErrf(s.path, "init", nil, err)
	}
	if meta.Get(metaKindKey) == nil {
		ensure(meta.Put(metaKindKey, []byte(s.kind.Name())))
		ensure(meta.Put(metaFormatKey, appendUvarint(nil, storeFormatVerLatest)))
		s.state = StoreState{}
		return s.saveState(btx)
	}
	return s.loadMeta(btx)
}

func (s *Store) loadMeta(btx *bbolt.Tx) error {
	meta := btx.Bucket(metaBucket)
	if meta == nil || btx.Bucket(dataBucket) == nil {
		return storeErrf(s.path, "open", nil, errors.New("not an allele store"))
	}
	if kind := meta.Get(metaKindKey); string(kind) != s.kind.Name() {
		return storeErrf(s.path, "open", nil, fmt.Errorf("%w: file has %q, wanted %q", ErrKindMismatch, kind, s.kind.Name()))
	}
	d := makeByteDecoder(meta.Get(metaFormatKey))
	ver, err := d.Uvarint()
	if err != nil {
		return storeErrf(s.path, "open", nil, err)
	}
	if ver != storeFormatVerLatest {
		return storeErrf(s.path, "open", nil, fmt.Errorf("unsupported store format %d", ver))
	}
	var st StoreState
	if raw := meta.Get(metaStateKey); raw != nil {
		if err := msgpackDecode(raw, reflect.ValueOf(&st)); err != nil {
			return storeErrf(s.path, "open", nil, err)
		}
	}
	s.state = st
	return nil
}

func (s *Store) saveState(btx *bbolt.Tx) error {
	meta := btx.Bucket(metaBucket)
	if err := meta.Put(metaStateKey, msgpackEncode(nil, reflect.ValueOf(&s.state))); err != nil {
		return storeErrf(s.path, "save state", nil, err)
	}
	return nil
}

func (s *Store) Path() string      { return s.path }
func (s *Store) Kind() AnyKind     { return s.kind }
func (s *Store) IsReadOnly() bool  { return s.opt.ReadOnly }
func (s *Store) State() StoreState { return s.state }

// Bolt exposes the underlying database for inspection tools.
func (s *Store) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *Store) FileSize() int64 {
	return fileSize(s.path)
}

// Close commits any open Writer and closes the file. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.bdb == nil {
		return nil
	}
	var werr error
	if s.writer != nil {
		werr = s.writer.Close()
	}
	if !s.opt.ReadOnly {
		if err := s.bdb.Sync(); err != nil && werr == nil {
			werr = storeErrf(s.path, "sync", nil, err)
		}
	}
	err := s.bdb.Close()
	s.bdb = nil
	if werr != nil {
		return werr
	}
	if err != nil {
		return storeErrf(s.path, "close", nil, err)
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.bdb == nil {
		return storeErrf(s.path, "", nil, ErrClosed)
	}
	return nil
}

func (s *Store) checkWritable(op string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.opt.ReadOnly {
		return storeErrf(s.path, op, nil, ErrReadOnly)
	}
	return nil
}
