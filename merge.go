package alleledb

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/go-multierror"
)

const (
	tempSuffix = ".temp"

	DefaultProgressEvery = 10_000_000
)

// TempPath is where a store is staged before its final full compaction.
func TempPath(path string) string {
	return path + tempSuffix
}

type MergeStrategy int

const (
	// SequentialMerge copies the largest source and upserts every other
	// source into it, one source at a time.
	SequentialMerge MergeStrategy = iota

	// KWayMerge walks all sources at once in key order and writes each
	// key exactly once. The result is identical to SequentialMerge.
	KWayMerge
)

func (s MergeStrategy) String() string {
	switch s {
	case SequentialMerge:
		return "sequential"
	case KWayMerge:
		return "kway"
	default:
		return fmt.Sprintf("MergeStrategy(%d)", int(s))
	}
}

type MergeOptions struct {
	Strategy MergeStrategy

	// ProgressEvery logs progress after this many merged records.
	ProgressEvery int

	// StoreOptions are used for the running and the source stores.
	// CreateIfMissing and ReadOnly are set by Merge.
	StoreOptions Options

	Logger  *slog.Logger
	Verbose bool
}

func (opt *MergeOptions) setDefaults() {
	if opt.ProgressEvery <= 0 {
		opt.ProgressEvery = DefaultProgressEvery
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.StoreOptions.Logger == nil {
		opt.StoreOptions.Logger = opt.Logger
	}
}

func (opt *MergeOptions) sourceOptions() Options {
	o := opt.StoreOptions
	o.ReadOnly = true
	o.CreateIfMissing = false
	return o
}

type MergeResult struct {
	Seed      string
	Merged    int
	Conflicts int
	Keys      int
}

type merger[T Value[T]] struct {
	kind    *Kind[T]
	target  string
	temp    string
	sources []string
	seed    int
	opt     MergeOptions
	logger  *slog.Logger
	result  MergeResult
}

func (m *merger[T]) report(c Conflict) {
	m.result.Conflicts++
	if m.opt.Verbose {
		m.logger.Debug("conflict", "field", c.Field, "old", c.Old, "new", c.New)
	}
}

func (m *merger[T]) progress() {
	m.result.Merged++
	if m.result.Merged%m.opt.ProgressEvery == 0 {
		m.logger.Info("merge progress", "merged", m.result.Merged, "conflicts", m.result.Conflicts)
	}
}

// Merge folds the source stores into a single store at target, holding
// the merged value of every key found in any source. Any previous target
// and its temp file are deleted first. Merging is not resumable; on
// failure the temp file is left behind for inspection.
func Merge[T Value[T]](kind *Kind[T], target string, sources []string, opt MergeOptions) (MergeResult, error) {
	opt.setDefaults()
	logger := opt.Logger.With("target", target)
	if len(sources) == 0 {
		logger.Info("nothing to merge")
		return MergeResult{}, nil
	}

	m := &merger[T]{
		kind:    kind,
		target:  target,
		temp:    TempPath(target),
		sources: sources,
		opt:     opt,
		logger:  logger,
	}
	for _, p := range []string{m.target, m.temp} {
		if err := removeIfExists(p); err != nil {
			return MergeResult{}, storeErrf(p, "remove stale", nil, err)
		}
	}

	var err error
	m.seed, err = pickSeed(sources)
	if err != nil {
		return MergeResult{}, err
	}
	m.result.Seed = sources[m.seed]

	start := time.Now()
	logger.Info("merging", "sources", len(sources), "seed", m.result.Seed, "strategy", opt.Strategy)
	switch opt.Strategy {
	case SequentialMerge:
		err = m.mergeSequential()
	case KWayMerge:
		err = m.mergeKWay()
	default:
		err = fmt.Errorf("unknown merge strategy %v", opt.Strategy)
	}
	if err != nil {
		return m.result, err
	}
	if err := os.Remove(m.temp); err != nil {
		return m.result, storeErrf(m.temp, "remove", nil, err)
	}
	logger.Info("merged", "keys", m.result.Keys, "merged", m.result.Merged, "conflicts", m.result.Conflicts, "size", datasize.ByteSize(fileSize(target)).HR(), "elapsed", time.Since(start).Round(time.Millisecond))
	return m.result, nil
}

// pickSeed returns the index of the largest source file. Ties go to the
// earliest one.
func pickSeed(sources []string) (int, error) {
	best, bestSize := -1, int64(-1)
	for i, p := range sources {
		fi, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				err = ErrStoreNotFound
			}
			return -1, storeErrf(p, "stat", nil, err)
		}
		if fi.Size() > bestSize {
			best, bestSize = i, fi.Size()
		}
	}
	return best, nil
}

func (m *merger[T]) mergeSequential() (err error) {
	if err := copyFile(m.sources[m.seed], m.temp); err != nil {
		return err
	}
	ropt := m.opt.StoreOptions
	ropt.ReadOnly, ropt.CreateIfMissing = false, false
	running, err := Open(m.temp, m.kind, ropt)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := running.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	for i, p := range m.sources {
		if i == m.seed {
			continue
		}
		if err := m.mergeSource(running, p); err != nil {
			return err
		}
	}

	err = running.View(func(tx *Tx) error {
		m.result.Keys = tx.KeyCount()
		return nil
	})
	if err != nil {
		return err
	}
	return running.CompactFull(m.target)
}

func (m *merger[T]) mergeSource(running *Store, path string) (err error) {
	src, err := Open(path, m.kind, m.opt.sourceOptions())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	w, err := running.NewWriter()
	if err != nil {
		return err
	}
	defer w.Close()

	before := m.result.Merged
	err = src.View(func(stx *Tx) error {
		for c := stx.Cursor(); c.Next(); {
			k, v := c.RawKey(), c.RawValue()
			err := w.Apply(func(tx *Tx) error {
				_, err := UpsertRaw(tx, m.kind, k, v, m.report)
				return err
			})
			if err != nil {
				return err
			}
			m.progress()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	m.logger.Info("merged source", "source", path, "records", m.result.Merged-before)
	return nil
}

// copyFile copies src to dst byte for byte and syncs dst.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return storeErrf(src, "copy", nil, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return storeErrf(dst, "copy", nil, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = storeErrf(dst, "copy", nil, cerr)
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return storeErrf(dst, "copy from "+src, nil, err)
	}
	if err := out.Sync(); err != nil {
		return storeErrf(dst, "sync", nil, err)
	}
	return nil
}
