package alleledb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const storeExt = ".store"

// BuildContext names one release build. Every file a build reads or
// writes is derived from it.
type BuildContext struct {
	Version  string
	Assembly string
	BaseDir  string
}

func (bc BuildContext) Validate() error {
	switch {
	case bc.Version == "":
		return errors.New("build version is required")
	case bc.Assembly == "":
		return errors.New("build assembly is required")
	case bc.BaseDir == "":
		return errors.New("build directory is required")
	}
	return nil
}

// BuildString is "{version}_{assembly}", e.g. "2402_hg38".
func (bc BuildContext) BuildString() string {
	return bc.Version + "_" + bc.Assembly
}

func (bc BuildContext) SourceStorePath(name string) string {
	return filepath.Join(bc.BaseDir, bc.Version+"_"+name+storeExt)
}

func (bc BuildContext) VariantsStorePath() string {
	return filepath.Join(bc.BaseDir, bc.BuildString()+"_variants"+storeExt)
}

func (bc BuildContext) ClinVarStorePath() string {
	return filepath.Join(bc.BaseDir, bc.BuildString()+"_clinvar"+storeExt)
}

type BuildOptions struct {
	// Parallelism bounds how many sources are indexed at once. Each source
	// is still indexed by a single goroutine. Zero means one at a time.
	Parallelism int

	// Reuse keeps per-source stores that already exist and were fully
	// compacted, instead of rebuilding them.
	Reuse bool

	// KeepSourceStores skips deleting per-source stores after the final
	// store is built.
	KeepSourceStores bool

	StoreOptions   Options
	IndexerOptions IndexerOptions
	MergeOptions   MergeOptions

	Logger  *slog.Logger
	Verbose bool
}

func (opt *BuildOptions) setDefaults() {
	if opt.Parallelism <= 0 {
		opt.Parallelism = 1
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.StoreOptions.Logger == nil {
		opt.StoreOptions.Logger = opt.Logger
	}
	if opt.IndexerOptions.Logger == nil {
		opt.IndexerOptions.Logger = opt.Logger
	}
	if opt.MergeOptions.Logger == nil {
		opt.MergeOptions.Logger = opt.Logger
	}
	if opt.MergeOptions.StoreOptions == (Options{}) {
		opt.MergeOptions.StoreOptions = opt.StoreOptions
	}
	opt.StoreOptions.Verbose = opt.StoreOptions.Verbose || opt.Verbose
	opt.IndexerOptions.Verbose = opt.IndexerOptions.Verbose || opt.Verbose
	opt.MergeOptions.Verbose = opt.MergeOptions.Verbose || opt.Verbose
}

// Builder runs the build steps of one release.
type Builder struct {
	bc     BuildContext
	opt    BuildOptions
	logger *slog.Logger
}

func NewBuilder(bc BuildContext, opt BuildOptions) (*Builder, error) {
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	opt.setDefaults()
	if err := os.MkdirAll(bc.BaseDir, 0777); err != nil {
		return nil, fmt.Errorf("alleledb: %w", err)
	}
	return &Builder{
		bc:     bc,
		opt:    opt,
		logger: opt.Logger.With("build", bc.BuildString()),
	}, nil
}

func (b *Builder) Context() BuildContext {
	return b.bc
}

type SourceResult struct {
	Name   string
	Path   string
	Keys   int
	Reused bool
}

type BuildResult struct {
	Path    string
	Sources []SourceResult
	Merge   MergeResult
	Stats   StoreStats
}

// IndexSource builds the per-source store for src: the indexer fills a
// fresh store, then it gets one light and one full compaction.
func IndexSource[T Value[T]](ctx context.Context, b *Builder, kind *Kind[T], src Source[T]) (SourceResult, error) {
	path := b.bc.SourceStorePath(src.Name())
	result := SourceResult{Name: src.Name(), Path: path}
	logger := b.logger.With("source", src.Name())

	if b.opt.Reuse {
		keys, ok, err := reusableStore(path, kind, b.opt.StoreOptions)
		if err != nil {
			return result, err
		}
		if ok {
			logger.Info("reusing source store", "keys", keys)
			result.Keys, result.Reused = keys, true
			return result, nil
		}
	}
	for _, p := range []string{path, path + compactingSuffix, path + inPlaceSuffix} {
		if err := removeIfExists(p); err != nil {
			return result, storeErrf(p, "remove stale", nil, err)
		}
	}

	start := time.Now()
	logger.Info("indexing source")
	keys, err := indexInto(ctx, path, kind, src, b.opt)
	if err != nil {
		return result, fmt.Errorf("indexing %s: %w", src.Name(), err)
	}
	result.Keys = keys
	logger.Info("indexed source", "keys", keys, "size", datasize.ByteSize(fileSize(path)).HR(), "elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func indexInto[T Value[T]](ctx context.Context, path string, kind *Kind[T], src Source[T], opt BuildOptions) (keys int, err error) {
	sopt := opt.StoreOptions
	sopt.CreateIfMissing, sopt.ReadOnly = true, false
	store, err := Open(path, kind, sopt)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	ix, err := NewIndexer(store, kind, opt.IndexerOptions)
	if err != nil {
		return 0, err
	}
	r, err := src.Open()
	if err != nil {
		return 0, err
	}
	keys, err = ix.Index(ctx, r)
	if cerr := r.Close(); cerr != nil {
		err = multierror.Append(err, cerr).ErrorOrNil()
	}
	if err != nil {
		return keys, err
	}

	if err := store.CompactLight(); err != nil {
		return keys, err
	}
	return keys, store.CompactInPlace()
}

// reusableStore reports whether path holds a fully compacted store of the
// right kind. A store that exists but is not clean is not reusable.
func reusableStore(path string, kind AnyKind, opt Options) (int, bool, error) {
	opt.ReadOnly, opt.CreateIfMissing = true, false
	store, err := Open(path, kind, opt)
	if errors.Is(err, ErrStoreNotFound) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	defer store.Close()
	if !store.State().IsClean() {
		opt.Logger.Warn("source store is not fully compacted, rebuilding", "store", path, "dirty", store.State().Dirty)
		return 0, false, nil
	}
	var keys int
	err = store.View(func(tx *Tx) error {
		keys = tx.KeyCount()
		return nil
	})
	return keys, err == nil, err
}

func checkSourceNames[T any](sources []Source[T]) error {
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		name := src.Name()
		if name == "" {
			return errors.New("source with an empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate source %q", name)
		}
		seen[name] = true
	}
	return nil
}

// BuildMerged indexes every source, up to Parallelism at a time, and
// merges the per-source stores into target.
func BuildMerged[T Value[T]](ctx context.Context, b *Builder, kind *Kind[T], target string, sources []Source[T]) (BuildResult, error) {
	result := BuildResult{Path: target}
	if err := checkSourceNames(sources); err != nil {
		return result, err
	}

	start := time.Now()
	result.Sources = make([]SourceResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opt.Parallelism)
	for i, src := range sources {
		g.Go(func() error {
			r, err := IndexSource(gctx, b, kind, src)
			result.Sources[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	paths := make([]string, len(sources))
	for i, r := range result.Sources {
		paths[i] = r.Path
	}
	var err error
	result.Merge, err = Merge(kind, target, paths, b.opt.MergeOptions)
	if err != nil {
		return result, err
	}
	if len(paths) == 0 {
		b.logger.Warn("no sources, nothing built", "target", target)
		return result, nil
	}
	if err := b.cleanup(paths); err != nil {
		return result, err
	}
	return result, b.finish(&result, kind, start)
}

// BuildSingle builds target from a single source, without merging. The
// per-source store is already fully compacted, so it becomes the target
// as is: moved, or copied when source stores are kept.
func BuildSingle[T Value[T]](ctx context.Context, b *Builder, kind *Kind[T], target string, src Source[T]) (BuildResult, error) {
	result := BuildResult{Path: target}
	start := time.Now()
	r, err := IndexSource(ctx, b, kind, src)
	result.Sources = []SourceResult{r}
	if err != nil {
		return result, err
	}

	if err := removeIfExists(target); err != nil {
		return result, storeErrf(target, "remove stale", nil, err)
	}
	if b.opt.KeepSourceStores {
		err = copyFile(r.Path, target)
	} else if err = os.Rename(r.Path, target); err != nil {
		err = storeErrf(target, "rename from "+r.Path, nil, err)
	}
	if err != nil {
		return result, err
	}
	result.Merge = MergeResult{Seed: r.Path, Keys: r.Keys}
	return result, b.finish(&result, kind, start)
}

// BuildVariants builds the merged allele properties store.
func (b *Builder) BuildVariants(ctx context.Context, sources []Source[AlleleProperties]) (BuildResult, error) {
	return BuildMerged(ctx, b, PropertiesKind, b.bc.VariantsStorePath(), sources)
}

// BuildClinVar builds the clinical annotation store.
func (b *Builder) BuildClinVar(ctx context.Context, src Source[ClinicalAnnotation]) (BuildResult, error) {
	return BuildSingle(ctx, b, ClinVarKind, b.bc.ClinVarStorePath(), src)
}

func (b *Builder) cleanup(paths []string) error {
	if b.opt.KeepSourceStores {
		return nil
	}
	var errs error
	for _, p := range paths {
		if err := removeIfExists(p); err != nil {
			errs = multierror.Append(errs, storeErrf(p, "remove", nil, err))
		}
	}
	return errs
}

func (b *Builder) finish(result *BuildResult, kind AnyKind, start time.Time) error {
	sopt := b.opt.StoreOptions
	sopt.ReadOnly, sopt.CreateIfMissing = true, false
	store, err := Open(result.Path, kind, sopt)
	if err != nil {
		return err
	}
	defer store.Close()
	result.Stats, err = store.Stats()
	if err != nil {
		return err
	}
	if !result.Stats.State.IsClean() {
		return storeErrf(result.Path, "finish", nil, fmt.Errorf("store not fully compacted: %+v", result.Stats.State))
	}
	attrs := []any{"target", result.Path, "stats", result.Stats.String(), "elapsed", time.Since(start).Round(time.Millisecond)}
	if b.opt.Verbose {
		digest, err := store.Digest()
		if err != nil {
			return err
		}
		attrs = append(attrs, "digest", fmt.Sprintf("%016x", digest))
	}
	b.logger.Info("built", attrs...)
	return nil
}
