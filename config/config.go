// Package config describes a release build in YAML and runs it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/alleledb"
)

const (
	CategoryVariants = "variants"
	CategoryClinVar  = "clinvar"
)

var AllCategories = []string{CategoryVariants, CategoryClinVar}

type Config struct {
	Version  string `yaml:"version"`
	Assembly string `yaml:"assembly"`
	BuildDir string `yaml:"build_dir"`

	// Categories limits the build to some outputs. Empty builds all.
	Categories []string `yaml:"categories"`

	Parallelism      int    `yaml:"parallelism"`
	Reuse            bool   `yaml:"reuse"`
	KeepSourceStores bool   `yaml:"keep_source_stores"`
	MergeStrategy    string `yaml:"merge_strategy"`
	Verbose          bool   `yaml:"verbose"`

	BufferRecords        int               `yaml:"buffer_records"`
	LightCompactionEvery int               `yaml:"light_compaction_every"`
	TxMaxRecords         int               `yaml:"tx_max_records"`
	CompactTxSize        datasize.ByteSize `yaml:"compact_tx_size"`
	MmapSize             datasize.ByteSize `yaml:"mmap_size"`

	Variants []SourceConfig `yaml:"variants"`
	ClinVar  *SourceConfig  `yaml:"clinvar"`
}

type SourceConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`

	// Column names the source a bare value column belongs to, see
	// source.PropertiesTSV.
	Column string `yaml:"column"`
}

// Load reads a YAML config. Unknown fields are an error, and relative
// paths are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	cfg.BuildDir = abs(cfg.BuildDir)
	for i := range cfg.Variants {
		cfg.Variants[i].Path = abs(cfg.Variants[i].Path)
	}
	if cfg.ClinVar != nil {
		cfg.ClinVar.Path = abs(cfg.ClinVar.Path)
	}
}

func (cfg *Config) Validate() error {
	if err := cfg.BuildContext().Validate(); err != nil {
		return err
	}
	for _, c := range cfg.Categories {
		if !slices.Contains(AllCategories, c) {
			return fmt.Errorf("unknown category %q", c)
		}
	}
	if _, err := cfg.mergeStrategy(); err != nil {
		return err
	}
	names := make(map[string]bool)
	for _, sc := range cfg.Variants {
		if err := sc.validate(); err != nil {
			return err
		}
		if names[sc.Name] {
			return fmt.Errorf("duplicate source %q", sc.Name)
		}
		names[sc.Name] = true
	}
	if cfg.ClinVar != nil {
		if err := cfg.ClinVar.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (sc SourceConfig) validate() error {
	if sc.Name == "" {
		return errors.New("source name is required")
	}
	if sc.Path == "" {
		return fmt.Errorf("source %s: path is required", sc.Name)
	}
	return nil
}

func (cfg *Config) BuildContext() alleledb.BuildContext {
	return alleledb.BuildContext{
		Version:  cfg.Version,
		Assembly: cfg.Assembly,
		BaseDir:  cfg.BuildDir,
	}
}

// Wants reports whether the build includes category.
func (cfg *Config) Wants(category string) bool {
	return len(cfg.Categories) == 0 || slices.Contains(cfg.Categories, category)
}

func (cfg *Config) mergeStrategy() (alleledb.MergeStrategy, error) {
	switch cfg.MergeStrategy {
	case "", "sequential":
		return alleledb.SequentialMerge, nil
	case "kway":
		return alleledb.KWayMerge, nil
	default:
		return 0, fmt.Errorf("unknown merge strategy %q", cfg.MergeStrategy)
	}
}

// BuildOptions translates the config into orchestrator options.
func (cfg *Config) BuildOptions() alleledb.BuildOptions {
	strategy, _ := cfg.mergeStrategy()
	opt := alleledb.BuildOptions{
		Parallelism:      cfg.Parallelism,
		Reuse:            cfg.Reuse,
		KeepSourceStores: cfg.KeepSourceStores,
		Verbose:          cfg.Verbose,
		StoreOptions: alleledb.Options{
			TxMaxRecords:  cfg.TxMaxRecords,
			CompactTxSize: cfg.CompactTxSize,
			MmapSize:      int(cfg.MmapSize.Bytes()),
		},
		IndexerOptions: alleledb.IndexerOptions{
			BufferRecords: cfg.BufferRecords,
		},
		MergeOptions: alleledb.MergeOptions{
			Strategy: strategy,
		},
	}
	if cfg.LightCompactionEvery > 0 {
		opt.IndexerOptions.Policy = alleledb.CompactionPolicy{LightEveryRecords: cfg.LightCompactionEvery}
	}
	return opt
}
