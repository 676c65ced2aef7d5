package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andreyvit/alleledb"
	"github.com/andreyvit/alleledb/source"
)

// Run builds every category the config asks for, variants first.
func Run(ctx context.Context, cfg *Config) error {
	return RunWithLogger(ctx, cfg, slog.Default())
}

func RunWithLogger(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	opt := cfg.BuildOptions()
	opt.Logger = logger
	b, err := alleledb.NewBuilder(cfg.BuildContext(), opt)
	if err != nil {
		return err
	}

	if cfg.Wants(CategoryVariants) {
		sources := make([]alleledb.Source[alleledb.AlleleProperties], 0, len(cfg.Variants))
		for _, sc := range cfg.Variants {
			sources = append(sources, source.NewFileSource[alleledb.AlleleProperties](sc.Name, sc.Path, source.PropertiesTSV{Source: sc.Column}))
		}
		if _, err := b.BuildVariants(ctx, sources); err != nil {
			return fmt.Errorf("%s: %w", CategoryVariants, err)
		}
	}

	if cfg.Wants(CategoryClinVar) {
		if cfg.ClinVar == nil {
			logger.Warn("no clinvar source configured, skipping")
		} else {
			src := source.NewFileSource[alleledb.ClinicalAnnotation](cfg.ClinVar.Name, cfg.ClinVar.Path, source.ClinVarTSV{})
			if _, err := b.BuildClinVar(ctx, src); err != nil {
				return fmt.Errorf("%s: %w", CategoryClinVar, err)
			}
		}
	}
	return nil
}
