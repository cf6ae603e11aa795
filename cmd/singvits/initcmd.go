package main

import (
	"fmt"
	"log/slog"

	"github.com/example/go-singvits/internal/safetensors"
	"github.com/example/go-singvits/internal/svs"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var out string
	var seed int64

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a freshly initialized generator checkpoint",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			gen, err := svs.NewGenerator(generatorConfig(cfg.Model), svs.NewInitSource(seed))
			if err != nil {
				return fmt.Errorf("build generator: %w", err)
			}

			params := gen.Parameters()
			if err := safetensors.WriteFile(out, params); err != nil {
				return fmt.Errorf("write checkpoint: %w", err)
			}

			slog.Info("wrote checkpoint", "path", out, "tensors", len(params))

			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "generator.safetensors", "Output checkpoint path")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Initialization seed")

	return cmd
}
