package main

import (
	"fmt"

	"github.com/example/go-singvits/internal/safetensors"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe the configured model and checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			gen, err := loadGenerator(cfg)
			if err != nil {
				return err
			}

			store, err := safetensors.OpenStore(cfg.Paths.CheckpointPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var total int64
			for _, name := range store.Names() {
				t, err := store.Tensor(name)
				if err != nil {
					return err
				}

				n := int64(1)
				for _, d := range t.Shape {
					n *= d
				}

				total += n
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checkpoint:      %s\n", cfg.Paths.CheckpointPath)
			fmt.Fprintf(out, "tensors:         %d\n", len(store.Names()))
			fmt.Fprintf(out, "parameters:      %d\n", total)
			fmt.Fprintf(out, "sample rate:     %d Hz\n", gen.SampleRate())
			fmt.Fprintf(out, "upsample factor: %d samples/frame\n", gen.UpsampleFactor())
			fmt.Fprintf(out, "hidden channels: %d\n", gen.Config().HiddenChannels)
			fmt.Fprintf(out, "vocab size:      %d\n", gen.Config().VocabSize)

			return nil
		},
	}

	return cmd
}
