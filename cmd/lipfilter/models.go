package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dudu/lipfilter/internal/detector"
	"github.com/dudu/lipfilter/internal/inference"
)

var tryMetal bool

var modelsCmd = &cobra.Command{
	Use:   "models [model.onnx...]",
	Short: "Check that the landmark models load and show their tensors",
	Long: `Loads each model with ONNX Runtime and prints its inputs, outputs and
metadata. Without arguments the configured face and mesh models are checked.
With --metal the models are also imported with go-metal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{cfg.Detector.FaceModel, cfg.Detector.MeshModel}
		}
		if err := inference.Initialize(cfg.Detector.Library); err != nil {
			return err
		}
		defer inference.Shutdown()

		failed := 0
		for _, path := range args {
			if err := describeModel(path); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
			}
		}
		if failed > 0 {
			return errors.Newf("%d of %d models failed to load", failed, len(args))
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&tryMetal, "metal", false, "also try importing with go-metal")
	rootCmd.AddCommand(modelsCmd)
}

func describeModel(path string) error {
	info, err := inference.Inspect(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\n", path)
	if info.Producer != "" {
		fmt.Fprintf(w, "  producer\t%s (version %d)\n", info.Producer, info.Version)
	}
	for _, in := range info.Inputs {
		fmt.Fprintf(w, "  input\t%s\t%v\t%v\n", in.Name, in.Dimensions, in.DataType)
	}
	for _, out := range info.Outputs {
		fmt.Fprintf(w, "  output\t%s\t%v\t%v\n", out.Name, out.Dimensions, out.DataType)
	}
	if path == cfg.Detector.MeshModel {
		spec := detector.DefaultMeshSpec()
		for _, name := range []string{spec.LandmarksName, spec.ScoreName} {
			if _, ok := info.Output(name); !ok {
				fmt.Fprintf(w, "  warning\tmesh output %q not found\n", name)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if tryMetal {
		layers, err := inference.MetalLayers(path)
		if err != nil {
			fmt.Printf("  go-metal: %v\n", err)
			return nil
		}
		fmt.Printf("  go-metal: %d layers\n", len(layers))
		for i, l := range layers {
			fmt.Printf("    %d: %s (%s)\n", i+1, l.Name, l.Type)
		}
	}
	return nil
}
