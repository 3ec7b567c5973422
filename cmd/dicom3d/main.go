// Command dicom3d reconstructs a 3D volume from a directory of DICOM slices,
// extracts an iso-surface mesh, and exchanges annotations as JSON or DICOM
// structured reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dicom3d/pkg/annotation"
	"dicom3d/pkg/config"
	"dicom3d/pkg/dicom"
	"dicom3d/pkg/mesh"
	"dicom3d/pkg/pipeline"
	"dicom3d/pkg/series"
)

// Exit codes surfaced to scripts driving the converter.
const (
	exitOK                 = 0
	exitOther              = 1
	exitUnsupportedSyntax  = 2
	exitInconsistentSeries = 3
	exitIsoOutOfRange      = 4
	exitCancelled          = 5
)

var (
	cfgPath string
	cfg     *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "dicom3d",
		Short:         "DICOM series to iso-surface mesh converter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgPath)
			return err
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "dicom3d.yaml", "Path to the YAML configuration file")

	root.AddCommand(newConvertCmd(), newInfoCmd(), newPreviewCmd(), newAnnotateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps failure kinds onto the documented exit codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, dicom.ErrUnsupportedTransferSyntax):
		return exitUnsupportedSyntax
	case errors.Is(err, series.ErrInconsistentSeries):
		return exitInconsistentSeries
	case errors.Is(err, mesh.ErrIsoOutOfRange):
		return exitIsoOutOfRange
	case errors.Is(err, mesh.ErrCancelled):
		return exitCancelled
	default:
		return exitOther
	}
}

func newConvertCmd() *cobra.Command {
	var (
		iso        float64
		chunkSize  int
		smoothIter int
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "convert <input-dir> <output-mesh>",
		Short: "Reconstruct a volume and write its iso-surface as binary STL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputDir, outputPath := args[0], args[1]

			params := pipeline.Params{
				InputDir:         inputDir,
				Iso:              math.NaN(),
				ChunkSize:        chunkSize,
				SmoothIterations: smoothIter,
			}
			if cmd.Flags().Changed("iso") {
				params.Iso = iso
			} else if !cfg.Processing.AutoIso {
				params.Iso = cfg.Processing.IsoValue
			}

			verbose := cfg.Output.Verbose
			if verbose {
				fmt.Printf("Scanning %s for DICOM slices...\n", inputDir)
				params.Progress = func(p float64) {
					fmt.Printf("\rExtracting surface: %.1f%% complete", p*100)
				}
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			start := time.Now()
			res, err := pipeline.Run(ctx, params)
			if err != nil {
				if verbose {
					fmt.Println()
				}
				return err
			}
			if verbose {
				fmt.Println()
			}

			if err := mesh.SaveToSTL(outputPath, res.Mesh); err != nil {
				return err
			}

			if verbose {
				fmt.Printf("Series: %d slices, %dx%dx%d voxels, spacing (%.3f, %.3f, %.3f) mm\n",
					res.Series.Depth, res.Volume.Width, res.Volume.Height, res.Volume.Depth,
					res.Volume.Spacing[0], res.Volume.Spacing[1], res.Volume.Spacing[2])
				fmt.Printf("Iso-value: %.3f (auto estimate %.3f)\n", res.Iso, res.Volume.AutoIso)
				fmt.Printf("Mesh: %d vertices, %d triangles\n", res.Mesh.VertexCount(), res.Mesh.TriangleCount())
				fmt.Printf("Output written to %s in %.2f seconds\n", outputPath, time.Since(start).Seconds())
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&iso, "iso", 0, "Iso-value in modality units (default: automatic Otsu estimate)")
	cmd.Flags().IntVar(&chunkSize, "chunk", mesh.DefaultChunkSize, "Marching cubes chunk side in voxels")
	cmd.Flags().IntVar(&smoothIter, "smooth-iter", mesh.DefaultSmoothIterations, "Taubin smoothing iterations")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort extraction after this wall-clock duration")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <input-dir>",
		Short: "Parse and assemble a series, then print its geometry and study metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slices, err := pipeline.LoadDirectory(args[0])
			if err != nil {
				return err
			}
			ser, vol, err := pipeline.BuildVolume(slices)
			if err != nil {
				return err
			}

			fmt.Printf("Slices:              %d\n", ser.Depth)
			fmt.Printf("Dimensions:          %d x %d x %d\n", vol.Width, vol.Height, vol.Depth)
			fmt.Printf("Spacing (mm):        %.4f, %.4f, %.4f\n", vol.Spacing[0], vol.Spacing[1], vol.Spacing[2])
			fmt.Printf("Origin (mm):         %.4f, %.4f, %.4f\n", vol.Origin[0], vol.Origin[1], vol.Origin[2])
			fmt.Printf("Orientation:         %v\n", vol.Orientation)
			fmt.Printf("Scalar range:        [%.3f, %.3f], mean %.3f\n", vol.Min, vol.Max, vol.Mean)
			fmt.Printf("Auto iso (Otsu):     %.3f\n", vol.AutoIso)
			fmt.Printf("Modality:            %s\n", orDash(ser.Modality))
			fmt.Printf("Study date:          %s\n", orDash(ser.StudyDate))
			fmt.Printf("Study UID:           %s\n", orDash(ser.StudyUID))
			fmt.Printf("Series UID:          %s\n", orDash(ser.SeriesUID))
			fmt.Printf("Frame of reference:  %s\n", orDash(ser.FrameOfReference))
			if vol.Approximate {
				fmt.Println("Note: no orientation tags present; patient coordinates are approximate")
			}
			if vol.Uncalibrated {
				fmt.Println("Note: JPEG-decoded slices present; scalar field is uncalibrated")
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <input-dir> <output-dir>",
		Short: "Write the 8-bit display stack as numbered JPEG frames",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slices, err := pipeline.LoadDirectory(args[0])
			if err != nil {
				return err
			}
			_, vol, err := pipeline.BuildVolume(slices)
			if err != nil {
				return err
			}
			if err := vol.SaveDisplayStack(args[1], cfg.Output.PreviewQuality); err != nil {
				return err
			}
			if cfg.Output.Verbose {
				fmt.Printf("Wrote %d preview frames to %s\n", vol.Depth, args[1])
			}
			return nil
		},
	}
}

func newAnnotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Export or import annotations against a series",
	}
	cmd.AddCommand(newAnnotateExportCmd(), newAnnotateImportCmd())
	return cmd
}

func newAnnotateExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <input-dir> <output-file>",
		Short: "Export saved annotations as JSON (.json) or a DICOM SR (.dcm)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slices, err := pipeline.LoadDirectory(args[0])
			if err != nil {
				return err
			}
			ser, vol, err := pipeline.BuildVolume(slices)
			if err != nil {
				return err
			}

			store := annotation.NewStore(cfg.Output.AnnotationsDir)
			annotations := store.Load(ser.SeriesUID)
			if len(annotations) == 0 {
				return annotation.ErrNoAnnotationsFound
			}

			var data []byte
			switch strings.ToLower(filepath.Ext(args[1])) {
			case ".json":
				data, err = annotation.ExportJSON(annotations, vol)
			default:
				data, err = annotation.ExportSR(annotations, vol, ser)
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0644); err != nil {
				return err
			}
			if cfg.Output.Verbose {
				fmt.Printf("Exported %d annotations to %s\n", len(annotations), args[1])
			}
			return nil
		},
	}
}

func newAnnotateImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <input-dir> <report-file>",
		Short: "Import annotations from JSON or a DICOM SR into the local store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slices, err := pipeline.LoadDirectory(args[0])
			if err != nil {
				return err
			}
			ser, vol, err := pipeline.BuildVolume(slices)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			var annotations []*annotation.Annotation
			if strings.ToLower(filepath.Ext(args[1])) == ".json" {
				_, annotations, err = annotation.ImportJSON(data)
			} else {
				annotations, err = annotation.ImportSR(data, vol)
			}
			if err != nil {
				return err
			}

			store := annotation.NewStore(cfg.Output.AnnotationsDir)
			if err := store.Save(ser.SeriesUID, annotations); err != nil {
				return err
			}
			if cfg.Output.Verbose {
				fmt.Printf("Imported %d annotations for series %s\n", len(annotations), ser.SeriesUID)
			}
			return nil
		},
	}
}
