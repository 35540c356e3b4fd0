package main

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/stargzcodec/stargz/estargz"
	"github.com/stargzcodec/stargz/internal/stargzlog"
)

func newConvertCmd() *cobra.Command {
	var chunkSize int64
	var level int
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "convert <in.tar> <out.stargz>",
		Short: "Convert a tar stream into a seekable stargz archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(args[0], args[1], chunkSize, level, noProgress)
		},
	}
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", estargz.DefaultChunkSize, "chunk boundary, in bytes, for large regular files")
	cmd.Flags().IntVar(&level, "level", 0, "gzip level 1-9 (0 uses the writer's default)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func runConvert(inPath, outPath string, chunkSize int64, level int, noProgress bool) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening input tar: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output archive: %w", err)
	}
	defer out.Close()

	var src io.Reader = in
	var bar *progressbar.ProgressBar
	if !noProgress {
		fi, statErr := in.Stat()
		if statErr == nil {
			bar = progressbar.DefaultBytes(fi.Size(), fmt.Sprintf("converting %s", inPath))
			src = io.TeeReader(in, bar)
		}
	}

	w := estargz.NewWriter(out)
	if chunkSize > 0 {
		w.SetChunkSize(chunkSize)
	}
	if level > 0 {
		w.SetCompressionLevel(level)
	}

	stargzlog.Info("converting %s -> %s", inPath, outPath)
	if err := w.AppendTar(src); err != nil {
		return fmt.Errorf("converting tar stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}

	fmt.Printf("diffid: %s\n", w.DiffID())
	return nil
}
