// Command stargz converts tar streams to the stargz container-layer format
// and reads back entries and file content from existing stargz archives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stargzcodec/stargz/internal/stargzlog"
)

var (
	flagVerbose bool
	flagDebug   bool
)

func main() {
	root := &cobra.Command{
		Use:   "stargz",
		Short: "Convert and inspect seekable tar.gz container-image layers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case flagDebug:
				stargzlog.SetLevel(stargzlog.LevelDebug)
			case flagVerbose:
				stargzlog.SetLevel(stargzlog.LevelInfo)
			default:
				stargzlog.SetLevel(stargzlog.LevelError)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show info-level progress")
	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "show debug-level tracing")

	root.AddCommand(newConvertCmd())
	root.AddCommand(newReadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stargz:", err)
		os.Exit(1)
	}
}
