// Command trigger-capture captures trigger-gated frames from a V4L2 camera.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/trigger-capture/internal/config"
)

// Version information
const version = "v0.1.0"

func main() {
	root := newRootCmd(func(cmd *cobra.Command, s *config.Settings) error {
		return run(cmd.Context(), s, os.Stdin, os.Stdout)
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
