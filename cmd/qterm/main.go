// Command qterm connects to a qtermd daemon and attaches the local
// terminal to a remote PTY session over QUIC.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "qterm",
		Short: "qterm client — attach to a remote PTY over QUIC",
	}

	root.AddCommand(
		connectCmd(),
		doctorCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
