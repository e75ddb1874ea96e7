// Command qtermd runs the qterm daemon: it listens on a QUIC socket,
// authenticates incoming connections, and attaches each one to a PTY
// session.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "qtermd",
		Short: "qterm daemon — remote PTY over QUIC",
	}

	root.AddCommand(
		serveCmd(),
		keygenCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
