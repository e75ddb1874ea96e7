package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check local terminal and environment prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("qterm doctor")
			fmt.Println()

			fd := int(os.Stdin.Fd())
			if term.IsTerminal(fd) {
				w, h, err := term.GetSize(fd)
				if err != nil {
					fmt.Printf("  stdin:    tty, but size unavailable (%v)\n", err)
				} else {
					fmt.Printf("  stdin:    tty (%dx%d)\n", w, h)
				}
			} else {
				fmt.Println("  stdin:    not a tty — input will be forwarded verbatim with no local echo control")
			}

			if tok := os.Getenv("QTERM_TOKEN"); tok != "" {
				fmt.Println("  token:    QTERM_TOKEN is set")
			} else {
				fmt.Println("  token:    QTERM_TOKEN not set — pass --token explicitly")
			}

			return nil
		},
	}
}
