// Command hightradectl drops operator commands into the running
// orchestrator's filesystem IPC queue (§4.10) and, for read verbs,
// polls the matching response file and renders it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ipcDir string

func main() {
	root := &cobra.Command{
		Use:   "hightradectl",
		Short: "operate a running hightrade orchestrator over its command queue",
	}
	root.PersistentFlags().StringVar(&ipcDir, "ipc-dir", "./hightrade-ipc", "orchestrator's command queue directory")

	root.AddCommand(
		newReadCommand("status", "print orchestrator mode, broker mode, and cycle count"),
		newReadCommand("portfolio", "print open positions"),
		newReadCommand("defcon", "print the current DEFCON level"),
		newMutatorCommand("hold", "suspend new entry proposals; cycles and exit monitoring continue"),
		newMutatorCommand("resume", "return to running from hold or estop"),
		newMutatorCommand("yes", "approve the pending decision"),
		newMutatorCommand("no", "reject the pending decision"),
		newMutatorCommand("refresh", "run one cycle immediately"),
		newMutatorCommand("shutdown", "drain and exit cleanly"),
		newMutatorCommand("estop", "halt immediately from any state"),
		newModeCommand(),
		newIntervalCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
