package ports

import "github.com/hightrade/hightrade/internal/domain"

// CommandSource delivers commands to the orchestrator (C10, §4.10). The
// file-drop queue in internal/ipc is the only implementation; its poller
// feeds command files from the pending directory into Commands().
type CommandSource interface {
	// Commands returns a channel of commands ready to apply. The channel
	// is never closed while the source is running.
	Commands() <-chan domain.Command

	// Ack reports the outcome of processing a command so the source can
	// complete its consume protocol (delete the file, etc).
	Ack(cmd domain.Command, err error)
}
