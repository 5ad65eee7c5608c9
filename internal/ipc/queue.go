// Package ipc implements C10: a filesystem-backed command queue.
// Commands are dropped as JSON files, consumed atomically via
// create-in-tmp + rename-into-pending and rename-into-in-flight, per
// §9's "filesystem IPC → atomic rename" design note.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hightrade/hightrade/internal/domain"
)

const (
	pendingDir   = "pending"
	inFlightDir  = "in-flight"
	failedDir    = "failed"
	responsesDir = "responses"

	pollInterval  = 250 * time.Millisecond
	orphanReclaim = 5 * time.Minute
)

// Queue is C10's ports.CommandSource implementation: a directory of
// pending/in-flight/failed JSON command files, polled on a fixed tick.
type Queue struct {
	root string
	ch   chan domain.Command
	stop chan struct{}
}

// Open prepares the queue's directory structure under root and
// performs the boot-time crash-recovery sweep: orphaned in-flight files
// older than 5 minutes are returned to pending (§4.10). Open is for the
// orchestrator, the queue's single consumer — it starts pollLoop and
// therefore competes to claim pending/ files. Callers that only ever
// produce commands and read responses (cmd/hightradectl) must use
// OpenProducer instead.
func Open(root string) (*Queue, error) {
	q, err := newQueue(root)
	if err != nil {
		return nil, err
	}
	q.reclaimOrphans()
	go q.pollLoop()
	return q, nil
}

// OpenProducer prepares the same directory structure as Open but never
// claims pending/ files or reclaims orphans — it is for callers that
// only Drop commands and poll ReadResponse (cmd/hightradectl). Sharing
// Open between the orchestrator and the CLI would make both processes
// consumers racing to rename the same pending/ file into in-flight/;
// if the CLI wins, the command is stranded in its own unread channel
// until the 5-minute reclaim sweep and the orchestrator never answers.
func OpenProducer(root string) (*Queue, error) {
	return newQueue(root)
}

func newQueue(root string) (*Queue, error) {
	for _, dir := range []string{pendingDir, inFlightDir, failedDir, responsesDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("ipc.Open: mkdir %s: %w", dir, err)
		}
	}
	return &Queue{root: root, ch: make(chan domain.Command, 16), stop: make(chan struct{})}, nil
}

// Drop writes a new command file atomically: create in a tmp path, then
// rename into pending/ so a concurrent poll never observes a partial
// write (§9).
func (q *Queue) Drop(verb domain.Verb, args []string) (domain.Command, error) {
	cmd := domain.Command{
		ID:         uuid.NewString(),
		Verb:       verb,
		Args:       args,
		ReceivedAt: time.Now(),
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return domain.Command{}, fmt.Errorf("ipc.Drop: marshal: %w", err)
	}

	tmpPath := filepath.Join(q.root, pendingDir, "."+cmd.ID+".tmp")
	finalPath := filepath.Join(q.root, pendingDir, cmd.ID+".json")

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return domain.Command{}, fmt.Errorf("ipc.Drop: write tmp: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return domain.Command{}, fmt.Errorf("ipc.Drop: rename into pending: %w", err)
	}
	return cmd, nil
}

// Commands returns the channel the orchestrator reads consumed commands
// from (ports.CommandSource).
func (q *Queue) Commands() <-chan domain.Command {
	return q.ch
}

// Ack completes processing of a command: the in-flight file is deleted
// on success, or moved to failed/ on error (§4.10).
func (q *Queue) Ack(cmd domain.Command, err error) {
	inFlightPath := filepath.Join(q.root, inFlightDir, cmd.ID+".json")
	if err != nil {
		failedPath := filepath.Join(q.root, failedDir, cmd.ID+".json")
		if rerr := os.Rename(inFlightPath, failedPath); rerr != nil {
			slog.Warn("ipc: failed to move command to failed/", "id", cmd.ID, "err", rerr)
		}
		return
	}
	if rerr := os.Remove(inFlightPath); rerr != nil && !os.IsNotExist(rerr) {
		slog.Warn("ipc: failed to remove completed in-flight command", "id", cmd.ID, "err", rerr)
	}
}

// Close stops the poll loop. The channel is left open; callers should
// stop reading after Close returns.
func (q *Queue) Close() {
	close(q.stop)
}

func (q *Queue) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.drainPending()
		}
	}
}

// drainPending renames each pending file into in-flight/, parses it,
// and forwards well-formed commands to the channel. Malformed files are
// moved straight to failed/ rather than retried (§4.10).
func (q *Queue) drainPending() {
	entries, err := os.ReadDir(filepath.Join(q.root, pendingDir))
	if err != nil {
		slog.Warn("ipc: failed to list pending/", "err", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		pendingPath := filepath.Join(q.root, pendingDir, name)
		inFlightPath := filepath.Join(q.root, inFlightDir, name)
		if err := os.Rename(pendingPath, inFlightPath); err != nil {
			slog.Warn("ipc: failed to claim pending command", "file", name, "err", err)
			continue
		}

		cmd, err := parseCommandFile(inFlightPath)
		if err != nil {
			slog.Warn("ipc: malformed command file, moving to failed/", "file", name, "err", err)
			os.Rename(inFlightPath, filepath.Join(q.root, failedDir, name))
			continue
		}

		select {
		case q.ch <- cmd:
		case <-q.stop:
			return
		}
	}
}

// reclaimOrphans returns in-flight files older than 5 minutes to
// pending — they were abandoned by a crash mid-processing (§4.10).
func (q *Queue) reclaimOrphans() {
	entries, err := os.ReadDir(filepath.Join(q.root, inFlightDir))
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-orphanReclaim)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		src := filepath.Join(q.root, inFlightDir, entry.Name())
		dst := filepath.Join(q.root, pendingDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			slog.Warn("ipc: failed to reclaim orphaned in-flight command", "file", entry.Name(), "err", err)
		}
	}
}

// WriteResponse persists payload as the response to commandID, written
// atomically (create-in-tmp + rename) so cmd/hightradectl never reads a
// partial file. It is how the orchestrator answers the read verbs
// (`status`, `portfolio`, `defcon`) over the same file-drop surface used
// for commands (§4.10).
func (q *Queue) WriteResponse(commandID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ipc.WriteResponse: marshal: %w", err)
	}

	tmpPath := filepath.Join(q.root, responsesDir, "."+commandID+".tmp")
	finalPath := filepath.Join(q.root, responsesDir, commandID+".json")

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("ipc.WriteResponse: write tmp: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ipc.WriteResponse: rename into responses: %w", err)
	}
	return nil
}

// ReadResponse reads back the response file for commandID, if any has
// been written yet. cmd/hightradectl polls this after dropping a
// read-verb command.
func (q *Queue) ReadResponse(commandID string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(q.root, responsesDir, commandID+".json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ipc.ReadResponse: %w", err)
	}
	return data, true, nil
}

// ResponseTransport adapts Queue into an alert.Transport: every
// command_response event is written back keyed by its CommandID; every
// other event kind is a no-op, since those are meant for a chat/console
// transport, not the file-drop response surface.
type ResponseTransport struct {
	Queue *Queue
}

// Send implements alert.Transport.
func (t ResponseTransport) Send(_ context.Context, e domain.Event) error {
	if e.CommandID == "" {
		return nil
	}
	return t.Queue.WriteResponse(e.CommandID, e.Payload)
}

func parseCommandFile(path string) (domain.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Command{}, fmt.Errorf("read: %w", err)
	}
	var cmd domain.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return domain.Command{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cmd.ID == "" {
		return domain.Command{}, fmt.Errorf("missing id")
	}
	return cmd, nil
}
