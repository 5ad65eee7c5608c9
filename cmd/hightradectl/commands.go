package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/ipc"
)

const responsePollTimeout = 5 * time.Second

func newMutatorCommand(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dropAndAck(domain.Verb(verb), args)
		},
	}
}

func newModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <disabled|semi_auto|full_auto>",
		Short: "switch broker mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dropAndAck(domain.VerbMode, args)
		},
	}
}

func newIntervalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interval <minutes>",
		Short: "change the per-cycle interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dropAndAck(domain.VerbInterval, args)
		},
	}
}

func newReadCommand(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dropAndRead(domain.Verb(verb))
		},
	}
}

// openQueue opens the queue in producer-only mode: hightradectl only
// ever drops commands and reads responses, it never consumes pending/
// itself (that would race the orchestrator's own poller for the same
// files).
func openQueue() (*ipc.Queue, error) {
	q, err := ipc.OpenProducer(ipcDir)
	if err != nil {
		return nil, fmt.Errorf("open command queue at %q: %w", ipcDir, err)
	}
	return q, nil
}

// dropAndAck drops a mutator command and reports its ID; mutator verbs
// are fire-and-forget over the file-drop surface, so there is no
// synchronous result to wait for.
func dropAndAck(verb domain.Verb, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	cmd, err := q.Drop(verb, args)
	if err != nil {
		return fmt.Errorf("drop command: %w", err)
	}
	fmt.Printf("queued %s (id=%s)\n", verb, cmd.ID)
	return nil
}

// dropAndRead drops a read-verb command and polls for its response
// file until it appears or responsePollTimeout elapses.
func dropAndRead(verb domain.Verb) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	cmd, err := q.Drop(verb, nil)
	if err != nil {
		return fmt.Errorf("drop command: %w", err)
	}

	deadline := time.Now().Add(responsePollTimeout)
	for time.Now().Before(deadline) {
		data, found, err := q.ReadResponse(cmd.ID)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if found {
			return renderResponse(verb, data)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for a response to %s (id=%s) — is the orchestrator running?", verb, cmd.ID)
}

func renderResponse(verb domain.Verb, data []byte) error {
	switch verb {
	case domain.VerbStatus:
		return renderStatus(data)
	case domain.VerbPortfolio:
		return renderPortfolio(data)
	case domain.VerbDefcon:
		return renderDefcon(data)
	default:
		fmt.Println(string(data))
		return nil
	}
}

type statusResponse struct {
	Mode             domain.Mode       `json:"mode"`
	BrokerMode       domain.BrokerMode `json:"broker_mode"`
	CycleCount       int64             `json:"cycle_count"`
	CycleIntervalSec int               `json:"cycle_interval_sec"`
}

func renderStatus(data []byte) error {
	var s statusResponse
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse status response: %w", err)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Mode", "Broker Mode", "Cycle Count", "Interval (s)")
	table.Append(string(s.Mode), string(s.BrokerMode), fmt.Sprint(s.CycleCount), fmt.Sprint(s.CycleIntervalSec))
	table.Render()
	return nil
}

type portfolioResponse struct {
	Open []domain.Position `json:"open"`
}

func renderPortfolio(data []byte) error {
	var p portfolioResponse
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse portfolio response: %w", err)
	}
	if len(p.Open) == 0 {
		fmt.Println("no open positions")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Entry Price", "Current Price", "Status", "Entry DEFCON")
	for _, pos := range p.Open {
		table.Append(pos.Symbol, fmt.Sprintf("%.2f", pos.EntryPrice), fmt.Sprintf("%.2f", pos.CurrentPrice),
			string(pos.Status), fmt.Sprint(pos.EntryDefcon))
	}
	table.Render()
	return nil
}

func renderDefcon(data []byte) error {
	var d domain.DefconState
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parse defcon response: %w", err)
	}
	fmt.Printf("DEFCON %d (score=%.1f, reason=%s, entered %s)\n", d.Level, d.SignalScore, d.ReasonCode, d.EnteredAt.Format(time.RFC3339))
	return nil
}
