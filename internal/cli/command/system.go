package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Node commands",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the replica id and per-document log state",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check that the server answers",
				Action: systemHealth,
			},
			{
				Name:   "ready",
				Usage:  "Check that the server can reach its storage",
				Action: systemReady,
			},
		},
	}
}

type documentStatus struct {
	DocID        string    `json:"doc_id"`
	Initialized  bool      `json:"initialized"`
	LastSeq      int64     `json:"last_seq"`
	MaxSeq       int64     `json:"max_seq"`
	Pending      int64     `json:"pending"`
	SnapshotSize int       `json:"snapshot_bytes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type statusResponse struct {
	ReplicaID string           `json:"replica_id"`
	Documents []documentStatus `json:"documents"`
}

func systemStatus(c *cli.Context) error {
	var result statusResponse
	if err := call(c, "GET", "/v1/status", nil, &result); err != nil {
		return err
	}

	if ParseGlobalFlags(c).Output != "table" {
		return render(c, result)
	}

	fmt.Fprintf(writer(c), "Replica: %s\n\n", result.ReplicaID)
	if len(result.Documents) == 0 {
		fmt.Fprintln(writer(c), "No documents")
		return nil
	}
	return render(c, result.Documents)
}

type probeResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func systemHealth(c *cli.Context) error {
	return probe(c, "/health", "healthy")
}

func systemReady(c *cli.Context) error {
	return probe(c, "/ready", "ready")
}

func probe(c *cli.Context, path, want string) error {
	var result probeResponse
	if err := call(c, "GET", path, nil, &result); err != nil {
		return fmt.Errorf("%s check failed: %w", path, err)
	}

	if ParseGlobalFlags(c).Output != "table" {
		return render(c, result)
	}

	client, _ := EnsureConnected(c)
	if result.Status != want {
		return fmt.Errorf("server reported %q", result.Status)
	}
	fmt.Fprintf(writer(c), "✓ Server is %s\n", result.Status)
	fmt.Fprintf(writer(c), "  Target: %s\n", client.BaseURL())
	return nil
}
