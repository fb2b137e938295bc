package command

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/keispace/crdtsync/internal/cli/connection"
)

// DocCommand returns the doc subcommand group.
func DocCommand() *cli.Command {
	return &cli.Command{
		Name:    "doc",
		Aliases: []string{"d"},
		Usage:   "Document commands",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Reset a document to its initial shape",
				ArgsUsage: "DOC_ID",
				Action:    docInit,
			},
			{
				Name:      "show",
				Usage:     "Show the compacted state of a document",
				ArgsUsage: "DOC_ID",
				Action:    docShow,
			},
			{
				Name:      "sv",
				Usage:     "Print the document state vector (base64)",
				ArgsUsage: "DOC_ID",
				Action:    docStateVector,
			},
			{
				Name:      "diff",
				Usage:     "Fetch the update a replica with the given state vector is missing",
				ArgsUsage: "DOC_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "sv",
						Usage: "Base64 state vector of the caller (empty for the full state)",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "Write the raw update to this file instead of printing it",
					},
				},
				Action: docDiff,
			},
			{
				Name:      "submit",
				Usage:     "Append an encoded update to the document log",
				ArgsUsage: "DOC_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "Read the raw update from this file",
					},
					&cli.StringFlag{
						Name:  "data",
						Usage: "Base64 encoded update",
					},
					&cli.StringFlag{
						Name:  "origin",
						Usage: "Update origin: local, remote, pull",
						Value: "remote",
					},
				},
				Action: docSubmit,
			},
			{
				Name:      "compact",
				Usage:     "Fold pending updates into the snapshot",
				ArgsUsage: "DOC_ID",
				Action:    docCompact,
			},
			{
				Name:      "sync",
				Usage:     "Sync a document with a peer",
				ArgsUsage: "DOC_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "peer",
						Aliases: []string{"p"},
						Usage:   "Peer RPC address (host:port)",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Sync with every live cluster member",
					},
				},
				Action: docSync,
			},
			{
				Name:      "incr",
				Usage:     "Increment a counter",
				ArgsUsage: "DOC_ID",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:    "delta",
						Aliases: []string{"d"},
						Usage:   "Amount to add",
						Value:   1,
					},
					&cli.StringFlag{
						Name:  "key",
						Usage: "Counter field (default count)",
					},
				},
				Action: docIncrement,
			},
			{
				Name:      "set",
				Usage:     "Set a root field; VALUE is JSON, or a plain string",
				ArgsUsage: "DOC_ID KEY VALUE",
				Action:    docSetField,
			},
			{
				Name:      "append",
				Usage:     "Append to the items list; VALUE is JSON, or a plain string",
				ArgsUsage: "DOC_ID VALUE",
				Action:    docAppend,
			},
		},
	}
}

// docPath returns the API path for a document sub-resource.
func docPath(docID, suffix string) string {
	return "/v1/docs/" + url.PathEscape(docID) + suffix
}

// requireArgs returns the first n positional arguments or a usage error.
func requireArgs(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() < len(names) {
		return nil, fmt.Errorf("%s required", names[c.NArg()])
	}
	return c.Args().Slice()[:len(names)], nil
}

// call sends a request and decodes the response data into out.
func call(c *cli.Context, method, path string, body, out any) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ParseGlobalFlags(c).Timeout)
	defer cancel()

	resp, err := client.Do(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return connection.ParseResponse(resp, out)
}

// callAndRender sends a request and prints the response data.
func callAndRender(c *cli.Context, method, path string, body any) error {
	var result any
	if err := call(c, method, path, body, &result); err != nil {
		return err
	}
	return render(c, result)
}

func docInit(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}
	return callAndRender(c, "POST", docPath(args[0], "/init"), nil)
}

func docShow(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}

	var result struct {
		DocID    string `json:"doc_id"`
		Snapshot any    `json:"snapshot"`
	}
	if err := call(c, "GET", docPath(args[0], "/snapshot"), nil, &result); err != nil {
		return err
	}
	if result.Snapshot == nil {
		return fmt.Errorf("document %s has no snapshot (run doc init or doc sync first)", args[0])
	}
	return render(c, result.Snapshot)
}

func docStateVector(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}

	var result struct {
		StateVector []byte `json:"state_vector"`
	}
	if err := call(c, "GET", docPath(args[0], "/sv"), nil, &result); err != nil {
		return err
	}
	return render(c, map[string]any{
		"state_vector": base64.StdEncoding.EncodeToString(result.StateVector),
		"bytes":        len(result.StateVector),
	})
}

func docDiff(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}

	sv, err := base64.StdEncoding.DecodeString(c.String("sv"))
	if err != nil {
		return fmt.Errorf("invalid --sv: %w", err)
	}

	var result struct {
		Diff []byte `json:"diff"`
	}
	if err := call(c, "POST", docPath(args[0], "/diff"), map[string]any{"state_vector": sv}, &result); err != nil {
		return err
	}

	if path := c.String("out"); path != "" {
		if err := os.WriteFile(path, result.Diff, 0o600); err != nil {
			return fmt.Errorf("write diff: %w", err)
		}
		fmt.Fprintf(writer(c), "wrote %d bytes to %s\n", len(result.Diff), path)
		return nil
	}

	return render(c, map[string]any{
		"diff":  base64.StdEncoding.EncodeToString(result.Diff),
		"bytes": len(result.Diff),
	})
}

func docSubmit(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}

	var update []byte
	switch {
	case c.String("file") != "" && c.String("data") != "":
		return fmt.Errorf("--file and --data are mutually exclusive")
	case c.String("file") != "":
		update, err = os.ReadFile(c.String("file"))
		if err != nil {
			return fmt.Errorf("read update: %w", err)
		}
	case c.String("data") != "":
		update, err = base64.StdEncoding.DecodeString(c.String("data"))
		if err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}
	default:
		return fmt.Errorf("--file or --data required")
	}

	return callAndRender(c, "POST", docPath(args[0], "/updates"), map[string]any{
		"update": update,
		"origin": c.String("origin"),
	})
}

func docCompact(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}
	return callAndRender(c, "POST", docPath(args[0], "/compact"), nil)
}

func docSync(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}

	peer, all := c.String("peer"), c.Bool("all")
	switch {
	case peer != "" && all:
		return fmt.Errorf("--peer and --all are mutually exclusive")
	case all:
		var result struct {
			Peers     []map[string]any `json:"peers"`
			Succeeded int              `json:"succeeded"`
			Failed    int              `json:"failed"`
		}
		if err := call(c, "POST", docPath(args[0], "/sync/all"), nil, &result); err != nil {
			return err
		}
		if err := render(c, result.Peers); err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d peers failed", result.Failed, result.Failed+result.Succeeded)
		}
		return nil
	case peer != "":
		return callAndRender(c, "POST", docPath(args[0], "/sync"), map[string]any{"peer": peer})
	default:
		return fmt.Errorf("--peer or --all required")
	}
}

func docIncrement(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID")
	if err != nil {
		return err
	}

	body := map[string]any{"delta": c.Int64("delta")}
	if key := c.String("key"); key != "" {
		body["key"] = key
	}
	return callAndRender(c, "POST", docPath(args[0], "/count/increment"), body)
}

func docSetField(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID", "KEY", "VALUE")
	if err != nil {
		return err
	}
	return callAndRender(c, "PUT", docPath(args[0], "/fields/"+url.PathEscape(args[1])),
		map[string]any{"value": parseValue(args[2])})
}

func docAppend(c *cli.Context) error {
	args, err := requireArgs(c, "DOC_ID", "VALUE")
	if err != nil {
		return err
	}
	return callAndRender(c, "POST", docPath(args[0], "/items"),
		map[string]any{"value": parseValue(args[1])})
}

// parseValue reads s as JSON so numbers, booleans and objects keep their
// type; anything that is not valid JSON is taken as a string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
