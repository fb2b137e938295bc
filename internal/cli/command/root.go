package command

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/keispace/crdtsync/internal/cli/connection"
	"github.com/keispace/crdtsync/internal/cli/output"
	"github.com/keispace/crdtsync/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "crdtsync-cli",
		Usage:   "crdtsync document and node tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			DocCommand(),
			SystemCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "crdtsync server address (e.g., localhost:7400)",
			EnvVars: []string{"CRDTSYNC_SERVER"},
			Value:   "localhost:7400",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			EnvVars: []string{"CRDTSYNC_OUTPUT"},
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Expand nested values in table output",
		},
		&cli.BoolFlag{
			Name:  "no-headers",
			Usage: "Omit table headers",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Request timeout",
			Value:   connection.DefaultTimeout,
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server    string
	Output    string // table, json, yaml
	Wide      bool
	NoHeaders bool
	Timeout   time.Duration
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Server:    c.String("server"),
		Output:    c.String("output"),
		Wide:      c.Bool("wide"),
		NoHeaders: c.Bool("no-headers"),
		Timeout:   c.Duration("timeout"),
	}
}

// EnsureConnected returns an HTTP client for the selected server.
func EnsureConnected(c *cli.Context) (*connection.HTTPClient, error) {
	flags := ParseGlobalFlags(c)
	if flags.Server == "" {
		return nil, fmt.Errorf("no server given (use --server or CRDTSYNC_SERVER)")
	}
	return connection.NewHTTPClient(flags.Server, flags.Timeout), nil
}

// writer returns where command output goes.
func writer(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// render prints data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatTable, output.FormatJSON, output.FormatYAML:
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", flags.Output)
	}

	f := output.NewFormatter(output.Format(flags.Output), flags.Wide)
	if tf, ok := f.(*output.TableFormatter); ok {
		tf.NoHeaders = flags.NoHeaders
	}
	return f.Format(writer(c), data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
