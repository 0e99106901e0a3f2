// Package cli implements the calcstore command-line client on top of the
// pkg/client SDK.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/chemcloud/calcstore/pkg/client"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// RootOptions holds the global flags shared by every subcommand.
type RootOptions struct {
	ServerAddr string
	UserID     string
	Timeout    time.Duration
	JSONOutput bool
}

// Client builds the API client from the global flags.
func (o *RootOptions) Client() (*client.Client, error) {
	return client.NewClient(o.ServerAddr,
		client.WithUserID(o.UserID),
		client.WithTimeout(o.Timeout))
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:           "calcstore",
		Short:         "Client for the calcstore quantum-chemistry store",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.ServerAddr, "server",
		"http://localhost:8080", "calcstore API base URL")
	root.PersistentFlags().StringVar(&opts.UserID, "user", "",
		"opaque identity recorded on writes")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout",
		30*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVar(&opts.JSONOutput, "json", false,
		"print raw JSON instead of the summary view")

	root.AddCommand(newMoleculeCommand(opts))
	root.AddCommand(newCalculationCommand(opts))

	return root
}

// printJSON pretty-prints v to out.
func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
