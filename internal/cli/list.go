package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/jobharness/internal/journeys"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Fixtures string
}

// JourneyInfo describes one catalog entry.
type JourneyInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Strategy    string   `json:"strategy"`
	Actors      []string `json:"actors"`
	Steps       int      `json:"steps"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bundled journeys",
		Long: `List the journeys "jobharness run" knows by name.

Journeys are built against the fixtures, so a broken fixtures file is
reported here as well.

Examples:
  jobharness list
  jobharness list --fixtures ./staging-fixtures.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJourneys(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixtures file replacing the embedded one")

	return cmd
}

func listJourneys(opts *ListOptions, cmd *cobra.Command) error {
	set := journeys.Default()
	if opts.Fixtures != "" {
		loaded, err := journeys.Load(opts.Fixtures)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load fixtures", err)
		}
		set = loaded
	}

	var infos []JourneyInfo
	for _, j := range journeys.All() {
		sc, err := j.Scenario(set)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build journey", err)
		}
		info := JourneyInfo{
			Name:        sc.Name(),
			Description: sc.Description(),
			Strategy:    string(sc.Strategy()),
			Steps:       sc.Len(),
		}
		for _, a := range sc.Actors() {
			info.Actors = append(info.Actors, a.Name)
		}
		infos = append(infos, info)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if out.JSON() {
		return out.Success(infos)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTRATEGY\tSTEPS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.Name, info.Strategy, info.Steps, info.Description)
	}
	return tw.Flush()
}
