package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/bidiload/bidi"
	"github.com/liuxd6825/bidiload/simbrowser"
)

// Version is the bidiload version. It is overridden at build time with
// -ldflags "-X github.com/liuxd6825/bidiload/cmd.Version=...".
var Version = "0.1.0" //nolint:gochecknoglobals

func versionString() string {
	return fmt.Sprintf("v%s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func versionDetails() map[string]string {
	return map[string]string{
		"version":           "v" + Version,
		"go_version":        runtime.Version(),
		"go_os":             runtime.GOOS,
		"go_arch":           runtime.GOARCH,
		"event":             bidi.EventBrowsingContextLoad,
		"simulated_browser": simbrowser.BrowserName + " " + simbrowser.Version,
	}
}

type versionCmd struct {
	gs     *globalState
	isJSON bool
}

func (c *versionCmd) run(_ *cobra.Command, _ []string) error {
	if !c.isJSON {
		fprintf(c.gs.stdOut, "bidiload %s\n", versionString())
		return nil
	}

	jsonDetails, err := json.Marshal(versionDetails())
	if err != nil {
		return fmt.Errorf("failed produce a JSON version details: %w", err)
	}

	_, err = fmt.Fprintln(c.gs.stdOut, string(jsonDetails))
	return err
}

func getCmdVersion(gs *globalState) *cobra.Command {
	versionCmd := &versionCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version and exit.`,
		Args:  cobra.NoArgs,
		RunE:  versionCmd.run,
	}

	cmd.Flags().BoolVar(&versionCmd.isJSON, "json", false, "if set, output version information will be in JSON format")

	return cmd
}
