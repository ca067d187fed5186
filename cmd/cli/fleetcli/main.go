// fleetcli is the operator tool for the fleet orchestrator: it renders
// the fleet snapshot, resets watchdog records (the only sanctioned way to
// clear a blocked worker), and lints manifests before they are deployed.
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
	"github.com/quantfleet/fleet-orchestrator/pkg/orchestrator"
	"github.com/quantfleet/fleet-orchestrator/pkg/reconciler"
	"github.com/quantfleet/fleet-orchestrator/pkg/statestore"
	"github.com/quantfleet/fleet-orchestrator/pkg/watchdog"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetcli",
		Short:         "Operator tool for the fleet orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("state-dir", "", "orchestrator state directory (env: FLEET_STATE_DIR)")

	viper.SetEnvPrefix("FLEET")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("state_dir", root.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindEnv("state_dir", "FLEET_STATE_DIR")

	root.AddCommand(newStatusCommand())
	root.AddCommand(newResetCommand())
	root.AddCommand(newValidateCommand())
	return root
}

func stateOptions() (orchestrator.Options, error) {
	stateDir := viper.GetString("state_dir")
	if stateDir == "" {
		return orchestrator.Options{}, errors.NewValidationError(
			"state directory is required (--state-dir or FLEET_STATE_DIR)", nil)
	}
	return orchestrator.Options{StateDir: stateDir}, nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Render the latest fleet snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := stateOptions()
			if err != nil {
				return err
			}

			var snapshot reconciler.Snapshot
			if err := statestore.NewRepository(options.SnapshotPath()).Load(&snapshot); err != nil {
				if errors.IsNotFoundError(err) {
					return errors.NewNotFoundError("no fleet snapshot yet, is the orchestrator running?", err)
				}
				return err
			}

			renderSnapshot(cmd, &snapshot)
			return nil
		},
	}
}

func renderSnapshot(cmd *cobra.Command, snapshot *reconciler.Snapshot) {
	age := time.Since(time.UnixMilli(snapshot.TsMs)).Round(time.Second)
	cmd.Printf("%s %s\n\n", bold("fleet snapshot"), gray(fmt.Sprintf("(%s old, %d accounts)", age, len(snapshot.Accounts))))

	labels := make([]string, 0, len(snapshot.Accounts))
	for label := range snapshot.Accounts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		row := snapshot.Accounts[label]
		cmd.Printf("%s  mode: %s  alive: %s  should_run: %s  effective: %s\n",
			bold(label),
			row.AutomationMode,
			boolMark(row.Alive),
			boolMark(row.ShouldRun),
			effectiveMark(row),
		)
		for _, fault := range row.Faults {
			cmd.Printf("    %s %s: %s\n", severityMark(string(fault.Severity)), fault.Code, gray(fault.Detail))
		}
		for _, fault := range row.IgnoredFaults {
			cmd.Printf("    %s %s: %s\n", gray("IGNORED"), fault.Code, gray(fault.Detail))
		}
	}
}

func boolMark(value bool) string {
	if value {
		return green("yes")
	}
	return red("no")
}

func effectiveMark(row reconciler.Row) string {
	if row.Blocked {
		return red("no (blocked)")
	}
	return boolMark(row.EffectiveShouldRun)
}

func severityMark(severity string) string {
	if severity == "FAIL" {
		return red(severity)
	}
	return yellow(severity)
}

func newResetCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [account-label]",
		Short: "Reset a worker's restart control state, clearing a blocked worker",
		Long: "Reset zeroes a worker's restart count, backoff, and blocked state. " +
			"This is the only sanctioned way to resume a blocked worker; use it " +
			"after the underlying failure has been understood and fixed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := stateOptions()
			if err != nil {
				return err
			}
			if all == (len(args) == 1) {
				return errors.NewValidationError("provide exactly one of an account label or --all", nil)
			}

			repo := statestore.NewRepository(options.WatchdogStatePath())
			lock := statestore.NewWriterLock(options.LockPath(), 0)

			if all {
				count, err := watchdog.ResetAll(repo, lock)
				if err != nil {
					return err
				}
				cmd.Printf("%s reset %d worker record(s)\n", green("ok:"), count)
				return nil
			}

			if err := watchdog.ResetWorker(repo, lock, args[0]); err != nil {
				return err
			}
			cmd.Printf("%s reset worker record, account: %s\n", green("ok:"), args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reset every recorded worker")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.yaml>",
		Short: "Lint a fleet manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			if err := manifest.Validate(m); err != nil {
				return err
			}

			cmd.Printf("%s %d account(s) valid\n", green("ok:"), len(m.Accounts))
			for _, entry := range m.Accounts {
				mark := gray("stopped")
				if entry.ShouldRun() {
					mark = green("runs")
				}
				cmd.Printf("  %s  mode: %s  %s\n", bold(entry.AccountLabel), entry.Mode(), mark)
			}
			return nil
		},
	}
}
