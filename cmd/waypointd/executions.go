package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/fyrsmithlabs/waypoint/internal/tenant"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/spf13/cobra"
)

var (
	tenantID    string
	journeyID   string
	journeyName string
	inputsJSON  string
)

func init() {
	journeyCreateCmd.Flags().StringVar(&tenantID, "tenant", "", "owning tenant (required)")
	journeyCreateCmd.Flags().StringVar(&journeyName, "name", "", "display name")
	_ = journeyCreateCmd.MarkFlagRequired("tenant")
	journeyCmd.AddCommand(journeyCreateCmd)

	for _, cmd := range []*cobra.Command{enqueueCmd, runCmd} {
		cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to run as (required)")
		cmd.Flags().StringVar(&journeyID, "journey", "", "journey the execution belongs to (required)")
		cmd.Flags().StringVar(&inputsJSON, "inputs", "{}", "process inputs as a JSON object, or - to read stdin")
		_ = cmd.MarkFlagRequired("tenant")
		_ = cmd.MarkFlagRequired("journey")
	}
	for _, cmd := range []*cobra.Command{getCmd, historyCmd, cancelCmd} {
		cmd.Flags().StringVar(&tenantID, "tenant", "", "restrict access to this tenant")
	}
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List registered processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, d := range a.coordinator.Processes() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, d.Description)
			}
			return w.Flush()
		})
	},
}

var journeyCmd = &cobra.Command{
	Use:   "journey",
	Short: "Manage journeys",
}

var journeyCreateCmd = &cobra.Command{
	Use:   "create <journey-id>",
	Short: "Register a journey for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tenant.ValidateID(tenantID); err != nil {
			return err
		}
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.store.CreateJourney(ctx, args[0], tenantID, journeyName); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journey %s created for tenant %s\n", args[0], tenantID)
			return nil
		})
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <process-id>",
	Short: "Queue a process for the background worker",
	Long: `Queue a process execution. The execution is stored as pending and
picked up by the worker of a running waypointd serve. Prints the execution ID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := readInputs(cmd.InOrStdin(), inputsJSON)
		if err != nil {
			return err
		}
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			id, err := a.coordinator.Queue(ctx, args[0], tenantID, journeyID, inputs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <process-id>",
	Short: "Execute a process synchronously",
	Long: `Execute a process in this invocation and print the execution result
as JSON. The command exits non-zero when the process fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := readInputs(cmd.InOrStdin(), inputsJSON)
		if err != nil {
			return err
		}
		return withApp(cmd, appOptions{services: true}, func(ctx context.Context, a *app) error {
			ctx = tenant.WithTenantID(ctx, tenantID)
			res, err := a.coordinator.ExecuteSync(ctx, args[0], journeyID, inputs)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("execution %s failed: %s", res.Execution.ID, res.Error)
			}
			return nil
		})
	},
}

// executionView is the get output: the execution and, once completed, its
// result.
type executionView struct {
	Execution *execution.Execution `json:"execution"`
	Result    *execution.Result    `json:"result,omitempty"`
}

var getCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Show an execution and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			ctx = scopedContext(ctx)
			exec, err := a.coordinator.Get(ctx, args[0])
			if err != nil {
				return err
			}
			view := executionView{Execution: exec}
			if exec.State == execution.StateCompleted {
				if view.Result, err = a.coordinator.GetResult(ctx, exec.ID); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), view)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <journey-id>",
	Short: "List a journey's executions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			execs, err := a.coordinator.GetHistory(scopedContext(ctx), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROCESS\tSTATE\tQUEUED\tDURATION\tERROR")
			for _, e := range execs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.ProcessID, e.State, e.QueuedAt.Format("2006-01-02T15:04:05Z07:00"), e.Duration(), e.Error)
			}
			return w.Flush()
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a pending execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.coordinator.Cancel(scopedContext(ctx), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "execution %s cancelled\n", args[0])
			return nil
		})
	},
}

// withApp wires dependencies for one command and releases them afterwards.
func withApp(cmd *cobra.Command, opts appOptions, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// scopedContext applies --tenant when set. Without it the command runs with
// operator access.
func scopedContext(ctx context.Context) context.Context {
	if tenantID == "" {
		return ctx
	}
	return tenant.WithTenantID(ctx, tenantID)
}

// readInputs parses the --inputs flag; "-" reads the JSON object from stdin.
func readInputs(stdin io.Reader, raw string) (value.Map, error) {
	data := []byte(raw)
	if raw == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("reading inputs from stdin: %w", err)
		}
	}
	if len(data) == 0 {
		return value.Map{}, nil
	}
	inputs, err := value.ParseMap(data)
	if err != nil {
		return nil, fmt.Errorf("invalid --inputs: %w", err)
	}
	return inputs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
