package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/agentapi/internal/daemon"
	"github.com/harun/agentapi/pkg/orchestrator"
	"github.com/harun/agentapi/pkg/session"
	"github.com/spf13/cobra"
)

// Queries used when run is given none.
const (
	DefaultBasicQuery    = "What's the weather in New York and calculate 25 * 48."
	DefaultAdvancedQuery = "Query our database for recent sales and summarize the findings."
	DefaultFollowUpQuery = "What was the previous query about?"
)

var (
	runAgentType   string
	runModel       string
	runTemperature float64
	runFollowUp    string
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run one query through an agent and print the answer",
	Long: `Run one query through the basic or advanced agent and print the answer to
stdout. With --follow-up the advanced agent answers a second query against the
same conversation memory. The command exits non-zero when the run fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAgentType, "agent-type", string(orchestrator.VariantBasic), "agent variant (basic, advanced)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override")
	runCmd.Flags().Float64Var(&runTemperature, "temperature", 0, "temperature override (0 to 1)")
	runCmd.Flags().StringVar(&runFollowUp, "follow-up", "", "second query answered with the same memory (advanced only)")
	rootCmd.AddCommand(runCmd)
}

// runPlan is the resolved list of queries for one invocation.
type runPlan struct {
	variant orchestrator.Variant
	queries []string
}

func planRun(agentType string, args []string, followUp string) (runPlan, error) {
	variant, err := orchestrator.ParseVariant(agentType)
	if err != nil {
		return runPlan{}, err
	}

	plan := runPlan{variant: variant}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		plan.queries = append(plan.queries, args[0])
	} else if variant == orchestrator.VariantAdvanced {
		plan.queries = append(plan.queries, DefaultAdvancedQuery)
		if followUp == "" {
			followUp = DefaultFollowUpQuery
		}
	} else {
		plan.queries = append(plan.queries, DefaultBasicQuery)
	}

	if followUp != "" {
		if !variant.HasMemory() {
			return runPlan{}, errors.New("--follow-up requires --agent-type advanced")
		}
		plan.queries = append(plan.queries, followUp)
	}
	return plan, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	plan, err := planRun(runAgentType, args, runFollowUp)
	if err != nil {
		return err
	}

	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if runModel != "" {
		cfg.Agent.Model = runModel
	}
	// Follow-up queries share one store, which needs a session.
	if len(plan.queries) > 1 {
		cfg.Memory.Lifetime = string(session.LifetimePerSession)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := orchestrator.RunOptions{ModelIdentifier: runModel}
	if cmd.Flags().Changed("temperature") {
		t := runTemperature
		opts.Temperature = &t
	}
	if len(plan.queries) > 1 {
		id, err := d.GetSessionManager().CreateSession(ctx)
		if err != nil {
			return err
		}
		opts.SessionID = id
	}

	return executePlan(ctx, d.GetDispatcher(), plan, opts, cmd.OutOrStdout())
}

// executePlan runs each query in order and stops at the first failure.
func executePlan(ctx context.Context, runner *orchestrator.Dispatcher, plan runPlan, opts orchestrator.RunOptions, out io.Writer) error {
	for i, query := range plan.queries {
		result := runner.Run(ctx, query, string(plan.variant), opts)
		if !result.Success {
			return errors.New(result.Output)
		}
		if len(plan.queries) > 1 {
			fmt.Fprintf(out, "Q%d: %s\n", i+1, query)
		}
		fmt.Fprintln(out, result.Output)
	}
	return nil
}
