package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/service"
)

var (
	planGoal                 string
	planAgent                string
	planSystemPromptFile     string
	planTitleSystemPromptFile string
	planExecute              bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Run the planner (and optionally the executor) against a goal, for local iteration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if planGoal == "" {
			return fmt.Errorf("dagrunctl: --goal is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		agentName := planAgent
		if agentName == "" {
			agentName = cfg.DefaultAgent
		}
		if agentName == "" {
			return fmt.Errorf("dagrunctl: --agent or --default-agent is required")
		}
		if err := seedAgentIfRequested(ctx, a, agentName, planSystemPromptFile, false); err != nil {
			return err
		}
		if err := seedAgentIfRequested(ctx, a, "title", planTitleSystemPromptFile, true); err != nil {
			return err
		}

		req := service.CreateDAGRequest{GoalText: planGoal, AgentName: agentName}

		if !planExecute {
			result, err := a.service.CreateDAG(ctx, req)
			if err != nil {
				return err
			}
			return printPlanResult(result)
		}

		result, err := a.service.CreateAndExecuteDAG(ctx, req)
		if err != nil {
			return err
		}
		if result.Status == service.StatusClarificationRequired {
			fmt.Printf("clarification_required: %s\n", result.ClarificationQuery)
			return nil
		}
		fmt.Printf("executing: dag_id=%s execution_id=%s\n", result.DAGID, result.ExecutionID)
		return nil
	},
}

func init() {
	flags := planCmd.Flags()
	flags.StringVar(&planGoal, "goal", "", "the natural-language goal text to plan")
	flags.StringVar(&planAgent, "agent", "", "agent name to plan with (overrides --default-agent)")
	flags.StringVar(&planSystemPromptFile, "system-prompt-file", "", "seed/replace the agent's system prompt template from this file before planning")
	flags.StringVar(&planTitleSystemPromptFile, "title-system-prompt-file", "", "seed/replace the title agent's system prompt template from this file")
	flags.BoolVar(&planExecute, "execute", false, "also run the executor against the planned DAG")
	rootCmd.AddCommand(planCmd)
}

func seedAgentIfRequested(ctx context.Context, a *app, name, templateFile string, isTitleAgent bool) error {
	if templateFile == "" {
		return nil
	}
	data, err := os.ReadFile(templateFile)
	if err != nil {
		return fmt.Errorf("dagrunctl: read %s: %w", templateFile, err)
	}
	return a.repo.PutAgent(ctx, job.Agent{
		Name:                 name,
		SystemPromptTemplate: string(data),
		DefaultModel:         "",
		DefaultMaxTokens:     4096,
		IsTitleAgent:         isTitleAgent,
	})
}

func printPlanResult(result service.CreateDAGResult) error {
	switch result.Status {
	case service.StatusClarificationRequired:
		fmt.Printf("clarification_required: %s\n", result.ClarificationQuery)
	case service.StatusCreated:
		fmt.Printf("created: dag_id=%s sub_tasks=%d coverage=%s\n", result.DAGID, len(result.Job.SubTasks), result.Job.Validation.Coverage)
	default:
		fmt.Printf("status=%s\n", result.Status)
	}
	return nil
}
