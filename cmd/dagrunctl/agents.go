package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dagrun/dagrun/internal/job"
)

// agentManifest is the on-disk shape for `dagrunctl agents load`: a list of
// agent definitions keyed by name, seeded in one pass instead of one
// --system-prompt-file flag per agent.
type agentManifest struct {
	Agents []agentManifestEntry `yaml:"agents"`
}

type agentManifestEntry struct {
	Name                   string  `yaml:"name"`
	SystemPromptFile       string  `yaml:"system_prompt_file"`
	SystemPrompt           string  `yaml:"system_prompt"`
	DefaultModel           string  `yaml:"default_model"`
	DefaultTemperature     float64 `yaml:"default_temperature"`
	DefaultMaxTokens       int     `yaml:"default_max_tokens"`
	DefaultReasoningEffort string  `yaml:"default_reasoning_effort"`
	IsTitleAgent           bool    `yaml:"is_title_agent"`
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agent definitions",
}

var agentsLoadCmd = &cobra.Command{
	Use:   "load <manifest.yaml>",
	Short: "Seed or replace agent definitions from a YAML manifest",
	Long: "Reads a YAML manifest listing one or more agent definitions and " +
		"upserts each via the repository, so a fleet of agents can be " +
		"provisioned in one pass instead of one flag per agent.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		agents, err := loadAgentManifest(args[0])
		if err != nil {
			return err
		}
		for _, ag := range agents {
			if err := a.repo.PutAgent(ctx, ag); err != nil {
				return fmt.Errorf("dagrunctl: put agent %q: %w", ag.Name, err)
			}
			fmt.Printf("seeded agent %q (title_agent=%v)\n", ag.Name, ag.IsTitleAgent)
		}
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsLoadCmd)
	rootCmd.AddCommand(agentsCmd)
}

func loadAgentManifest(path string) ([]job.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dagrunctl: read manifest %s: %w", path, err)
	}

	var manifest agentManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("dagrunctl: parse manifest %s: %w", path, err)
	}

	agents := make([]job.Agent, 0, len(manifest.Agents))
	for _, entry := range manifest.Agents {
		if entry.Name == "" {
			return nil, fmt.Errorf("dagrunctl: manifest %s: agent entry missing name", path)
		}
		prompt := entry.SystemPrompt
		if entry.SystemPromptFile != "" {
			promptData, err := os.ReadFile(entry.SystemPromptFile)
			if err != nil {
				return nil, fmt.Errorf("dagrunctl: read system_prompt_file for %q: %w", entry.Name, err)
			}
			prompt = string(promptData)
		}
		maxTokens := entry.DefaultMaxTokens
		if maxTokens == 0 {
			maxTokens = 4096
		}
		agents = append(agents, job.Agent{
			Name:                   entry.Name,
			SystemPromptTemplate:   prompt,
			DefaultModel:           entry.DefaultModel,
			DefaultTemperature:     entry.DefaultTemperature,
			DefaultMaxTokens:       maxTokens,
			DefaultReasoningEffort: entry.DefaultReasoningEffort,
			IsTitleAgent:           entry.IsTitleAgent,
		})
	}
	return agents, nil
}
