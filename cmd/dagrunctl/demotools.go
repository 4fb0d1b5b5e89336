package main

import (
	"fmt"

	"github.com/dagrun/dagrun/internal/tools"
)

// registerDemoTools wires a couple of trivial Tool implementations so
// `dagrunctl plan`/`serve` can dispatch a sub-task end to end without a real
// web-search or fetch backend configured. Tool implementations themselves
// are a collaborator the core spec treats as an interface; these exist only
// to exercise the Registry/Resolver/Executor wiring locally.
func registerDemoTools(registry *tools.Registry) {
	registry.Register(tools.NewFuncTool(
		"echo",
		"Returns its input params verbatim, for exercising the executor without external effects.",
		mustSchema(map[string]any{
			"type":                 "object",
			"additionalProperties": true,
		}),
		func(ec tools.ExecContext, input map[string]any) (any, error) {
			return input, nil
		},
	))

	registry.Register(tools.NewFuncTool(
		"fetchURLs",
		"Accepts a list of URLs (resolved from prior task results) and reports them back without fetching.",
		mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"urls": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required":             []any{"urls"},
			"additionalProperties": true,
		}),
		func(ec tools.ExecContext, input map[string]any) (any, error) {
			var urls []string
			switch v := input["urls"].(type) {
			case []string:
				urls = v
			case []any:
				for _, item := range v {
					if u, ok := item.(string); ok {
						urls = append(urls, u)
					}
				}
			}
			ec.Progress(fmt.Sprintf("received %d url(s)", len(urls)), urls)
			return map[string]any{"fetched": urls}, nil
		},
	))
}

func mustSchema(doc map[string]any) *tools.Schema {
	schema, err := tools.NewSchema(doc)
	if err != nil {
		panic(fmt.Sprintf("dagrunctl: invalid demo tool schema: %v", err))
	}
	return schema
}
