// Command dagrunctl drives the DAG Planner, Executor, and Scheduler from the
// command line: `serve` runs the scheduler against a persisted set of
// active DAGs, `migrate` applies the relational schema, and `plan` runs the
// planner against a goal text for local iteration (and, with `--execute`,
// also executes the planned DAG).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
