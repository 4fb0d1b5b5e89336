package planner

import (
	"strconv"

	"github.com/dagrun/dagrun/internal/job"
)

// RenumberSubTasks rewrites sub-task ids to the dense sequence "1".."N" in
// their existing slice order, rewriting every dependency reference to match.
// The "none" sentinel is left untouched. This only runs on the
// success_high_coverage path; the model's own ids are not trusted to be
// compact or monotone.
func RenumberSubTasks(j job.Job) job.Job {
	oldToNew := make(map[string]string, len(j.SubTasks))
	for i, t := range j.SubTasks {
		oldToNew[t.ID] = strconv.Itoa(i + 1)
	}

	out := j
	out.SubTasks = make([]job.SubTask, len(j.SubTasks))
	for i, t := range j.SubTasks {
		nt := t
		nt.ID = oldToNew[t.ID]
		if !t.HasNoDependencies() {
			deps := make([]string, len(t.Dependencies))
			for k, d := range t.Dependencies {
				if newID, ok := oldToNew[d]; ok {
					deps[k] = newID
				} else {
					deps[k] = d
				}
			}
			nt.Dependencies = deps
		} else {
			nt.Dependencies = append([]string(nil), t.Dependencies...)
		}
		out.SubTasks[i] = nt
	}
	return out
}
