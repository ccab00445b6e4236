// Package workflowfile implements the WorkflowProvider port of
// spec.md §6.3: a YAML workflow-source loader that compiles each
// source file into a statemachine.CompiledWorkflow, pins its
// canonical form into a content-addressed store, and serves it by
// workflowId — with fsnotify watching the source directory so a
// long-lived server picks up new or edited files without restart.
// Grounded on roach88-nysm's yaml.v3-tagged scenario-file structs for
// the source schema, and vinayprograms-agent's fsnotify watch loop
// (graph/replay/pager.go's RunLive) for the reload discipline.
package workflowfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/durableflow/engine/corepkg/reason"
	"github.com/durableflow/engine/corepkg/statemachine"
)

// StepSource is one step of a workflow source file.
type StepSource struct {
	StepId                 string       `yaml:"stepId"`
	Next                   string       `yaml:"next,omitempty"`
	Branches               []BranchRule `yaml:"branches,omitempty"`
	RequiredOutputContract string       `yaml:"requiredOutputContract,omitempty"`
}

// BranchRule routes to Next when the merged context's value at Key
// equals Equals; branches are evaluated in file order, first match
// wins, falling back to the step's plain Next if none match.
type BranchRule struct {
	Key    string `yaml:"key"`
	Equals string `yaml:"equals"`
	Next   string `yaml:"next"`
}

// Source is the on-disk shape of one workflow file. RecommendedAutonomy
// and RecommendedRiskPolicy are the workflow author's advertised
// preferences (spec.md §4.7's "workflow-recommended" baseline); a
// continueWorkflow request whose effective preference exceeds them
// records a warning gap rather than being rejected outright. Both
// default to the most conservative setting when the file omits them.
type Source struct {
	WorkflowId            string       `yaml:"workflowId"`
	RecommendedAutonomy   string       `yaml:"recommendedAutonomy,omitempty"`
	RecommendedRiskPolicy string       `yaml:"recommendedRiskPolicy,omitempty"`
	Steps                 []StepSource `yaml:"steps"`
}

// Autonomy returns the source's recommended autonomy, defaulting to
// the strictest (guided) when unset.
func (s Source) Autonomy() reason.Autonomy {
	if s.RecommendedAutonomy == "" {
		return reason.AutonomyGuided
	}
	return reason.Autonomy(s.RecommendedAutonomy)
}

// RiskPolicy returns the source's recommended risk policy, defaulting
// to the strictest (conservative) when unset.
func (s Source) RiskPolicy() reason.RiskPolicy {
	if s.RecommendedRiskPolicy == "" {
		return reason.RiskConservative
	}
	return reason.RiskPolicy(s.RecommendedRiskPolicy)
}

// LoadSourceFile reads and parses one YAML workflow file.
func LoadSourceFile(path string) (Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("workflowfile: read %s: %w", path, err)
	}
	var src Source
	if err := yaml.Unmarshal(raw, &src); err != nil {
		return Source{}, fmt.Errorf("workflowfile: parse %s: %w", path, err)
	}
	if src.WorkflowId == "" {
		return Source{}, fmt.Errorf("workflowfile: %s missing workflowId", path)
	}
	if len(src.Steps) == 0 {
		return Source{}, fmt.Errorf("workflowfile: %s has no steps", path)
	}
	return src, nil
}

// EntryStepId returns the workflowId's entry point: the first step
// listed in the source file, by convention (the same "first
// declaration wins" rule roach88-nysm's CUE concept loader applies to
// its own declaration-ordered specs).
func (s Source) EntryStepId() string {
	return s.Steps[0].StepId
}

// compiled adapts a Source into statemachine.CompiledWorkflow by
// stepId lookup.
type compiled struct {
	steps map[string]StepSource
}

// Compile builds the routing table Next's RouteNext consults. It does
// not validate that every Next/branch target names a real step —
// RouteNext simply treats an unknown target as "no such step, run
// completes", the same permissive-replay posture projection.BuildDAG
// takes toward unknown references.
func Compile(src Source) statemachine.CompiledWorkflow {
	steps := make(map[string]StepSource, len(src.Steps))
	for _, s := range src.Steps {
		steps[s.StepId] = s
	}
	return &compiled{steps: steps}
}

func (c *compiled) RouteNext(stepID string, loopPath []statemachine.LoopFrame, context map[string]any, _ []any) (*statemachine.PendingStep, []statemachine.TraceEntry) {
	step, ok := c.steps[stepID]
	if !ok {
		return nil, []statemachine.TraceEntry{{Summary: fmt.Sprintf("step %q not found in compiled workflow, completing run", stepID)}}
	}

	nextID := step.Next
	var trace []statemachine.TraceEntry
	for _, branch := range step.Branches {
		if fmt.Sprintf("%v", context[branch.Key]) == branch.Equals {
			nextID = branch.Next
			trace = append(trace, statemachine.TraceEntry{
				Summary: fmt.Sprintf("branch matched: context[%q] == %q, routing to %q", branch.Key, branch.Equals, branch.Next),
			})
			break
		}
	}

	if nextID == "" {
		return nil, trace
	}
	return &statemachine.PendingStep{StepId: nextID, LoopPath: loopPath}, trace
}
