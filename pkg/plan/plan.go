// Package plan holds the set of pipeline stages enabled for one run.
package plan

import (
	"fmt"
	"strings"
)

type Stage string

const (
	StageReset       Stage = "reset"
	StageSearch      Stage = "search"
	StageFlatten     Stage = "flatten"
	StageAlign       Stage = "align"
	StageConcatenate Stage = "concatenate"
	StagePublish     Stage = "publish"
)

// Order in which stages run.
var order = []Stage{StageReset, StageSearch, StageFlatten, StageAlign, StageConcatenate, StagePublish}

// Autopilot is the stage set of a full unattended run.
var Autopilot = []Stage{StageSearch, StageFlatten, StageAlign, StageConcatenate}

// Plan is immutable; Disable returns a new value.
type Plan struct {
	enabled map[Stage]bool
}

func New(stages ...Stage) Plan {
	p := Plan{enabled: make(map[Stage]bool, len(stages))}
	for _, s := range stages {
		p.enabled[s] = true
	}
	return p
}

// Parse reads a comma separated command list such as "search,flatten".
// "autopilot" expands to the autopilot stages.
func Parse(commands string) (Plan, error) {
	var stages []Stage
	for _, c := range strings.Split(commands, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if c == "autopilot" {
			stages = append(stages, Autopilot...)
			continue
		}
		s := Stage(c)
		if !known(s) {
			return Plan{}, fmt.Errorf("unknown command %q", c)
		}
		stages = append(stages, s)
	}
	if len(stages) == 0 {
		return Plan{}, fmt.Errorf("no commands given")
	}
	return New(stages...), nil
}

func known(s Stage) bool {
	for _, o := range order {
		if o == s {
			return true
		}
	}
	return false
}

func (p Plan) Enabled(s Stage) bool {
	return p.enabled[s]
}

func (p Plan) Disable(stages ...Stage) Plan {
	next := Plan{enabled: make(map[Stage]bool, len(p.enabled))}
	for s, on := range p.enabled {
		next.enabled[s] = on
	}
	for _, s := range stages {
		delete(next.enabled, s)
	}
	return next
}

// Stages lists enabled stages in execution order.
func (p Plan) Stages() []Stage {
	out := make([]Stage, 0, len(p.enabled))
	for _, s := range order {
		if p.enabled[s] {
			out = append(out, s)
		}
	}
	return out
}

func (p Plan) String() string {
	names := make([]string, 0, len(p.enabled))
	for _, s := range p.Stages() {
		names = append(names, string(s))
	}
	return strings.Join(names, ",")
}
