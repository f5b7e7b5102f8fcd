package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
)

// StageID identifies a stage. Topological ties are broken by ID.
type StageID int

// The stages of a run.
const (
	Trim StageID = iota
	Premap
	SpliceAlign
	LocalAlign
	Merge
	Dedup
	FeatureConversion
	Remap
	CountTRNA
	CountRRNA
	CountAll
)

// Stage is one step of a run. A stage truncates and rewrites all of its
// outputs, so running it again is safe.
type Stage struct {
	ID   StageID
	Name string
	Deps []StageID
	// Inputs and Outputs list the files the stage reads and writes.
	Inputs  func(s *Sample) []string
	Outputs func(s *Sample) []string
	// Skip reports whether the options exclude the stage.
	Skip func(o Opts) bool
	// External is set for stages that run external programs.
	External bool
	Run      func(ctx context.Context, env *Env) error
}

func (st *Stage) String() string { return st.Name }

// Registry is a set of stages forming a DAG.
type Registry struct {
	stages []*Stage
	byID   map[StageID]*Stage
}

// NewRegistry creates a registry of the given stages. It does not
// validate them; see Validate.
func NewRegistry(stages ...*Stage) *Registry {
	r := &Registry{byID: map[StageID]*Stage{}}
	for _, st := range stages {
		r.stages = append(r.stages, st)
		if _, ok := r.byID[st.ID]; !ok {
			r.byID[st.ID] = st
		}
	}
	return r
}

// Stage returns the stage with the given ID, or nil.
func (r *Registry) Stage(id StageID) *Stage { return r.byID[id] }

// Validate checks that stage IDs are unique, that every dependency is a
// known stage, that the dependency graph has no cycles, and, for sample s,
// that every input of a stage is either a user input or an output of one
// of its dependencies.
func (r *Registry) Validate(s *Sample) error {
	if len(r.byID) != len(r.stages) {
		return errors.E(errors.Invalid, "pipeline: duplicate stage IDs")
	}
	for _, st := range r.stages {
		for _, d := range st.Deps {
			if r.byID[d] == nil {
				return errors.E(errors.Invalid, fmt.Sprintf("pipeline: stage %s depends on unknown stage %d", st, d))
			}
		}
	}
	if _, err := r.Order(); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	user := map[string]bool{}
	for _, p := range s.UserInputs() {
		user[p] = true
	}
	for _, st := range r.stages {
		if st.Inputs == nil {
			continue
		}
		produced := map[string]bool{}
		for _, d := range st.Deps {
			if dep := r.byID[d]; dep.Outputs != nil {
				for _, p := range dep.Outputs(s) {
					produced[p] = true
				}
			}
		}
		for _, p := range st.Inputs(s) {
			if !user[p] && !produced[p] {
				return errors.E(errors.Invalid, fmt.Sprintf("pipeline: input %s of stage %s is not produced by its dependencies", p, st))
			}
		}
	}
	return nil
}

// Order returns the stages in topological order, using Kahn's algorithm.
// Among stages whose dependencies are done, the lowest ID comes first.
func (r *Registry) Order() ([]*Stage, error) {
	indegree := map[StageID]int{}
	users := map[StageID][]StageID{}
	for _, st := range r.stages {
		indegree[st.ID] += 0
		for _, d := range st.Deps {
			indegree[st.ID]++
			users[d] = append(users[d], st.ID)
		}
	}
	var ready []StageID
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	var order []*Stage
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, r.byID[id])
		for _, u := range users[id] {
			if indegree[u]--; indegree[u] == 0 {
				ready = append(ready, u)
			}
		}
	}
	if len(order) != len(indegree) {
		return nil, errors.E(errors.Invalid, "pipeline: stage dependencies form a cycle")
	}
	return order, nil
}

// Plan is the result of stage selection.
type Plan struct {
	// Stages are the stages to run, in order.
	Stages []*Stage
	// Skipped are the stages excluded by the options, in order.
	Skipped []*Stage

	registry *Registry
}

// Select returns the stages that opts enables, in topological order. It
// does not touch the file system.
func (r *Registry) Select(opts Opts) (*Plan, error) {
	order, err := r.Order()
	if err != nil {
		return nil, err
	}
	p := &Plan{registry: r}
	for _, st := range order {
		if st.Skip != nil && st.Skip(opts) {
			p.Skipped = append(p.Skipped, st)
			continue
		}
		p.Stages = append(p.Stages, st)
	}
	return p, nil
}

// Names returns the names of the selected stages.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		names[i] = st.Name
	}
	return names
}

// Unsatisfied is an input of a selected stage whose producer does not run.
type Unsatisfied struct {
	Stage    *Stage
	Input    string
	Producer *Stage
}

// Unsatisfied lists the inputs of selected stages whose producing stage
// was skipped. Those files must already exist when the run starts.
func (p *Plan) Unsatisfied(s *Sample) []Unsatisfied {
	selected := map[StageID]bool{}
	for _, st := range p.Stages {
		selected[st.ID] = true
	}
	var out []Unsatisfied
	for _, st := range p.Stages {
		if st.Inputs == nil {
			continue
		}
		for _, in := range st.Inputs(s) {
			if prod := p.registry.producer(st, in, s); prod != nil && !selected[prod.ID] {
				out = append(out, Unsatisfied{Stage: st, Input: in, Producer: prod})
			}
		}
	}
	return out
}

// producer returns the dependency of st that writes path, or nil for user
// inputs.
func (r *Registry) producer(st *Stage, path string, s *Sample) *Stage {
	for _, d := range st.Deps {
		dep := r.byID[d]
		if dep == nil || dep.Outputs == nil {
			continue
		}
		for _, p := range dep.Outputs(s) {
			if p == path {
				return dep
			}
		}
	}
	return nil
}
