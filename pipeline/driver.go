package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/count"
	"github.com/grailbio/tgirt/feature"
	"github.com/grailbio/tgirt/reassign"
	"github.com/grailbio/tgirt/tools"
	"v.io/x/lib/vlog"
)

// Tools are the external programs of a run.
type Tools struct {
	// Runner executes the programs. Dry runs replace it.
	Runner        tools.Runner
	Trimmer       tools.Trimmer
	SpliceAligner tools.SpliceAligner
	LocalAligner  tools.LocalAligner
	Deduplicator  tools.Deduplicator
}

// DefaultTools runs cutadapt, hisat2, bowtie2, samtools and umi_tools from
// PATH.
func DefaultTools() Tools {
	return Tools{
		Runner:        tools.ExecRunner{},
		Trimmer:       tools.DefaultCutadapt,
		SpliceAligner: tools.HISAT2{},
		LocalAligner:  tools.DefaultBowtie2,
		Deduplicator:  tools.UMITools{},
	}
}

// withDefaults fills the unset fields of t from DefaultTools.
func (t Tools) withDefaults() Tools {
	d := DefaultTools()
	if t.Runner == nil {
		t.Runner = d.Runner
	}
	if t.Trimmer == nil {
		t.Trimmer = d.Trimmer
	}
	if t.SpliceAligner == nil {
		t.SpliceAligner = d.SpliceAligner
	}
	if t.LocalAligner == nil {
		t.LocalAligner = d.LocalAligner
	}
	if t.Deduplicator == nil {
		t.Deduplicator = d.Deduplicator
	}
	return t
}

// Env is the state shared by the stages of one run. Loaded inputs are
// memoized so that later stages reuse what earlier ones read or wrote.
type Env struct {
	Sample *Sample
	Tools  Tools
	// Runner executes external programs: Tools.Runner, or a dry runner.
	Runner       tools.Runner
	Report       *RunReport
	Dry          bool
	Strandedness align.Strandedness

	policies          feature.Policies
	features          *feature.Set
	frags             []align.Fragment
	fragsLoaded       bool
	assignments       []reassign.Assignment
	assignmentsLoaded bool
	tables            *count.Tables
}

// Features returns the annotation of the run.
func (e *Env) Features(ctx context.Context) (*feature.Set, error) {
	if e.features == nil {
		features, err := feature.Load(ctx, e.Sample.Opts.FeatureDir, e.policies)
		if err != nil {
			return nil, err
		}
		e.features = features
	}
	return e.features, nil
}

// Fragments returns the fragments of the sample.
func (e *Env) Fragments(ctx context.Context) ([]align.Fragment, error) {
	if !e.fragsLoaded {
		frags, err := align.ReadFragmentFile(ctx, e.Sample.Fragments())
		if err != nil {
			return nil, err
		}
		e.frags, e.fragsLoaded = frags, true
	}
	return e.frags, nil
}

// Assignments returns the reassignment results of the sample.
func (e *Env) Assignments(ctx context.Context) ([]reassign.Assignment, error) {
	if !e.assignmentsLoaded {
		assignments, stats, err := reassign.ReadFile(ctx, e.Sample.Assignments())
		if err != nil {
			return nil, err
		}
		if e.Report.Remap == nil {
			e.Report.Remap = &stats
		}
		e.assignments, e.assignmentsLoaded = assignments, true
	}
	return e.assignments, nil
}

// Tables aggregates the count tables of all universes.
func (e *Env) Tables(ctx context.Context) (count.Tables, error) {
	if e.tables != nil {
		return *e.tables, nil
	}
	features, err := e.Features(ctx)
	if err != nil {
		return count.Tables{}, err
	}
	assignments, err := e.Assignments(ctx)
	if err != nil {
		return count.Tables{}, err
	}
	frags, err := e.Fragments(ctx)
	if err != nil {
		return count.Tables{}, err
	}
	tables, err := count.AggregateAll(features, assignments, frags)
	if err != nil {
		return count.Tables{}, err
	}
	e.tables = &tables
	return tables, nil
}

// StageStatus is the outcome of one stage.
type StageStatus string

// Stage outcomes.
const (
	StatusCompleted StageStatus = "completed"
	StatusSkipped   StageStatus = "skipped"
	StatusFailed    StageStatus = "failed"
	StatusDryRun    StageStatus = "dry-run"
)

// StageReport describes the execution of one stage.
type StageReport struct {
	Stage    string
	Status   StageStatus
	Duration time.Duration
}

// RunReport summarizes a run.
type RunReport struct {
	RunID    uuid.UUID
	Sample   string
	Start    time.Time
	Duration time.Duration
	Dry      bool
	// Stages lists the stages in execution order, followed by the skipped
	// ones.
	Stages []StageReport
	// Merge and Remap are set when the merge and remap stages ran.
	Merge *align.MergeStats
	Remap *reassign.Stats
	// Counts holds the summary of every count table written.
	Counts []count.Summary
	// Commands are the command lines of a dry run.
	Commands []tools.Invocation
}

// Stage returns the report of the named stage.
func (r *RunReport) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// StageError is the failure of a stage. Err keeps its kind: missing
// inputs are errors.NotExist.
type StageError struct {
	Sample string
	Stage  string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sample %s: stage %s: %v", e.Sample, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// checkInputs verifies that the inputs of st exist before it runs.
func checkInputs(ctx context.Context, p *Plan, st *Stage, s *Sample) error {
	if st.Inputs == nil {
		return nil
	}
	for _, path := range st.Inputs(s) {
		if _, err := file.Stat(ctx, path); err == nil {
			continue
		}
		if prod := p.registry.producer(st, path, s); prod != nil {
			if s.Completed(prod.ID) {
				return errors.E(errors.NotExist, fmt.Sprintf("stage %s completed without writing %s", prod, path))
			}
			return errors.E(errors.NotExist, fmt.Sprintf("input %s, written by stage %s, does not exist", path, prod))
		}
		if path == s.Opts.FeatureDir {
			// FeatureDir is a directory; Validate checks its contents.
			continue
		}
		return errors.E(errors.NotExist, fmt.Sprintf("input %s does not exist", path))
	}
	return nil
}

// Run executes the stages of DefaultRegistry that opts selects.
func Run(ctx context.Context, opts Opts, t Tools) (*RunReport, error) {
	return RunRegistry(ctx, DefaultRegistry(), opts, t)
}

// RunRegistry executes the stages of reg that opts selects, in dependency
// order. It stops at the first failing stage and returns a *StageError;
// the report covers the stages run so far.
func RunRegistry(ctx context.Context, reg *Registry, opts Opts, t Tools) (*RunReport, error) {
	report := &RunReport{RunID: uuid.New(), Start: time.Now(), Dry: opts.Dry}
	if err := opts.Validate(ctx); err != nil {
		return report, err
	}
	s := NewSample(opts)
	report.Sample = s.Name
	if err := reg.Validate(s); err != nil {
		return report, err
	}
	plan, err := reg.Select(opts)
	if err != nil {
		return report, err
	}
	log.Printf("run %s: sample %s, stages %v", report.RunID, s.Name, plan.Names())
	for _, u := range plan.Unsatisfied(s) {
		log.Printf("stage %s reads %s from skipped stage %s", u.Stage, u.Input, u.Producer)
	}
	strand, _ := opts.Strandedness()
	policies, _ := opts.Policies()
	t = t.withDefaults()
	env := &Env{
		Sample:       s,
		Tools:        t,
		Runner:       t.Runner,
		Report:       report,
		Dry:          opts.Dry,
		Strandedness: strand,
		policies:     policies,
	}
	var dry *tools.DryRunner
	if opts.Dry {
		dry = &tools.DryRunner{}
		env.Runner = dry
	} else {
		for _, dir := range s.Layout.Dirs() {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return report, errors.E(err, "create", dir)
			}
		}
	}

	for _, st := range plan.Stages {
		sr := StageReport{Stage: st.Name, Status: StatusCompleted}
		start := time.Now()
		err := ctx.Err()
		if err == nil && !opts.Dry {
			err = checkInputs(ctx, plan, st, s)
		}
		if err == nil {
			vlog.VI(1).Infof("sample %s: starting stage %s", s.Name, st)
			err = st.Run(ctx, env)
		}
		sr.Duration = time.Since(start)
		if err != nil {
			sr.Status = StatusFailed
			report.Stages = append(report.Stages, sr)
			report.Duration = time.Since(report.Start)
			return report, &StageError{Sample: s.Name, Stage: st.Name, Err: err}
		}
		if opts.Dry {
			sr.Status = StatusDryRun
		}
		report.Stages = append(report.Stages, sr)
		s.MarkCompleted(st.ID)
		log.Printf("sample %s: stage %s %s in %v", s.Name, st, sr.Status, sr.Duration)
	}
	for _, st := range plan.Skipped {
		report.Stages = append(report.Stages, StageReport{Stage: st.Name, Status: StatusSkipped})
	}
	if dry != nil {
		report.Commands = dry.Invocations()
	}
	report.Duration = time.Since(report.Start)
	log.Printf("Finished: %s in %.3f hr", s.Name, report.Duration.Hours())
	return report, nil
}
