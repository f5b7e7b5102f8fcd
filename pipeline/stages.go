package pipeline

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/encoding/fastq"
	"github.com/grailbio/tgirt/feature"
	"github.com/grailbio/tgirt/reassign"
	"github.com/grailbio/tgirt/tools"
	"v.io/x/lib/vlog"
)

// DefaultRegistry returns the TGIRT-seq stage graph:
//
//	trim -> premap -> {splice-align, local-align} -> merge -> [dedup]
//	     -> feature-bed -> remap -> {count-trna, count-rrna, count-all}
//
// Remap also reads the trimmed reads and the premap alignments, and the
// count stages also read the fragments.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Stage{
			ID:       Trim,
			Name:     "trim",
			Inputs:   func(s *Sample) []string { return s.reads() },
			Outputs:  func(s *Sample) []string { return s.Trimmed() },
			Skip:     func(o Opts) bool { return o.SkipTrim },
			External: true,
			Run:      runTrim,
		},
		&Stage{
			ID:     Premap,
			Name:   "premap",
			Deps:   []StageID{Trim},
			Inputs: func(s *Sample) []string { return s.Trimmed() },
			Outputs: func(s *Sample) []string {
				out := []string{s.PremapSAM(feature.TRNA), s.PremapSAM(feature.RRNA)}
				out = append(out, s.mates(s.premapUnaligned(feature.TRNA))...)
				return append(out, s.PremapUnaligned()...)
			},
			Skip:     func(o Opts) bool { return o.SkipPremap },
			External: true,
			Run:      runPremap,
		},
		&Stage{
			ID:   SpliceAlign,
			Name: "splice-align",
			Deps: []StageID{Premap},
			Inputs: func(s *Sample) []string {
				return append(s.PremapUnaligned(), s.Opts.SpliceSites)
			},
			Outputs:  func(s *Sample) []string { return []string{s.SpliceSAM()} },
			Skip:     func(o Opts) bool { return o.SkipSpliceAlign },
			External: true,
			Run:      runSpliceAlign,
		},
		&Stage{
			ID:       LocalAlign,
			Name:     "local-align",
			Deps:     []StageID{Premap},
			Inputs:   func(s *Sample) []string { return s.PremapUnaligned() },
			Outputs:  func(s *Sample) []string { return []string{s.LocalSAM()} },
			Skip:     func(o Opts) bool { return o.SkipLocalAlign },
			External: true,
			Run:      runLocalAlign,
		},
		&Stage{
			ID:      Merge,
			Name:    "merge",
			Deps:    []StageID{SpliceAlign, LocalAlign},
			Inputs:  func(s *Sample) []string { return []string{s.SpliceSAM(), s.LocalSAM()} },
			Outputs: func(s *Sample) []string { return []string{s.MergedBAM(), s.MergeStats()} },
			Skip:    func(o Opts) bool { return o.SkipPostProcess },
			Run:     runMerge,
		},
		&Stage{
			ID:       Dedup,
			Name:     "dedup",
			Deps:     []StageID{Merge},
			Inputs:   func(s *Sample) []string { return []string{s.MergedBAM()} },
			Outputs:  func(s *Sample) []string { return []string{s.DedupBAM()} },
			Skip:     func(o Opts) bool { return o.SkipPostProcess || !o.Dedup() },
			External: true,
			Run:      runDedup,
		},
		&Stage{
			ID:      FeatureConversion,
			Name:    "feature-bed",
			Deps:    []StageID{Merge, Dedup},
			Inputs:  func(s *Sample) []string { return []string{s.CountBAM(), s.Opts.FeatureDir} },
			Outputs: func(s *Sample) []string { return []string{s.Fragments()} },
			Skip:    func(o Opts) bool { return o.SkipPostProcess },
			Run:     runFeatureConversion,
		},
		&Stage{
			ID:   Remap,
			Name: "remap",
			Deps: []StageID{FeatureConversion, Premap, Trim},
			Inputs: func(s *Sample) []string {
				in := []string{s.Fragments(), s.PremapSAM(feature.TRNA), s.PremapSAM(feature.RRNA), s.Opts.FeatureDir}
				return append(in, s.Trimmed()...)
			},
			Outputs: func(s *Sample) []string {
				return append(s.RemapCandidates(), s.RemapSAM(), s.Assignments())
			},
			Skip:     func(o Opts) bool { return o.SkipRemap },
			External: true,
			Run:      runRemap,
		},
		countStage(CountTRNA, "count-trna", feature.TRNA),
		countStage(CountRRNA, "count-rrna", feature.RRNA),
		countStage(CountAll, "count-all", feature.Genes),
	)
}

// reads returns the user's FASTQ files.
func (s *Sample) reads() []string {
	if s.Opts.Paired() {
		return []string{s.Opts.R1, s.Opts.R2}
	}
	return []string{s.Opts.R1}
}

func alignRequest(s *Sample, index string, in []string, sam string) tools.AlignRequest {
	req := tools.AlignRequest{Index: index, R1: in[0], SAM: sam, Threads: s.Opts.Threads}
	if len(in) > 1 {
		req.R2 = in[1]
	}
	return req
}

func runTrim(ctx context.Context, env *Env) error {
	s := env.Sample
	out := s.Trimmed()
	req := tools.TrimRequest{
		R1:        s.Opts.R1,
		R2:        s.Opts.R2,
		OutR1:     out[0],
		UMILength: s.Opts.UMILength,
		TTN:       s.Opts.TTN,
		Threads:   s.Opts.Threads,
	}
	if len(out) > 1 {
		req.OutR2 = out[1]
	}
	return env.Tools.Trimmer.Trim(ctx, env.Runner, req)
}

// runPremap aligns the trimmed reads to the tRNA index, then the reads
// left over to the rRNA index.
func runPremap(ctx context.Context, env *Env) error {
	s := env.Sample
	index := [feature.NumUniverses]string{feature.TRNA: s.Opts.TRNAIndex, feature.RRNA: s.Opts.RRNAIndex}
	in := s.Trimmed()
	for _, u := range feature.SmallRNA {
		req := alignRequest(s, index[u], in, s.PremapSAM(u))
		req.Unaligned = s.premapUnaligned(u)
		if err := env.Tools.LocalAligner.Align(ctx, env.Runner, req); err != nil {
			return err
		}
		in = s.mates(req.Unaligned)
	}
	return nil
}

func runSpliceAlign(ctx context.Context, env *Env) error {
	s := env.Sample
	req := alignRequest(s, s.Opts.HisatIndex, s.PremapUnaligned(), s.SpliceSAM())
	req.SpliceSites = s.Opts.SpliceSites
	return env.Tools.SpliceAligner.Align(ctx, env.Runner, req)
}

func runLocalAlign(ctx context.Context, env *Env) error {
	s := env.Sample
	return env.Tools.LocalAligner.Align(ctx, env.Runner, alignRequest(s, s.Opts.Bowtie2Index, s.PremapUnaligned(), s.LocalSAM()))
}

func openSources(ctx context.Context, paths []string, aligners []align.Aligner) ([]align.Source, error) {
	var sources []align.Source
	for i, path := range paths {
		src, err := align.OpenSource(ctx, path, aligners[i])
		if err != nil {
			for _, s := range sources {
				s.Close() // nolint: errcheck
			}
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func runMerge(ctx context.Context, env *Env) error {
	s := env.Sample
	if env.Dry {
		log.Printf("merge: would merge %s and %s into %s", s.SpliceSAM(), s.LocalSAM(), s.MergedBAM())
		return nil
	}
	sources, err := openSources(ctx,
		[]string{s.SpliceSAM(), s.LocalSAM()},
		[]align.Aligner{align.SpliceAligner, align.LocalAligner})
	if err != nil {
		return err
	}
	header, err := align.MergeHeaders(sources[0].Header(), sources[1].Header())
	if err != nil {
		for _, src := range sources {
			src.Close() // nolint: errcheck
		}
		return err
	}
	res, err := align.Merge(sources, align.MergeOpts{MinMapQ: s.Opts.MinMapQ, UMILength: s.Opts.UMILength})
	if err != nil {
		return err
	}
	if err := align.WriteBAM(ctx, s.MergedBAM(), header, res.Reads); err != nil {
		return err
	}
	if err := align.WriteStats(ctx, s.MergeStats(), s.Name, res.Stats); err != nil {
		return err
	}
	log.Printf("merge: %v", res.Stats)
	env.Report.Merge = &res.Stats
	return nil
}

func runDedup(ctx context.Context, env *Env) error {
	s := env.Sample
	return env.Tools.Deduplicator.Dedup(ctx, env.Runner, tools.DedupRequest{
		In:      s.MergedBAM(),
		Out:     s.DedupBAM(),
		Paired:  s.Opts.Paired(),
		Threads: s.Opts.Threads,
	})
}

func runFeatureConversion(ctx context.Context, env *Env) error {
	s := env.Sample
	if env.Dry {
		log.Printf("feature-bed: would convert %s into %s", s.CountBAM(), s.Fragments())
		return nil
	}
	features, err := env.Features(ctx)
	if err != nil {
		return err
	}
	src, err := align.OpenSource(ctx, s.CountBAM(), align.SpliceAligner)
	if err != nil {
		return err
	}
	res, err := align.Merge([]align.Source{src}, align.MergeOpts{MinMapQ: s.Opts.MinMapQ})
	if err != nil {
		return err
	}
	frags := align.ToFragments(res.Reads, features, align.ConvertOpts{Strandedness: env.Strandedness})
	if err := align.WriteFragmentFile(ctx, s.Fragments(), frags); err != nil {
		return err
	}
	env.frags, env.fragsLoaded = frags, true
	log.Printf("feature-bed: %d fragments written to %s", len(frags), s.Fragments())
	return nil
}

// readPremap returns the reads that aligned during premap, with the
// universes of the indices they aligned to, in order of appearance.
func readPremap(ctx context.Context, s *Sample) (map[string]feature.UniverseSet, []string, error) {
	var (
		premapped = map[string]feature.UniverseSet{}
		order     []string
	)
	for _, u := range feature.SmallRNA {
		src, err := align.OpenSource(ctx, s.PremapSAM(u), align.LocalAligner)
		if err != nil {
			return nil, nil, err
		}
		res, err := align.Merge([]align.Source{src}, align.MergeOpts{})
		if err != nil {
			return nil, nil, errors.E(err, "premap", u.String())
		}
		for _, r := range res.Reads {
			us, ok := premapped[r.Name]
			if !ok {
				order = append(order, r.Name)
			}
			us.Add(u)
			premapped[r.Name] = us
		}
		vlog.VI(1).Infof("premap %v: %d reads", u, len(res.Reads))
	}
	return premapped, order, nil
}

// runRemap re-aligns the small-RNA candidates to the combined index and
// resolves them.
func runRemap(ctx context.Context, env *Env) error {
	s := env.Sample
	req := alignRequest(s, s.Opts.CombinedIndex, s.RemapCandidates(), s.RemapSAM())
	req.MaxAlignments = s.Opts.RemapMaxAlignments
	if env.Dry {
		log.Printf("remap: would extract candidates of %s into %v", s.Fragments(), s.RemapCandidates())
		return env.Tools.LocalAligner.Align(ctx, env.Runner, req)
	}
	features, err := env.Features(ctx)
	if err != nil {
		return err
	}
	frags, err := env.Fragments(ctx)
	if err != nil {
		return err
	}
	premapped, order, err := readPremap(ctx, s)
	if err != nil {
		return err
	}
	candidates := reassign.Candidates(frags, premapped, order)
	keep := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		keep[c.Read] = true
	}
	n, err := fastq.Extract(ctx, s.Trimmed(), s.RemapCandidates(), keep)
	if err != nil {
		return err
	}
	log.Printf("remap: %d candidates, %d extracted from %v", len(candidates), n, s.Trimmed())
	if err := env.Tools.LocalAligner.Align(ctx, env.Runner, req); err != nil {
		return err
	}
	src, err := align.OpenSource(ctx, s.RemapSAM(), align.LocalAligner)
	if err != nil {
		return err
	}
	remapped, err := align.Merge([]align.Source{src}, align.MergeOpts{})
	if err != nil {
		return err
	}
	engine := reassign.NewEngine(features, reassign.Opts{Strandedness: env.Strandedness})
	assignments := engine.Run(candidates, remapped)
	if err := reassign.WriteFile(ctx, s.Assignments(), assignments, engine.Stats); err != nil {
		return err
	}
	stats := engine.Stats
	env.Report.Remap = &stats
	env.assignments, env.assignmentsLoaded = assignments, true
	log.Printf("remap: %d candidates, %d realigned, %d unknown references, %d wrong strand",
		stats.Candidates, stats.Realigned, stats.UnknownRefs, stats.WrongStrand)
	return nil
}

func countStage(id StageID, name string, u feature.Universe) *Stage {
	return &Stage{
		ID:   id,
		Name: name,
		Deps: []StageID{Remap, FeatureConversion},
		Inputs: func(s *Sample) []string {
			if u == feature.Genes {
				return []string{s.Fragments(), s.Opts.FeatureDir}
			}
			return []string{s.Assignments(), s.Opts.FeatureDir}
		},
		Outputs: func(s *Sample) []string { return []string{s.CountTable(u)} },
		Skip:    func(o Opts) bool { return o.SkipCount },
		Run: func(ctx context.Context, env *Env) error {
			path := env.Sample.CountTable(u)
			if env.Dry {
				log.Printf("%s: would write %s", name, path)
				return nil
			}
			tables, err := env.Tables(ctx)
			if err != nil {
				return err
			}
			if err := tables[u].WriteFile(ctx, path); err != nil {
				return err
			}
			sum := tables[u].Summary()
			env.Report.Counts = append(env.Report.Counts, sum)
			log.Printf("%s: %v", name, sum)
			return nil
		},
	}
}
