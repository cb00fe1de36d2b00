// Package batch reassembles many independent messages concurrently.
package batch

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"example.com/schcgate/internal/common"
	"example.com/schcgate/internal/ingest"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/telemetry"
)

// Job is one message: a name and the supplier of its fragments.
type Job struct {
	Name     string
	Supplier schc.Supplier
}

// Outcome is the finished state of one job. Error is set only when the
// supplier failed; pipeline failures are inside Result.
type Outcome struct {
	Name    string               `json:"name"`
	Result  schc.Result          `json:"result"`
	Error   string               `json:"error,omitempty"`
	Skipped []ingest.SkippedFile `json:"skipped,omitempty"`
}

// Runner fans jobs out over a bounded set of goroutines sharing one engine.
type Runner struct {
	engine      *schc.Engine
	concurrency int
	metrics     *common.Metrics
	recorder    telemetry.Recorder
	logger      zerolog.Logger
}

type Option func(*Runner)

func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithMetrics(m *common.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithRecorder(rec telemetry.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(engine *schc.Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:      engine,
		concurrency: runtime.NumCPU(),
		recorder:    telemetry.Nop{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes jobs and returns their outcomes in job order. emit, when not
// nil, is called once per outcome as it completes, never concurrently; an
// emit error stops the batch. Cancelling ctx stops scheduling new jobs.
func (r *Runner) Run(ctx context.Context, jobs []Job, emit func(Outcome) error) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))
	if r.metrics != nil {
		r.metrics.SetTotalMessages(int64(len(jobs)))
		r.metrics.Start()
		defer r.metrics.Stop()
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	var emitMu sync.Mutex
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		i, job := i, job
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := r.runJob(job)
			outcomes[i] = out
			if emit == nil {
				return nil
			}
			emitMu.Lock()
			defer emitMu.Unlock()
			return emit(out)
		})
	}
	if err := eg.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

func (r *Runner) runJob(job Job) Outcome {
	out := Outcome{Name: job.Name}
	res, err := r.engine.RunSupplier(job.Supplier)
	if ds, ok := job.Supplier.(*ingest.DirSupplier); ok {
		out.Skipped = ds.Skipped
	}
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn().Err(err).Str("message", job.Name).Msg("fragment supplier failed")
		return out
	}
	out.Result = res
	if r.metrics != nil {
		r.metrics.AddResult(res.Outcome(), res.Success, res.Fragments, res.PayloadLength)
	}
	r.recorder.Record(job.Name, res)
	level := zerolog.DebugLevel
	if !res.Success {
		level = zerolog.InfoLevel
	}
	r.logger.WithLevel(level).
		Str("message", job.Name).
		Str("outcome", res.Outcome()).
		Int("fragments", res.Fragments).
		Ints("missing", res.MissingFCNs).
		Msg("message reassembled")
	return out
}

// DirJobs builds one job per record directory under root. Job names are the
// directory paths relative to root.
func DirJobs(root string) ([]Job, error) {
	dirs, err := ingest.MessageDirs(root)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(dirs))
	for _, dir := range dirs {
		sup, err := ingest.OpenDir(dir)
		if err != nil {
			return nil, err
		}
		name, err := filepath.Rel(root, dir)
		if err != nil {
			name = dir
		}
		jobs = append(jobs, Job{Name: filepath.ToSlash(name), Supplier: sup})
	}
	return jobs, nil
}

// SliceJobs builds jobs from in-memory fragment sets keyed by name.
func SliceJobs(messages map[string][]schc.RawFragment) []Job {
	names := make([]string, 0, len(messages))
	for name := range messages {
		names = append(names, name)
	}
	sort.Strings(names)
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, Job{Name: name, Supplier: schc.NewSliceSupplier(messages[name]...)})
	}
	return jobs
}
