// Package build runs paq build passes and the watch session around them.
//
// A pass walks the states Idle, Joining, Minifying, Testing, Documenting and
// back to Idle. Steps whose option is unset are skipped. The first failing
// step moves the pass to Aborted and the remaining steps do not run.
package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/paq/internal/bundle"
	"github.com/conneroisu/paq/internal/config"
	paqerrors "github.com/conneroisu/paq/internal/errors"
	"github.com/conneroisu/paq/internal/logging"
	"github.com/conneroisu/paq/internal/namespace"
	"github.com/conneroisu/paq/internal/scanner"
	"github.com/conneroisu/paq/internal/tools"
	"github.com/conneroisu/paq/internal/version"
)

// TestRunner runs the test step.
type TestRunner interface {
	Run(ctx context.Context, path string) error
}

// Result describes a finished pass.
type Result struct {
	// State is StateIdle for a pass that completed and StateAborted otherwise.
	State State
	// FailedStep is the step that aborted the pass.
	FailedStep State
	Sources    []scanner.Source
	Files      []namespace.SourceFile
	Collisions []bundle.Collision
	Error      error
	Duration   time.Duration
}

// BuildCallback is called when a pass completes
type BuildCallback func(result Result)

// StateHook observes every state change of a pass.
type StateHook func(from, to State)

// Pipeline runs build passes for a fixed set of options.
type Pipeline struct {
	options    config.Options
	version    string
	aggregator *bundle.Aggregator
	minifier   tools.Minifier
	tests      TestRunner
	docs       []tools.DocGenerator
	logger     logging.Logger
	errors     *paqerrors.ErrorHandler
	metrics    *BuildMetrics
	stdout     io.Writer
	stderr     io.Writer

	mutex     sync.RWMutex
	state     State
	hooks     []StateHook
	callbacks []BuildCallback
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMinifier replaces the JavaScript minifier.
func WithMinifier(m tools.Minifier) Option {
	return func(p *Pipeline) { p.minifier = m }
}

// WithTestRunner replaces the test command.
func WithTestRunner(r TestRunner) Option {
	return func(p *Pipeline) { p.tests = r }
}

// WithDocGenerators replaces the generators built from the doxor and docco
// options.
func WithDocGenerators(generators ...tools.DocGenerator) Option {
	return func(p *Pipeline) { p.docs = generators }
}

// WithOutput sets where external tools write their output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *Pipeline) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// NewPipeline creates a pipeline for options.
func NewPipeline(options config.Options, opts ...Option) *Pipeline {
	p := &Pipeline{
		options: options,
		version: version.BundleVersion(options.Version),
		metrics: NewBuildMetrics(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logging.Nop()
	}
	p.logger = p.logger.WithComponent("build")
	p.errors = paqerrors.NewErrorHandler(p.logger)

	p.aggregator = bundle.New(header(options.Header))

	if p.minifier == nil {
		p.minifier = tools.NewJSMinifier()
	}
	if p.tests == nil {
		p.tests = tools.NewTestRunner(options.TestCommand, p.stdout, p.stderr)
	}
	if p.docs == nil {
		if options.Doxor.Enabled {
			p.docs = append(p.docs, tools.NewDocGenerator("doxor", options.Doxor.Command, options.Doxor.Output, p.stdout, p.stderr))
		}
		if options.Docco.Enabled {
			p.docs = append(p.docs, tools.NewDocGenerator("docco", options.Docco.Command, options.Docco.Output, p.stdout, p.stderr))
		}
	}

	return p
}

func header(h config.HeaderOptions) bundle.Header {
	out := bundle.DefaultHeader
	if h.Name != "" {
		out.Name = h.Name
	}
	if h.Author != "" {
		out.Author = h.Author
	}
	if h.URL != "" {
		out.URL = h.URL
	}
	if h.License != "" {
		out.License = h.License
	}
	return out
}

// Options returns the options the pipeline was built with.
func (p *Pipeline) Options() config.Options {
	return p.options
}

// State returns the state most recently entered by any pass.
func (p *Pipeline) State() State {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.state
}

// Metrics returns the pass metrics.
func (p *Pipeline) Metrics() *BuildMetrics {
	return p.metrics
}

// OnStateChange registers a hook called on every state change.
func (p *Pipeline) OnStateChange(hook StateHook) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.hooks = append(p.hooks, hook)
}

// AddCallback registers a callback called after every pass.
func (p *Pipeline) AddCallback(callback BuildCallback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// pass holds the state of one Run.
type pass struct {
	pipeline *Pipeline
	state    State
	sources  []scanner.Source
	files    []namespace.SourceFile
	loaded   bool
	result   *Result
}

func (ps *pass) enter(state State) {
	from := ps.state
	ps.state = state

	p := ps.pipeline
	p.mutex.Lock()
	p.state = state
	hooks := append([]StateHook(nil), p.hooks...)
	p.mutex.Unlock()

	for _, hook := range hooks {
		hook(from, state)
	}
}

// Run executes one pass over sources. Failures are logged and returned; the
// returned Result is always populated.
func (p *Pipeline) Run(ctx context.Context, sources []string) (result Result, err error) {
	start := time.Now()
	ps := &pass{pipeline: p, state: StateIdle, result: &result}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug(ctx, "Recovered build panic", "stack", string(debug.Stack()))
			err = paqerrors.NewInternalError(paqerrors.ErrCodeInternalError, fmt.Sprintf("build pass panicked: %v", r), nil)
		}

		if err != nil {
			result.FailedStep = ps.state
			ps.enter(StateAborted)
			p.errors.Handle(ctx, err)
			p.logger.Info(ctx, "Build aborted", "step", result.FailedStep.String())
		} else {
			ps.enter(StateIdle)
		}

		result.State = ps.state
		result.Sources = ps.sources
		result.Files = ps.files
		result.Error = err
		result.Duration = time.Since(start)

		p.metrics.RecordBuild(result)
		p.notify(result)
	}()

	err = p.run(ctx, ps, sources)
	return result, err
}

func (p *Pipeline) notify(result Result) {
	p.mutex.RLock()
	callbacks := append([]BuildCallback(nil), p.callbacks...)
	p.mutex.RUnlock()

	for _, callback := range callbacks {
		callback(result)
	}
}

func (p *Pipeline) run(ctx context.Context, ps *pass, sources []string) error {
	if p.options.Join != "" {
		ps.enter(StateJoining)
		if err := p.join(ctx, ps, sources); err != nil {
			return err
		}
	}

	if p.options.Minify != "" {
		ps.enter(StateMinifying)
		if err := p.minify(ctx, ps, sources); err != nil {
			return err
		}
	}

	if p.options.Test != "" {
		ps.enter(StateTesting)
		if err := p.tests.Run(ctx, p.options.Test); err != nil {
			return err
		}
		p.logger.Info(ctx, "Tests passed", "path", p.options.Test)
	}

	if len(p.docs) > 0 {
		ps.enter(StateDocumenting)
		if err := p.document(ctx, ps, sources); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) join(ctx context.Context, ps *pass, sources []string) error {
	files, err := p.load(ctx, ps, sources)
	if err != nil {
		return err
	}

	out := p.aggregator.Aggregate(files, p.version)
	if err := writeFile(p.options.Join, out.String()); err != nil {
		return err
	}

	p.logger.Info(ctx, "Bundle written", "path", p.options.Join, "files", len(files), "bytes", len(out))
	return nil
}

func (p *Pipeline) minify(ctx context.Context, ps *pass, sources []string) error {
	var code string
	if p.options.Join != "" {
		data, err := os.ReadFile(p.options.Join)
		if err != nil {
			return paqerrors.NewIOError(paqerrors.ErrCodeReadFailed, "read bundle", err).WithPath(p.options.Join)
		}
		code = string(data)
	} else {
		files, err := p.load(ctx, ps, sources)
		if err != nil {
			return err
		}
		code = bundle.Concat(files)
	}

	minified, err := p.minifier.Minify(code)
	if err != nil {
		return err
	}

	out := p.aggregator.Header.Copyright(p.version) + minified
	if err := writeFile(p.options.Minify, out); err != nil {
		return err
	}

	p.logger.Info(ctx, "Minified bundle written", "path", p.options.Minify, "bytes", len(out))
	return nil
}

func (p *Pipeline) document(ctx context.Context, ps *pass, sources []string) error {
	files, err := p.load(ctx, ps, sources)
	if err != nil {
		return err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	// Generators run to completion even when a sibling fails.
	var g errgroup.Group
	for _, generator := range p.docs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Debug(ctx, "Recovered doc generator panic", "generator", generator.Name(), "stack", string(debug.Stack()))
					err = paqerrors.NewInternalError(paqerrors.ErrCodeInternalError,
						fmt.Sprintf("doc generator %s panicked: %v", generator.Name(), r), nil)
				}
			}()

			timer := logging.StartOperation(p.logger, generator.Name())
			if err := generator.Generate(ctx, paths); err != nil {
				timer.EndWithError(ctx, err)
				return err
			}
			timer.End(ctx)
			return nil
		})
	}

	return g.Wait()
}

// load expands and resolves sources once per pass.
func (p *Pipeline) load(ctx context.Context, ps *pass, sources []string) ([]namespace.SourceFile, error) {
	if ps.loaded {
		return ps.files, nil
	}

	expanded, err := scanner.ExpandAll(sources)
	if err != nil {
		return nil, err
	}
	ps.sources = expanded

	outputs := absPaths(p.options.Outputs())

	var files []namespace.SourceFile
	for _, src := range expanded {
		for _, path := range src.Files {
			if isOutput(outputs, path) {
				continue
			}
			file, ok, err := namespace.Load(path, src.Root)
			if err != nil {
				return nil, err
			}
			if ok {
				files = append(files, file)
			}
		}
	}

	collisions := bundle.Collisions(files)
	ps.result.Collisions = collisions
	for _, c := range collisions {
		if p.options.StrictNamespaces {
			return nil, c.Err()
		}
		p.errors.Handle(ctx, c.Err())
	}

	p.logger.Debug(ctx, "Sources resolved", "sources", len(expanded), "files", len(files))

	ps.files = files
	ps.loaded = true
	return files, nil
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if abs, err := filepath.Abs(path); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func isOutput(outputs []string, path string) bool {
	for _, out := range outputs {
		if path == out {
			return true
		}
		if rel, err := filepath.Rel(out, path); err == nil && filepath.IsLocal(rel) {
			return true
		}
	}
	return false
}

func writeFile(path, content string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paqerrors.NewIOError(paqerrors.ErrCodeWriteFailed, "create output directory", err).WithPath(dir)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return paqerrors.NewIOError(paqerrors.ErrCodeWriteFailed, "write output", err).WithPath(path)
	}
	return nil
}
