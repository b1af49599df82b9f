package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/paq/internal/bundle"
	"github.com/conneroisu/paq/internal/config"
	paqerrors "github.com/conneroisu/paq/internal/errors"
	"github.com/conneroisu/paq/internal/testutils"
)

type fakeMinifier struct {
	mutex  sync.Mutex
	inputs []string
	err    error
	panic  bool
}

func (f *fakeMinifier) Minify(code string) (string, error) {
	if f.panic {
		panic("minifier exploded")
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.inputs = append(f.inputs, code)
	if f.err != nil {
		return "", f.err
	}
	return "MIN", nil
}

type fakeTests struct {
	mutex sync.Mutex
	paths []string
	err   error
}

func (f *fakeTests) Run(_ context.Context, path string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.paths = append(f.paths, path)
	return f.err
}

type fakeDocs struct {
	name  string
	err   error
	panic bool
	mutex sync.Mutex
	calls [][]string
}

func (f *fakeDocs) Name() string { return f.name }

func (f *fakeDocs) Generate(_ context.Context, sources []string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, sources)
	if f.panic {
		panic("generator exploded")
	}
	return f.err
}

func (f *fakeDocs) callCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.calls)
}

type stateRecorder struct {
	mutex  sync.Mutex
	states []State
}

func (r *stateRecorder) hook(_, to State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.states = append(r.states, to)
}

func (r *stateRecorder) get() []State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]State(nil), r.states...)
}

func writeProject(t *testing.T) (dir, src string) {
	return testutils.CreateTempProject(t, testutils.StandardSources)
}

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	testutils.CreateSourceFile(t, filepath.Dir(path), filepath.Base(path), content)
}

var readFile = testutils.ReadFile

func TestPipelineJoinScenario(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(dir, "out", "bundle.js")
	options.Version = "1.0.0"

	pipeline := NewPipeline(options)
	recorder := &stateRecorder{}
	pipeline.OnStateChange(recorder.hook)

	result, err := pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)

	assert.Equal(t, StateIdle, result.State)
	assert.Equal(t, []State{StateJoining, StateIdle}, recorder.get())
	assert.Len(t, result.Files, 2)

	expected := bundle.DefaultHeader.Copyright("1.0.0") + bundle.Prefix() +
		"  a\n" +
		"\n" +
		"  define('utils.Helper', function (require, module, exports) {\n" +
		"    b\n" +
		"  });\n" +
		bundle.Postfix()
	assert.Equal(t, expected, readFile(t, options.Join))
}

func TestPipelineJoinIsDeterministic(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")

	pipeline := NewPipeline(options)
	_, err := pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)
	first := readFile(t, options.Join)

	_, err = pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, first, readFile(t, options.Join))
}

func TestPipelineRunsStepsInOrder(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")
	options.Minify = filepath.Join(dir, "bundle.min.js")
	options.Test = "test/"
	options.Version = "2.0.0"

	minifier := &fakeMinifier{}
	tests := &fakeTests{}
	docs := &fakeDocs{name: "doxor"}
	pipeline := NewPipeline(options, WithMinifier(minifier), WithTestRunner(tests), WithDocGenerators(docs))
	recorder := &stateRecorder{}
	pipeline.OnStateChange(recorder.hook)

	_, err := pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)

	assert.Equal(t, []State{StateJoining, StateMinifying, StateTesting, StateDocumenting, StateIdle}, recorder.get())
	assert.Equal(t, StateIdle, pipeline.State())

	// Minification reads the joined bundle.
	require.Len(t, minifier.inputs, 1)
	assert.Equal(t, readFile(t, options.Join), minifier.inputs[0])
	assert.Equal(t, bundle.DefaultHeader.Copyright("2.0.0")+"MIN", readFile(t, options.Minify))

	assert.Equal(t, []string{"test/"}, tests.paths)

	require.Equal(t, 1, docs.callCount())
	assert.Equal(t, []string{
		filepath.Join(src, "_App.js"),
		filepath.Join(src, "utils", "Helper.js"),
	}, docs.calls[0])
}

func TestPipelineMinifyWithoutJoin(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Minify = filepath.Join(dir, "app.min.js")

	minifier := &fakeMinifier{}
	pipeline := NewPipeline(options, WithMinifier(minifier))

	_, err := pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)

	require.Len(t, minifier.inputs, 1)
	assert.Equal(t, "a\nb", minifier.inputs[0])
	_, err = os.Stat(filepath.Join(dir, "bundle.js"))
	assert.True(t, os.IsNotExist(err))
}

func TestPipelineRealMinifier(t *testing.T) {
	dir, src := writeProject(t)
	writeSource(t, filepath.Join(src, "_App.js"), "var greeting = 'hello' ;\n\n// note\nconsole.log( greeting ) ;\n")
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")
	options.Minify = filepath.Join(dir, "bundle.min.js")
	options.Version = "3.0.0"

	_, err := NewPipeline(options).Run(context.Background(), []string{src})
	require.NoError(t, err)

	joined := readFile(t, options.Join)
	minified := readFile(t, options.Minify)
	header := bundle.DefaultHeader.Copyright("3.0.0")
	assert.True(t, len(minified) < len(joined))
	assert.Equal(t, header, minified[:len(header)])
	assert.NotContains(t, minified[len(header):], "// note")
}

func TestPipelineAbortSkipsRemainingSteps(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")
	options.Test = "test/"

	tests := &fakeTests{err: paqerrors.NewToolError(paqerrors.ErrCodeTestFailed, "test", "exited with status 1", nil)}
	docs := &fakeDocs{name: "docco"}
	pipeline := NewPipeline(options, WithTestRunner(tests), WithDocGenerators(docs))
	recorder := &stateRecorder{}
	pipeline.OnStateChange(recorder.hook)

	result, err := pipeline.Run(context.Background(), []string{src})
	require.Error(t, err)
	assert.True(t, paqerrors.IsToolError(err))

	assert.Equal(t, []State{StateJoining, StateTesting, StateAborted}, recorder.get())
	assert.Equal(t, StateAborted, result.State)
	assert.Equal(t, StateTesting, result.FailedStep)
	assert.Zero(t, docs.callCount())

	// A new pass starts over from the first step.
	tests.err = nil
	result, err = pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, result.State)
	assert.Equal(t, 1, docs.callCount())
}

func TestPipelineMissingSource(t *testing.T) {
	dir := t.TempDir()
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")

	result, err := NewPipeline(options).Run(context.Background(), []string{filepath.Join(dir, "missing")})
	require.Error(t, err)
	assert.True(t, paqerrors.IsIOError(err))
	assert.Equal(t, StateJoining, result.FailedStep)

	_, statErr := os.Stat(options.Join)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineCollisions(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	writeSource(t, filepath.Join(first, "Lib.js"), "1")
	writeSource(t, filepath.Join(second, "Lib.js"), "2")

	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")

	result, err := NewPipeline(options).Run(context.Background(), []string{first, second})
	require.NoError(t, err)
	require.Len(t, result.Collisions, 1)
	assert.Equal(t, "Lib", result.Collisions[0].Namespace)

	options.StrictNamespaces = true
	result, err = NewPipeline(options).Run(context.Background(), []string{first, second})
	require.Error(t, err)
	assert.True(t, paqerrors.IsCollisionError(err))
	assert.Equal(t, StateJoining, result.FailedStep)
}

func TestPipelineSkipsOwnOutputs(t *testing.T) {
	_, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(src, "bundle.js")

	pipeline := NewPipeline(options)
	for i := 0; i < 2; i++ {
		result, err := pipeline.Run(context.Background(), []string{src})
		require.NoError(t, err)
		assert.Len(t, result.Files, 2)
	}
	assert.NotContains(t, readFile(t, options.Join), "define('bundle'")
}

func TestPipelineRecoversPanics(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Minify = filepath.Join(dir, "app.min.js")

	pipeline := NewPipeline(options, WithMinifier(&fakeMinifier{panic: true}))

	result, err := pipeline.Run(context.Background(), []string{src})
	require.Error(t, err)

	var paqErr *paqerrors.PaqError
	require.ErrorAs(t, err, &paqErr)
	assert.Equal(t, paqerrors.ErrCodeInternalError, paqErr.Code)
	assert.Equal(t, StateMinifying, result.FailedStep)
	assert.Equal(t, StateAborted, pipeline.State())
}

func TestPipelineDocGeneratorsAllRun(t *testing.T) {
	_, src := writeProject(t)
	options := config.Defaults()

	failing := &fakeDocs{name: "doxor", err: errors.New("boom")}
	passing := &fakeDocs{name: "docco"}
	pipeline := NewPipeline(options, WithDocGenerators(failing, passing))

	result, err := pipeline.Run(context.Background(), []string{src})
	require.Error(t, err)
	assert.Equal(t, StateDocumenting, result.FailedStep)
	assert.Equal(t, 1, failing.callCount())
	assert.Equal(t, 1, passing.callCount())
}

func TestPipelineRecoversDocGeneratorPanics(t *testing.T) {
	_, src := writeProject(t)
	options := config.Defaults()

	exploding := &fakeDocs{name: "doxor", panic: true}
	passing := &fakeDocs{name: "docco"}
	pipeline := NewPipeline(options, WithDocGenerators(exploding, passing))

	result, err := pipeline.Run(context.Background(), []string{src})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doc generator doxor panicked")

	var paqErr *paqerrors.PaqError
	require.True(t, errors.As(err, &paqErr))
	assert.Equal(t, paqerrors.ErrCodeInternalError, paqErr.Code)
	assert.Equal(t, StateDocumenting, result.FailedStep)
	assert.Equal(t, StateAborted, pipeline.State())
	assert.Equal(t, 1, passing.callCount())

	// The pipeline stays usable after the panic.
	exploding.panic = false
	_, err = pipeline.Run(context.Background(), []string{src})
	assert.NoError(t, err)
}

func TestPipelineBuildsDocGeneratorsFromOptions(t *testing.T) {
	options := config.Defaults()
	options.Doxor.Enabled = true
	options.Docco.Enabled = true

	pipeline := NewPipeline(options)
	require.Len(t, pipeline.docs, 2)
	assert.Equal(t, "doxor", pipeline.docs[0].Name())
	assert.Equal(t, "docco", pipeline.docs[1].Name())

	assert.Empty(t, NewPipeline(config.Defaults()).docs)
}

func TestPipelineMetricsAndCallbacks(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")

	pipeline := NewPipeline(options)
	var results []Result
	pipeline.AddCallback(func(result Result) {
		results = append(results, result)
	})

	_, err := pipeline.Run(context.Background(), []string{src})
	require.NoError(t, err)
	_, err = pipeline.Run(context.Background(), []string{filepath.Join(dir, "missing")})
	require.Error(t, err)

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Error)
	assert.Error(t, results[1].Error)

	snapshot := pipeline.Metrics().GetSnapshot()
	assert.Equal(t, int64(2), snapshot.TotalBuilds)
	assert.Equal(t, int64(1), snapshot.SuccessfulBuilds)
	assert.Equal(t, int64(1), snapshot.FailedBuilds)
	assert.Equal(t, StateJoining, snapshot.LastFailedStep)
	assert.Equal(t, int64(1), snapshot.FailuresByStep[StateJoining])
	assert.NotEmpty(t, snapshot.LastError)
	assert.InDelta(t, 50.0, pipeline.Metrics().GetSuccessRate(), 0.001)

	pipeline.Metrics().Reset()
	snapshot = pipeline.Metrics().GetSnapshot()
	assert.Zero(t, snapshot.TotalBuilds)
	assert.Empty(t, snapshot.FailuresByStep)
	assert.Zero(t, snapshot.SuccessRate())
}

func TestPipelineHeaderOptions(t *testing.T) {
	dir, src := writeProject(t)
	options := config.Defaults()
	options.Join = filepath.Join(dir, "bundle.js")
	options.Version = "v4.0.0"
	options.Header = config.HeaderOptions{Name: "muon.js", Author: "someone"}

	_, err := NewPipeline(options).Run(context.Background(), []string{src})
	require.NoError(t, err)

	expected := bundle.DefaultHeader
	expected.Name = "muon.js"
	expected.Author = "someone"
	assert.Contains(t, readFile(t, options.Join), expected.Copyright("4.0.0"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "joining", StateJoining.String())
	assert.Equal(t, "minifying", StateMinifying.String())
	assert.Equal(t, "testing", StateTesting.String())
	assert.Equal(t, "documenting", StateDocumenting.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateTesting.Terminal())
}
