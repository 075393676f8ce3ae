package shell

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/josephlewis42/forksh/core/jobs"
	"github.com/josephlewis42/forksh/core/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// syncBuffer is written to by child copy goroutines and subshells.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// countingTable records every registration.
type countingTable struct {
	*jobs.Table
	titles []string
}

func (c *countingTable) Register(title string) *jobs.Job {
	c.titles = append(c.titles, title)
	return c.Table.Register(title)
}

type testEngine struct {
	*Engine
	stdout *syncBuffer
	stderr *syncBuffer
	jobs   *countingTable

	mu     sync.Mutex
	events []*logger.LogEntry
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	te := &testEngine{
		Engine: NewEngine(NewState()),
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		jobs:   &countingTable{Table: jobs.New()},
	}
	te.Stdin = nil
	te.Stdout = te.stdout
	te.Stderr = te.stderr
	te.Log = (&logger.Logger{
		Record: func(le *logger.LogEntry) error {
			te.mu.Lock()
			defer te.mu.Unlock()
			te.events = append(te.events, le)
			return nil
		},
	}).Sessionless()

	noColor := false
	te.SetColor(&noColor)
	return te
}

func (te *testEngine) eventTypes() []logger.EventType {
	te.mu.Lock()
	defer te.mu.Unlock()

	var out []logger.EventType
	for _, le := range te.events {
		out = append(out, le.Type)
	}
	return out
}

func (te *testEngine) run(t *testing.T, p *Pipeline) (status int, err error) {
	t.Helper()
	var eof bool
	err = te.RunPipeline(p, te.jobs, &eof)
	if job := p.Job(); job != nil {
		status = te.jobs.Wait(job)
	}
	return status, err
}

func fstat(t *testing.T, fd int) [2]uint64 {
	t.Helper()
	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	return [2]uint64{uint64(st.Dev), uint64(st.Ino)}
}

func getwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}

func TestRunPipeline_ForegroundBuiltin(t *testing.T) {
	te := newTestEngine(t)
	p := mustPipeline(t, false, mustCommand(t, nil, "pwd"))

	_, err := te.run(t, p)
	require.NoError(t, err)

	assert.Nil(t, p.Job())
	assert.Empty(t, te.jobs.titles)
	assert.Equal(t, getwd(t)+"\n", te.stdout.String())
	assert.Equal(t, []logger.EventType{logger.EventBuiltin}, te.eventTypes())
}

func TestRunPipeline_ExitSetsEOF(t *testing.T) {
	te := newTestEngine(t)
	p := mustPipeline(t, false, mustCommand(t, nil, "exit"))

	var eof bool
	require.NoError(t, te.RunPipeline(p, te.jobs, &eof))
	assert.True(t, eof)
}

func TestRunPipeline_RegistersOnce(t *testing.T) {
	te := newTestEngine(t)
	p := mustPipeline(t, false,
		mustCommand(t, nil, "echo", "hi"),
		mustCommand(t, nil, "cat"),
		mustCommand(t, nil, "cat"))

	status, err := te.run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 0, status)
	assert.Equal(t, []string{"echo hi | cat | cat"}, te.jobs.titles)
	assert.Len(t, p.Job().Pids(), 3)
	assert.Equal(t, "hi\n", te.stdout.String())
	assert.Empty(t, te.jobs.List())
}

func TestRunPipeline_StatusOfLastCommand(t *testing.T) {
	te := newTestEngine(t)

	status, err := te.run(t, mustPipeline(t, false, mustCommand(t, nil, "true"), mustCommand(t, nil, "false")))
	require.NoError(t, err)
	assert.Equal(t, 1, status)

	status, err = te.run(t, mustPipeline(t, false, mustCommand(t, nil, "false"), mustCommand(t, nil, "true")))
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestRunPipeline_ForegroundBuiltinInPipe(t *testing.T) {
	te := newTestEngine(t)
	p := mustPipeline(t, false, mustCommand(t, nil, "pwd"), mustCommand(t, nil, "cat"))

	status, err := te.run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 0, status)
	assert.Len(t, te.jobs.titles, 1)
	assert.Len(t, p.Job().Pids(), 1)
	assert.Equal(t, getwd(t)+"\n", te.stdout.String())
}

func TestRunPipeline_StartFailure(t *testing.T) {
	te := newTestEngine(t)
	p := mustPipeline(t, false, mustCommand(t, nil, "forksh-test-no-such-program"))

	status, err := te.run(t, p)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "forksh-test-no-such-program", startErr.Program)
	assert.Equal(t, DefaultExecFailureStatus, status)
	assert.Equal(t, []int{0}, p.Job().Pids())
	assert.Equal(t, []logger.EventType{logger.EventStartFailure}, te.eventTypes())
}

func TestRunPipeline_StartFailureCustomStatus(t *testing.T) {
	te := newTestEngine(t)
	te.ExecFailureStatus = 99
	p := mustPipeline(t, false,
		mustCommand(t, nil, "echo", "hi"),
		mustCommand(t, nil, "forksh-test-no-such-program"))

	status, err := te.run(t, p)
	assert.Error(t, err)
	assert.Equal(t, 99, status)
	assert.Len(t, te.jobs.titles, 1)
}

func TestRunPipeline_BuiltinRedirectRestoresDescriptors(t *testing.T) {
	te := newTestEngine(t)
	out := filepath.Join(t.TempDir(), "out.txt")
	stdoutBefore, stdinBefore := fstat(t, 1), fstat(t, 0)

	p := mustPipeline(t, false, mustCommand(t, mustRedirect(t, RedirectOut, out), "pwd"))
	_, err := te.run(t, p)
	require.NoError(t, err)

	assert.Equal(t, stdoutBefore, fstat(t, 1))
	assert.Equal(t, stdinBefore, fstat(t, 0))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, getwd(t)+"\n", string(data))
	assert.Empty(t, te.stdout.String())
}

func TestRunPipeline_BuiltinRedirectFailure(t *testing.T) {
	te := newTestEngine(t)
	stdoutBefore := fstat(t, 1)

	p := mustPipeline(t, false, mustCommand(t, mustRedirect(t, RedirectOut, "/does/not/exist/out.txt"), "pwd"))
	var eof bool
	err := te.RunPipeline(p, te.jobs, &eof)

	assert.True(t, IsRedirectError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, eof)
	assert.Equal(t, stdoutBefore, fstat(t, 1))
	assert.Empty(t, te.stdout.String())
	assert.Equal(t, []logger.EventType{logger.EventBuiltin, logger.EventRedirectFailure}, te.eventTypes())
}

func TestRunPipeline_ExternalRedirect(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	status, err := te.run(t, mustPipeline(t, false, mustCommand(t, mustRedirect(t, RedirectOut, out), "echo", "hello")))
	require.NoError(t, err)
	assert.Equal(t, 0, status)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	status, err = te.run(t, mustPipeline(t, false, mustCommand(t, mustRedirect(t, RedirectIn, out), "cat")))
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "hello\n", te.stdout.String())
}

func TestRunPipeline_ExternalRedirectFailure(t *testing.T) {
	te := newTestEngine(t)

	p := mustPipeline(t, false, mustCommand(t, mustRedirect(t, RedirectIn, "/does/not/exist"), "cat"))
	status, err := te.run(t, p)

	assert.True(t, IsRedirectError(err))
	assert.Equal(t, DefaultExecFailureStatus, status)
	assert.Equal(t, []logger.EventType{logger.EventRedirectFailure}, te.eventTypes())
}

func TestRunPipeline_Golden(t *testing.T) {
	te := newTestEngine(t)
	out := filepath.Join(t.TempDir(), "sorted.txt")

	p := mustPipeline(t, false,
		mustCommand(t, nil, "printf", `pear\napple\nfig\n`),
		mustCommand(t, mustRedirect(t, RedirectOut, out), "sort"))
	status, err := te.run(t, p)
	require.NoError(t, err)
	assert.Equal(t, 0, status)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "sorted", data)
}

func TestRunPipeline_BackgroundBuiltin(t *testing.T) {
	te := newTestEngine(t)
	wd := getwd(t)

	p := mustPipeline(t, true, mustCommand(t, nil, "cd", t.TempDir()))
	var eof bool
	require.NoError(t, te.RunPipeline(p, te.jobs, &eof))

	require.NotNil(t, p.Job())
	assert.Equal(t, 0, te.jobs.Wait(p.Job()))
	assert.Equal(t, wd, getwd(t))
	assert.Equal(t, "", te.State.Cwd())
	assert.Equal(t, "", te.State.PrevWd())
}

func TestRunPipeline_BackgroundHistory(t *testing.T) {
	te := newTestEngine(t)
	history := &fakeHistory{lines: []string{"ls", "pwd"}}
	te.History = history

	clearJob := mustPipeline(t, true, mustCommand(t, nil, "history", "-c"))
	status, err := te.run(t, clearJob)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, []string{"ls", "pwd"}, history.lines)

	list := mustPipeline(t, true, mustCommand(t, nil, "history"))
	status, err = te.run(t, list)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "ls\npwd\n", te.stdout.String())
}

func TestRunPipeline_BackgroundExit(t *testing.T) {
	te := newTestEngine(t)

	p := mustPipeline(t, true, mustCommand(t, nil, "exit"))
	var eof bool
	require.NoError(t, te.RunPipeline(p, te.jobs, &eof))
	assert.Equal(t, 0, te.jobs.Wait(p.Job()))
	assert.False(t, eof)
}

func TestRunPipeline_BackgroundBuiltinRedirect(t *testing.T) {
	te := newTestEngine(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	p := mustPipeline(t, true, mustCommand(t, mustRedirect(t, RedirectOut, out), "pwd"))
	status, err := te.run(t, p)
	require.NoError(t, err)
	assert.Equal(t, 0, status)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, getwd(t)+"\n", string(data))
	assert.Empty(t, te.stdout.String())
}

func TestRunPipeline_BackgroundBuiltinRedirectFailure(t *testing.T) {
	te := newTestEngine(t)

	p := mustPipeline(t, true, mustCommand(t, mustRedirect(t, RedirectOut, "/does/not/exist/out.txt"), "pwd"))
	status, err := te.run(t, p)
	require.NoError(t, err)
	assert.Equal(t, DefaultExecFailureStatus, status)
	assert.Contains(t, te.stderr.String(), "redirect > /does/not/exist/out.txt")
}

func TestRunPipeline_BackgroundProgram(t *testing.T) {
	te := newTestEngine(t)

	p := mustPipeline(t, true, mustCommand(t, nil, "echo", "bg"))
	status, err := te.run(t, p)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "bg\n", te.stdout.String())
	assert.Equal(t, []string{"echo bg &"}, te.jobs.titles)

	te.mu.Lock()
	defer te.mu.Unlock()
	require.Len(t, te.events, 1)
	assert.Equal(t, true, te.events[0].Fields["background"])
}

func TestExecute_Released(t *testing.T) {
	te := newTestEngine(t)
	cmd := mustCommand(t, nil, "pwd")
	p := mustPipeline(t, false, cmd)
	cmd.Release()

	var jobbed, eof bool
	err := te.Execute(cmd, p, te.jobs, &jobbed, &eof, true)
	assert.ErrorIs(t, err, ErrReleased)
	assert.False(t, jobbed)
	assert.Empty(t, te.stdout.String())
}

func TestExecute_JobbedFlag(t *testing.T) {
	te := newTestEngine(t)
	first := mustCommand(t, nil, "true")
	second := mustCommand(t, nil, "true")
	p := mustPipeline(t, true, first, second)

	var jobbed, eof bool
	require.NoError(t, te.Execute(first, p, te.jobs, &jobbed, &eof, false))
	assert.True(t, jobbed)
	require.NoError(t, te.Execute(second, p, te.jobs, &jobbed, &eof, false))

	assert.Len(t, te.jobs.titles, 1)
	assert.Equal(t, 0, te.jobs.Wait(p.Job()))
}

func TestWarn(t *testing.T) {
	te := newTestEngine(t)
	te.Warn(mustCommand(t, nil, "cd", "a"), errors.New("boom"))
	assert.Equal(t, "forksh: cd: boom\n", te.stderr.String())
	assert.Equal(t, []logger.EventType{logger.EventWarning}, te.eventTypes())
}

func TestRunPipeline_BuiltinWarning(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.run(t, mustPipeline(t, false, mustCommand(t, nil, "cd", "a", "b")))
	require.NoError(t, err)
	assert.Equal(t, "forksh: cd: "+ErrArity.Error()+"\n", te.stderr.String())
}
