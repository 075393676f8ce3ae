// Package jobs keeps the shell's bookkeeping of running pipelines.
package jobs

import (
	"sort"
	"sync"
)

// Process is a started (or failed to start) child of the shell.
type Process interface {
	// Pid returns the OS process ID, or 0 if the process has none.
	Pid() int
	// Wait blocks until the process exits and returns its exit status.
	Wait() (int, error)
}

// Job is the bookkeeping unit for one pipeline invocation.
type Job struct {
	ID    int
	Title string

	wg       sync.WaitGroup
	mu       sync.Mutex
	pids     []int
	statuses []int
	errs     []error
	pending  int
}

// Track hands ownership of a process to the job. The job waits on it in the
// background so Wait and Reap never call Process.Wait twice.
func (j *Job) Track(p Process) {
	j.mu.Lock()
	idx := len(j.pids)
	j.pids = append(j.pids, p.Pid())
	j.statuses = append(j.statuses, 0)
	j.errs = append(j.errs, nil)
	j.pending++
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		status, err := p.Wait()

		j.mu.Lock()
		defer j.mu.Unlock()
		j.statuses[idx] = status
		j.errs[idx] = err
		j.pending--
	}()
}

// Pids returns the process IDs tracked by the job in submission order.
func (j *Job) Pids() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]int(nil), j.pids...)
}

// Done reports whether every tracked process has exited.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pids) > 0 && j.pending == 0
}

// Status is the exit status of the last process in the pipeline. It is only
// meaningful once Done returns true.
func (j *Job) Status() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.statuses) == 0 {
		return 0
	}
	return j.statuses[len(j.statuses)-1]
}

// Err returns the first wait error seen across the job's processes.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, err := range j.errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Table holds the shell's active jobs.
type Table struct {
	mu     sync.Mutex
	jobs   map[int]*Job
	nextID int
}

// New creates an empty job table.
func New() *Table {
	return &Table{
		jobs:   make(map[int]*Job),
		nextID: 1,
	}
}

// Register creates a job for a pipeline.
func (t *Table) Register(title string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := &Job{ID: t.nextID, Title: title}
	t.jobs[job.ID] = job
	t.nextID++
	return job
}

// Wait blocks until every process of the job exited, then removes it from the
// table and returns the pipeline's exit status.
func (t *Table) Wait(job *Job) int {
	job.wg.Wait()
	t.remove(job)
	return job.Status()
}

// Reap removes and returns every finished job without blocking.
func (t *Table) Reap() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Job
	for id, job := range t.jobs {
		if job.Done() {
			out = append(out, job)
			delete(t.jobs, id)
		}
	}
	sortJobs(out)
	return out
}

// List returns the jobs in the table ordered by ID.
func (t *Table) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job)
	}
	sortJobs(out)
	return out
}

func (t *Table) remove(job *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, job.ID)
}

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
}
