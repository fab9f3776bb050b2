package taskrunner

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrSkipTask can be returned by an interceptor to complete a task
	// without running its body.
	ErrSkipTask = errors.New("task skipped")

	// ErrRunnerUsed is returned when a runner is run a second time. A
	// runner is created fresh for every invocation.
	ErrRunnerUsed = errors.New("task runner already ran")
)

// Task is a single fallible step of a pipeline operating on a shared
// context C.
type Task[C any] interface {
	// Name identifies the task in logs and errors.
	Name() string

	// Run executes the task body. A nil error completes the task, any
	// other error fails the whole pipeline.
	Run(ctx C) error
}

// funcTask is a Task backed by a plain function.
type funcTask[C any] struct {
	name string
	run  func(C) error
}

// Name returns the task name.
func (f *funcTask[C]) Name() string {
	return f.name
}

// Run executes the task function.
func (f *funcTask[C]) Run(ctx C) error {
	return f.run(ctx)
}

// NewTask creates a task from a name and a function.
func NewTask[C any](name string, run func(C) error) Task[C] {
	return &funcTask[C]{name: name, run: run}
}

// TaskError is the failure of a pipeline, naming the task that failed.
type TaskError struct {
	// Pipeline is the name of the failed pipeline.
	Pipeline string

	// Task is the name of the failed task.
	Task string

	// Panicked is true if the task panicked instead of returning an
	// error.
	Panicked bool

	// Err is the underlying error.
	Err error
}

// Error returns a human readable description of the failure.
func (e *TaskError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("%s: task %s panicked: %v", e.Pipeline,
			e.Task, e.Err)
	}

	return fmt.Sprintf("%s: task %s failed: %v", e.Pipeline, e.Task,
		e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Config houses the hooks of a Runner.
type Config[C any] struct {
	// Name identifies the pipeline in logs and errors.
	Name string

	// Intercept, if set, runs before each task body. Returning
	// ErrSkipTask completes the task without running it, any other
	// error fails the pipeline.
	Intercept func(task Task[C], ctx C) error

	// Persist, if set, is called after every task, whether it completed
	// or failed.
	Persist func(ctx C)

	// OnComplete, if set, is called once all tasks completed.
	OnComplete func()

	// OnFailed, if set, is called with the failure once a task failed.
	OnFailed func(err *TaskError)
}

// Runner executes an ordered list of tasks over a shared context. The first
// failing task aborts the remaining tasks, there is no retry within a run.
type Runner[C any] struct {
	cfg   Config[C]
	tasks []Task[C]

	// cursor is the index of the next task to run.
	cursor int
	ran    bool
}

// NewRunner creates a runner for the given tasks.
func NewRunner[C any](cfg Config[C], tasks ...Task[C]) *Runner[C] {
	return &Runner[C]{
		cfg:   cfg,
		tasks: tasks,
	}
}

// Run executes all tasks in order. A panic inside a task is recovered and
// treated as a failure of that task, so it never reaches the caller.
func (r *Runner[C]) Run(ctx C) error {
	if r.ran {
		return ErrRunnerUsed
	}
	r.ran = true

	log.Debugf("Running pipeline %s with %d tasks", r.cfg.Name,
		len(r.tasks))

	for r.cursor < len(r.tasks) {
		task := r.tasks[r.cursor]
		r.cursor++

		err := r.runTask(task, ctx)
		if r.cfg.Persist != nil {
			r.cfg.Persist(ctx)
		}

		if err != nil {
			log.Errorf("Pipeline %s aborted: %v", r.cfg.Name, err)

			if r.cfg.OnFailed != nil {
				r.cfg.OnFailed(err)
			}

			return err
		}
	}

	log.Debugf("Pipeline %s completed", r.cfg.Name)

	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete()
	}

	return nil
}

// runTask runs the interceptor and the body of a single task.
func (r *Runner[C]) runTask(task Task[C], ctx C) (taskErr *TaskError) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Criticalf("Task %s of pipeline %s panicked: %v\n%s",
				task.Name(), r.cfg.Name, rec, debug.Stack())

			taskErr = &TaskError{
				Pipeline: r.cfg.Name,
				Task:     task.Name(),
				Panicked: true,
				Err:      fmt.Errorf("%v", rec),
			}
		}
	}()

	if r.cfg.Intercept != nil {
		err := r.cfg.Intercept(task, ctx)
		switch {
		case errors.Is(err, ErrSkipTask):
			log.Tracef("Task %s of pipeline %s skipped",
				task.Name(), r.cfg.Name)

			return nil

		case err != nil:
			return &TaskError{
				Pipeline: r.cfg.Name,
				Task:     task.Name(),
				Err:      err,
			}
		}
	}

	log.Tracef("Running task %s of pipeline %s", task.Name(), r.cfg.Name)

	if err := task.Run(ctx); err != nil {
		return &TaskError{
			Pipeline: r.cfg.Name,
			Task:     task.Name(),
			Err:      err,
		}
	}

	return nil
}
