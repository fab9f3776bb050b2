package taskrunner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// testContext records the tasks that ran and how often state was
// persisted.
type testContext struct {
	ran       []string
	persisted int
}

func recordTask(name string) Task[*testContext] {
	return NewTask(name, func(ctx *testContext) error {
		ctx.ran = append(ctx.ran, name)
		return nil
	})
}

func newTestRunner(tasks ...Task[*testContext]) (*Runner[*testContext],
	*int, *[]*TaskError) {

	var (
		completed int
		failures  []*TaskError
	)
	runner := NewRunner(Config[*testContext]{
		Name: "test",
		Persist: func(ctx *testContext) {
			ctx.persisted++
		},
		OnComplete: func() {
			completed++
		},
		OnFailed: func(err *TaskError) {
			failures = append(failures, err)
		},
	}, tasks...)

	return runner, &completed, &failures
}

// TestRunnerOrder asserts tasks run in order and state is persisted after
// each of them.
func TestRunnerOrder(t *testing.T) {
	t.Parallel()

	runner, completed, failures := newTestRunner(
		recordTask("a"), recordTask("b"), recordTask("c"),
	)

	ctx := &testContext{}
	require.NoError(t, runner.Run(ctx))
	require.Equal(t, []string{"a", "b", "c"}, ctx.ran)
	require.Equal(t, 3, ctx.persisted)
	require.Equal(t, 1, *completed)
	require.Empty(t, *failures)

	// A runner is single use.
	require.ErrorIs(t, runner.Run(ctx), ErrRunnerUsed)
	require.Equal(t, []string{"a", "b", "c"}, ctx.ran)
}

// TestRunnerFailure asserts a failing task aborts the remaining ones.
func TestRunnerFailure(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	runner, completed, failures := newTestRunner(
		recordTask("a"),
		NewTask("fail", func(*testContext) error {
			return errBoom
		}),
		recordTask("c"),
	)

	ctx := &testContext{}
	err := runner.Run(ctx)
	require.ErrorIs(t, err, errBoom)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "fail", taskErr.Task)
	require.Equal(t, "test", taskErr.Pipeline)
	require.False(t, taskErr.Panicked)

	require.Equal(t, []string{"a"}, ctx.ran)
	require.Equal(t, 2, ctx.persisted)
	require.Zero(t, *completed)
	require.Len(t, *failures, 1)
}

// TestRunnerPanic asserts a panicking task fails the pipeline instead of
// crashing the caller.
func TestRunnerPanic(t *testing.T) {
	t.Parallel()

	runner, completed, failures := newTestRunner(
		NewTask("panic", func(ctx *testContext) error {
			var m map[string]int
			m["x"] = 1

			return nil
		}),
		recordTask("never"),
	)

	ctx := &testContext{}
	var err error
	require.NotPanics(t, func() {
		err = runner.Run(ctx)
	})

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.True(t, taskErr.Panicked)
	require.Equal(t, "panic", taskErr.Task)
	require.Contains(t, taskErr.Error(), "panicked")

	require.Empty(t, ctx.ran)
	require.Equal(t, 1, ctx.persisted)
	require.Zero(t, *completed)
	require.Len(t, *failures, 1)
}

// TestRunnerIntercept covers skipping, recording and failing from the
// interceptor.
func TestRunnerIntercept(t *testing.T) {
	t.Parallel()

	var intercepted []string
	errStop := errors.New("stop")

	runner := NewRunner(Config[*testContext]{
		Name: "intercepted",
		Intercept: func(task Task[*testContext],
			ctx *testContext) error {

			intercepted = append(intercepted, task.Name())

			switch task.Name() {
			case "skip":
				return ErrSkipTask
			case "stop":
				return errStop
			}

			return nil
		},
	}, recordTask("a"), recordTask("skip"), recordTask("b"),
		recordTask("stop"), recordTask("c"))

	ctx := &testContext{}
	err := runner.Run(ctx)
	require.ErrorIs(t, err, errStop)

	require.Equal(t, []string{"a", "skip", "b", "stop"}, intercepted)
	require.Equal(t, []string{"a", "b"}, ctx.ran)

	// No persistence hook was configured.
	require.Zero(t, ctx.persisted)
}

// TestRunnerEmpty asserts an empty pipeline completes immediately.
func TestRunnerEmpty(t *testing.T) {
	t.Parallel()

	runner, completed, _ := newTestRunner()
	require.NoError(t, runner.Run(&testContext{}))
	require.Equal(t, 1, *completed)
}
