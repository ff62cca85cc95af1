package job

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestHandleCancel(t *testing.T) {
	process := NewProcess(context.Background())
	t.Cleanup(process.Close)

	started := make(chan struct{})
	handle := process.SpawnFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	require.True(t, handle.Active())

	handle.Cancel()
	require.False(t, handle.Active())

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not stop after cancel")
	}
	require.NoError(t, handle.Err(), "cancellation by the owner is not an error")
}

func TestHandleResult(t *testing.T) {
	process := NewProcess(context.Background())
	t.Cleanup(process.Close)

	handle := process.SpawnFunc(func(ctx context.Context) error {
		return trace.BadParameter("boom")
	})
	<-handle.Done()
	require.True(t, trace.IsBadParameter(handle.Err()))
	require.False(t, handle.Active())
}

func TestCriticalJobStopsProcess(t *testing.T) {
	process := NewProcess(context.Background())

	sibling := process.SpawnFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	process.SpawnFunc(func(ctx context.Context) error {
		return trace.Errorf("fatal")
	}, Critical(true))

	select {
	case <-process.Done():
	case <-time.After(time.Second):
		t.Fatal("process did not stop")
	}
	<-sibling.Done()
}

func TestShutdownWaitsForJobs(t *testing.T) {
	process := NewProcess(context.Background())
	returned := make(chan struct{})
	process.SpawnFunc(func(ctx context.Context) error {
		<-ctx.Done()
		close(returned)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, process.Shutdown(ctx))

	select {
	case <-returned:
	default:
		t.Fatal("shutdown returned before the job")
	}

	late := process.SpawnFunc(func(ctx context.Context) error { return nil })
	<-late.Done()
	require.Error(t, late.Err())
}

func TestNilHandle(t *testing.T) {
	var handle *Handle
	handle.Cancel()
	require.True(t, handle.Canceled())
	require.False(t, handle.Active())
}
