/*
Copyright 2020-2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package job

import (
	"context"
	"errors"
	"sync"

	"github.com/gravitational/trace"
)

// Process owns a group of spawned jobs and waits for all of them on shutdown.
type Process struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *jobGroup

	stopOnce sync.Once
}

// SpawnOptions is job spawn options
type SpawnOptions struct {
	// Critical job, if returns error, leads to termination of the entire process.
	Critical bool
}

// SpawnOption is a rest argument to Spawn and SpawnFunc methods of a process.
type SpawnOption func(*SpawnOptions)

// Critical marks a job as critical.
// Such job, if returns error, leads to termination of the entire process.
func Critical(critical bool) SpawnOption {
	return func(opts *SpawnOptions) {
		opts.Critical = critical
	}
}

type jobGroup struct {
	mu      sync.Mutex
	counter uint
	doneCh  chan struct{}
}

// NewProcess creates a process whose jobs run under ctx.
func NewProcess(ctx context.Context) *Process {
	ctx, cancel := context.WithCancel(ctx)
	return &Process{
		ctx:    ctx,
		cancel: cancel,
		group:  newJobGroup(),
	}
}

// Spawn runs a job in its own goroutine and returns the handle controlling it.
// Spawning on a stopped process returns an already finished handle.
func (p *Process) Spawn(job Job, opts ...SpawnOption) *Handle {
	if p == nil {
		panic("spawning a job on a nil process")
	}
	var options SpawnOptions
	for _, optionFn := range opts {
		optionFn(&options)
	}

	jobCtx, cancel := context.WithCancel(p.ctx)
	handle := newHandle(cancel)

	if !p.group.join() {
		cancel()
		handle.setError(trace.Errorf("process already finished"))
		return handle
	}

	go func() {
		defer func() {
			cancel()
			p.group.leave()
		}()
		err := job.DoJob(jobCtx)
		if errors.Is(err, context.Canceled) && handle.Canceled() {
			err = nil
		}
		handle.setError(trace.Wrap(err))
		if err != nil && options.Critical {
			p.Stop()
		}
	}()

	return handle
}

// SpawnFunc spawns a function as a job in a process.
func (p *Process) SpawnFunc(fn func(ctx context.Context) error, opts ...SpawnOption) *Handle {
	return p.Spawn(FuncJob(fn), opts...)
}

// Done channel is closed once the process is stopped and every job returned.
func (p *Process) Done() <-chan struct{} {
	if p == nil {
		return alreadyDone
	}
	return p.group.doneCh
}

// Stop cancels every job. You should avoid spawning new jobs after stopping.
func (p *Process) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		p.cancel()
		p.group.leave() // Stop the main "job".
	})
}

// Shutdown stops a process and waits for completion of all jobs.
func (p *Process) Shutdown(ctx context.Context) error {
	p.Stop()
	select {
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	case <-p.Done():
		return nil
	}
}

// Close stops a process and waits for its jobs without a deadline.
func (p *Process) Close() {
	if p == nil {
		return
	}
	p.Stop()
	<-p.Done()
}

var alreadyDone = make(chan struct{})

func init() {
	close(alreadyDone)
}

func newJobGroup() *jobGroup {
	return &jobGroup{
		doneCh:  make(chan struct{}),
		counter: 1, // ONE means a single main "job".
	}
}

func (jobs *jobGroup) join() bool {
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	if jobs.counter == 0 {
		return false
	}
	jobs.counter++
	return true
}

func (jobs *jobGroup) leave() {
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	if jobs.counter == 0 {
		panic("failed to decrement zero job counter")
	}
	jobs.counter--
	if jobs.counter == 0 {
		close(jobs.doneCh)
	}
}
