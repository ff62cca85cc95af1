/*
Copyright 2021 Gravitational, Inc.

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
	"sync"
)

// Job is just something executable.
type Job interface {
	// DoJob executes a job.
	DoJob(context.Context) error
}

// FuncJob is a simplest job represented as a mere function.
type FuncJob func(context.Context) error

// DoJob executes a job.
func (j FuncJob) DoJob(ctx context.Context) error {
	return j(ctx)
}

// Handle is the owner's grip on a spawned job. Whoever holds the handle
// decides when the job stops.
type Handle struct {
	futureResult

	cancel   context.CancelFunc
	mu       sync.Mutex
	canceled bool
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{
		futureResult: futureResult{doneCh: make(chan struct{})},
		cancel:       cancel,
	}
}

// Cancel signals the job to stop. It does not wait for the job to return;
// use Done for that. Cancel is idempotent and safe on a nil handle.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.canceled = true
	h.mu.Unlock()
	h.cancel()
}

// Canceled reports whether Cancel was called.
func (h *Handle) Canceled() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// Active reports whether the job is still running and was not canceled.
func (h *Handle) Active() bool {
	if h.Canceled() {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}
