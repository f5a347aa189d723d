package skill

import (
	"context"

	"github.com/cis-project/cis-core/internal/domain"
)

// wasmJob is one unit of work submitted to the pool.
type wasmJob struct {
	ctx    context.Context
	rt     *WasmRuntime
	input  []byte
	result chan<- wasmResult
}

type wasmResult struct {
	output []byte
	err    error
}

// WasmPool runs wasm executions on a fixed set of dedicated goroutines.
// wasmer stores are not safe to share a single instantiation across
// concurrent Run calls on the same *WasmRuntime pointer without
// synchronization, so the pool serializes access per worker rather than
// spawning a goroutine per call.
type WasmPool struct {
	jobs chan wasmJob
	done chan struct{}
}

// NewWasmPool starts workers goroutines draining a shared job queue.
func NewWasmPool(workers int) *WasmPool {
	if workers < 1 {
		workers = 1
	}
	p := &WasmPool{
		jobs: make(chan wasmJob, workers*4),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WasmPool) worker() {
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			output, err := job.rt.Run(job.ctx, job.input)
			job.result <- wasmResult{output: output, err: err}
		}
	}
}

// Run submits a wasm execution to the pool and blocks for its result or
// ctx cancellation, whichever comes first.
func (p *WasmPool) Run(ctx context.Context, rt *WasmRuntime, input []byte) ([]byte, error) {
	result := make(chan wasmResult, 1)
	select {
	case p.jobs <- wasmJob{ctx: ctx, rt: rt, input: input, result: result}:
	case <-ctx.Done():
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_pool_submit_cancelled", ctx.Err())
	}

	select {
	case r := <-result:
		return r.output, r.err
	case <-ctx.Done():
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_pool_wait_cancelled", ctx.Err())
	}
}

// Close stops all workers. In-flight jobs are allowed to finish.
func (p *WasmPool) Close() {
	close(p.done)
}
