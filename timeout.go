package swrcache

import (
	"context"
	"fmt"
	"time"
)

// errWorkerTimedOut is an internal sentinel for a worker timeout. Nothing
// in the package returns it: runWorkerWithTimeout reports a timeout through
// its boolean result, which resolveWorker turns into ErrColdTimeout or a
// stale Outcome.
const errWorkerTimedOut = SentinelError("swrcache: worker timed out")

type workerResult struct {
	value interface{}
	err   error
}

// detachedContext carries a parent's values without its cancellation or
// deadline. The worker goroutine started by runWorkerWithTimeout keeps this
// context even after the caller stops waiting for it, since the worker is
// never cancelled (spec: there is no cancellation mechanism).
type detachedContext struct {
	ctx context.Context
}

func (dctx detachedContext) Deadline() (deadline time.Time, ok bool) {
	return time.Time{}, false
}

func (dctx detachedContext) Done() <-chan struct{} {
	return nil
}

func (dctx detachedContext) Err() error {
	return nil
}

func (dctx detachedContext) Value(key interface{}) interface{} {
	return dctx.ctx.Value(key)
}

// runWorkerWithTimeout invokes worker on a detached context and races it
// against timeout. If the timer fires first, the call is reported as a
// timeout and the worker's eventual result is discarded: the worker is
// never cancelled, but its late resolution must not mutate the Store,
// WaitingRegistry, or WorkerRegistry, so nothing reads resultCh again once
// this function has returned on the timeout branch.
//
// A synchronous panic from worker is treated identically to a returned
// error, per the timeout wrapper's contract.
func runWorkerWithTimeout(ctx context.Context, worker Worker, timeout time.Duration) (interface{}, error, bool) {
	resultCh := make(chan workerResult, 1)
	detached := detachedContext{ctx}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- workerResult{err: fmt.Errorf("swrcache: worker panicked: %v", r)}
			}
		}()

		v, err := worker(detached)
		resultCh <- workerResult{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.value, res.err, false
	case <-timer.C:
		return nil, nil, true
	}
}
