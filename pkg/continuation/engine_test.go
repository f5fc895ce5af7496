/*
Copyright (c) 2023 PaddlePaddle Authors. All Rights Reserve.

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

package continuation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

// funcHandler adapts a function to Handler
type funcHandler struct {
	name string
	run  func(opCtx *OperationContext, input *Input) (*Result, error)
}

func (h *funcHandler) Name() string {
	return h.name
}

func (h *funcHandler) RunOperation(opCtx *OperationContext, input *Input) (*Result, error) {
	return h.run(opCtx, input)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() config.ContinuationConfig {
	return config.ContinuationConfig{
		WorkerCount:       2,
		BatchSize:         100,
		PumpInterval:      10 * time.Millisecond,
		LeaseDuration:     time.Minute,
		MaxRetryAttempts:  3,
		BaseBackoff:       time.Second,
		MaxBackoff:        10 * time.Second,
		AwaitPollInterval: 10 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, handlers ...Handler) (*Engine, *testClock) {
	storage.InitMockDB()
	registry := NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	engine := NewEngine(testConfig(), storage.Continuation, registry)
	clock := &testClock{now: model.Now()}
	engine.now = clock.Now
	return engine, clock
}

func twoPhaseHandler() Handler {
	return &funcHandler{name: "two-phase", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
		switch input.Phase {
		case "begin":
			next, err := NewInput("poll", map[string]string{"deploymentID": "d-1"})
			if err != nil {
				return nil, err
			}
			return InProgress(next, 0), nil
		case "poll":
			var payload map[string]string
			if err := input.Decode(&payload); err != nil {
				return nil, err
			}
			if payload["deploymentID"] != "d-1" {
				return Failed("unexpected payload"), nil
			}
			return Succeeded(), nil
		}
		return Failed("unknown phase " + input.Phase), nil
	}}
}

func TestEngine_TwoPhase(t *testing.T) {
	engine, _ := newTestEngine(t, twoPhaseHandler())
	ctx := context.TODO()

	id, err := engine.Submit(ctx, "two-phase", &Input{Phase: "begin"})
	require.NoError(t, err)

	turns, err := engine.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, turns)
	op, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOperationInProgress, op.Status)
	assert.Equal(t, 1, op.Turns)
	assert.True(t, strings.Contains(op.Input, `"phase":"poll"`), op.Input)

	turns, err = engine.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, turns)
	op, err = engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOperationSucceeded, op.Status)
	assert.NotNil(t, op.CompletedAt)

	// terminal operations are never dispatched again
	turns, err = engine.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, turns)
}

func TestEngine_SubmitWithIDDedupe(t *testing.T) {
	engine, _ := newTestEngine(t, twoPhaseHandler())
	ctx := context.TODO()

	id, err := engine.SubmitWithID(ctx, "create-res-1", "two-phase", "res-1", &Input{Phase: "begin"})
	require.NoError(t, err)
	again, err := engine.SubmitWithID(ctx, "create-res-1", "two-phase", "res-1", &Input{Phase: "other"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	ops, err := engine.ListByTarget(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, 1, len(ops))
	assert.True(t, strings.Contains(ops[0].Input, `"phase":"begin"`))

	_, err = engine.SubmitWithID(ctx, "nil-input", "two-phase", "", nil)
	assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
}

func TestEngine_IdempotentResume(t *testing.T) {
	created := map[string]int{}
	failOnce := true
	handler := &funcHandler{name: "create", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
		// deterministic name, create only if absent
		name := "vm-" + opCtx.OperationID
		if _, ok := created[name]; !ok {
			created[name] = 1
		}
		if failOnce {
			failOnce = false
			return nil, errors.TransientProviderErrorf(time.Second, "connection reset after create")
		}
		return Succeeded(), nil
	}}
	engine, clock := newTestEngine(t, handler)
	ctx := context.TODO()

	id, err := engine.Submit(ctx, "create", &Input{Phase: "begin"})
	require.NoError(t, err)
	_, err = engine.RunDue(ctx)
	require.NoError(t, err)

	op, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOperationInProgress, op.Status)
	assert.Equal(t, 1, op.RetryAttempt)
	assert.Equal(t, 0, op.Turns)
	assert.True(t, op.DueTime.Equal(clock.Now().Add(time.Second)), "due %s", op.DueTime)

	// not due yet
	turns, err := engine.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, turns)

	clock.Advance(time.Second)
	turns, err = engine.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, turns)

	op, err = engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOperationSucceeded, op.Status)
	assert.Equal(t, 0, op.RetryAttempt)
	assert.Equal(t, 1, len(created))
}

func TestEngine_Failures(t *testing.T) {
	testCases := []struct {
		name       string
		handler    Handler
		submitAs   string
		iterations int
		reason     string
	}{
		{
			name: "retry ceiling",
			handler: &funcHandler{name: "flaky", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
				return nil, errors.TransientProviderErrorf(0, "throttled")
			}},
			submitAs:   "flaky",
			iterations: 3,
			reason:     errors.RetryLimitExceeded,
		},
		{
			name: "terminal error",
			handler: &funcHandler{name: "full", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
				return nil, errors.CapacityExhaustedError("no headroom")
			}},
			submitAs:   "full",
			iterations: 1,
			reason:     errors.CapacityExhausted,
		},
		{
			name: "in progress without next input",
			handler: &funcHandler{name: "broken", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
				return InProgress(nil, 0), nil
			}},
			submitAs:   "broken",
			iterations: 1,
			reason:     errors.HandlerInvariantViolation,
		},
		{
			name: "terminal result with next input",
			handler: &funcHandler{name: "broken-terminal", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
				return &Result{Status: schema.StatusOperationSucceeded, NextInput: &Input{}}, nil
			}},
			submitAs:   "broken-terminal",
			iterations: 1,
			reason:     errors.HandlerInvariantViolation,
		},
		{
			name: "handler panic",
			handler: &funcHandler{name: "panic", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
				panic("nil map")
			}},
			submitAs:   "panic",
			iterations: 1,
			reason:     errors.HandlerInvariantViolation,
		},
		{
			name:       "missing handler",
			handler:    twoPhaseHandler(),
			submitAs:   "not-registered",
			iterations: 1,
			reason:     errors.HandlerInvariantViolation,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, clock := newTestEngine(t, tc.handler)
			ctx := context.TODO()
			id, err := engine.Submit(ctx, tc.submitAs, &Input{Phase: "begin"})
			require.NoError(t, err)

			for i := 0; i < tc.iterations; i++ {
				turns, err := engine.RunDue(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, turns)
				clock.Advance(time.Minute)
			}
			op, err := engine.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, schema.StatusOperationFailed, op.Status)
			assert.True(t, strings.HasPrefix(op.ErrorReason, tc.reason), op.ErrorReason)
		})
	}
}

func TestEngine_CancelDiscardsResult(t *testing.T) {
	var engine *Engine
	var turnErr error
	handler := &funcHandler{name: "slow", run: func(opCtx *OperationContext, input *Input) (*Result, error) {
		// the operation is cancelled while its turn is running
		require.NoError(t, engine.Cancel(context.TODO(), opCtx.OperationID))
		turnErr = opCtx.Err()
		return InProgress(&Input{Phase: "next"}, 0), nil
	}}
	engine, _ = newTestEngine(t, handler)
	ctx := context.TODO()

	id, err := engine.Submit(ctx, "slow", &Input{Phase: "begin"})
	require.NoError(t, err)
	turns, err := engine.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, turns)
	assert.Equal(t, context.Canceled, turnErr)

	op, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOperationCancelled, op.Status)
	assert.Equal(t, 0, op.Turns)
	assert.True(t, strings.Contains(op.Input, `"phase":"begin"`))

	// cancelling twice is fine, cancelling a finished operation is not
	assert.NoError(t, engine.Cancel(ctx, id))
	done, err := engine.Submit(ctx, "slow", &Input{Phase: "begin"})
	require.NoError(t, err)
	_, err = storage.Continuation.RequestCancel(done, "test")
	require.NoError(t, err)
	assert.NoError(t, engine.Cancel(ctx, done))
	assert.Equal(t, errors.OperationNotFound, errors.CodeOf(engine.Cancel(ctx, "missing")))
}

func TestEngine_CancelTerminal(t *testing.T) {
	engine, _ := newTestEngine(t, twoPhaseHandler())
	ctx := context.TODO()
	id, err := engine.Submit(ctx, "two-phase", &Input{Phase: "unknown"})
	require.NoError(t, err)
	_, err = engine.RunDue(ctx)
	require.NoError(t, err)

	err = engine.Cancel(ctx, id)
	assert.Equal(t, errors.InvalidResourceState, errors.CodeOf(err))
}

func TestEngine_RunAndAwait(t *testing.T) {
	storage.InitMockDB()
	registry := NewRegistry()
	require.NoError(t, registry.Register(twoPhaseHandler()))
	engine := NewEngine(testConfig(), storage.Continuation, registry)

	stopCh := make(chan struct{})
	defer close(stopCh)
	engine.Run(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := engine.Submit(ctx, "two-phase", &Input{Phase: "begin"})
	require.NoError(t, err)
	op, err := engine.Await(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusOperationSucceeded, op.Status)
	assert.Equal(t, 2, op.Turns)
}

func TestEngine_Backoff(t *testing.T) {
	engine := &Engine{conf: testConfig()}
	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 10 * time.Second},
		{attempt: 60, want: 10 * time.Second},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, engine.backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	registry := NewRegistry()
	assert.NoError(t, registry.Register(twoPhaseHandler()))
	assert.Error(t, registry.Register(twoPhaseHandler()))
	assert.Equal(t, []string{"two-phase"}, registry.Names())
}
