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
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/logger"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/metrics"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

const (
	EngineName = "ContinuationEngine"
	// maxResultReapply bounds how often a turn result is re-applied after a version conflict
	maxResultReapply = 3
	maxStoreRequeues = 5
)

// Engine persists, schedules and runs continuation operations
type Engine struct {
	conf     config.ContinuationConfig
	store    storage.ContinuationStoreInterface
	registry *Registry
	queue    workqueue.RateLimitingInterface
	// operation id -> context.CancelFunc of the running turn
	running cmap.ConcurrentMap
	started atomic.Bool
	now     func() time.Time
}

func NewEngine(conf config.ContinuationConfig, store storage.ContinuationStoreInterface, registry *Registry) *Engine {
	return &Engine{
		conf:     conf,
		store:    store,
		registry: registry,
		queue:    workqueue.NewNamedRateLimitingQueue(workqueue.DefaultControllerRateLimiter(), EngineName),
		running:  cmap.New(),
		now:      model.Now,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Submit creates an operation with a generated id
func (e *Engine) Submit(ctx context.Context, handlerName string, input *Input) (string, error) {
	return e.SubmitWithID(ctx, uuid.NewString(), handlerName, "", input)
}

// SubmitWithID persists the operation before it can be dispatched, submitting an existing id is a no-op
func (e *Engine) SubmitWithID(ctx context.Context, operationID, handlerName, targetID string, input *Input) (string, error) {
	if input == nil {
		return "", errors.HandlerInvariantViolationError("operation %s submitted without input", operationID)
	}
	existing, err := e.store.Get(operationID)
	if err == nil {
		log.Infof("operation %s already submitted, handler %s", existing.ID, existing.HandlerName)
		return existing.ID, nil
	}
	if !errors.IsCode(err, errors.OperationNotFound) {
		return "", err
	}
	raw, err := input.encode()
	if err != nil {
		return "", err
	}
	op := &model.Continuation{
		ID:          operationID,
		HandlerName: handlerName,
		TargetID:    targetID,
		Input:       raw,
		Status:      schema.StatusOperationCreated,
		DueTime:     e.now(),
	}
	if err = e.store.Create(op); err != nil {
		if errors.IsDuplicatedKey(err) {
			return operationID, nil
		}
		log.Errorf("submit operation %s failed, err: %v", operationID, err)
		return "", err
	}
	log.Infof("operation %s submitted, handler %s, target %s", operationID, handlerName, targetID)
	if e.started.Load() {
		e.queue.Add(operationID)
	}
	return operationID, nil
}

// Cancel moves a non-terminal operation to Cancelled and interrupts its running turn
func (e *Engine) Cancel(ctx context.Context, operationID string) error {
	cancelled, err := e.store.RequestCancel(operationID, "cancelled by request")
	if err != nil {
		return err
	}
	if !cancelled {
		op, err := e.store.Get(operationID)
		if err != nil {
			return err
		}
		if op.Status == schema.StatusOperationCancelled {
			return nil
		}
		return errors.InvalidResourceStateError(operationID, fmt.Sprintf("operation is already %s", op.Status))
	}
	if value, ok := e.running.Get(operationID); ok {
		value.(context.CancelFunc)()
	}
	log.Infof("operation %s cancelled", operationID)
	return nil
}

func (e *Engine) Get(ctx context.Context, operationID string) (*model.Continuation, error) {
	return e.store.Get(operationID)
}

func (e *Engine) ListByTarget(ctx context.Context, targetID string) ([]model.Continuation, error) {
	return e.store.ListByTarget(targetID)
}

// Await polls the operation until it is terminal or ctx is done
func (e *Engine) Await(ctx context.Context, operationID string, poll time.Duration) (*model.Continuation, error) {
	if poll <= 0 {
		poll = e.conf.AwaitPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		op, err := e.store.Get(operationID)
		if err != nil {
			return nil, err
		}
		if op.Status.IsTerminal() {
			return op, nil
		}
		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run starts the message pump and the workers, they stop when stopCh is closed
func (e *Engine) Run(stopCh <-chan struct{}) {
	e.started.Store(true)
	log.Infof("start %s with %d workers, handlers %v", EngineName, e.conf.WorkerCount, e.registry.Names())
	for i := 0; i < e.conf.WorkerCount; i++ {
		go wait.Until(e.runWorker, time.Second, stopCh)
	}
	go wait.Until(e.pump, e.conf.PumpInterval, stopCh)
	go func() {
		<-stopCh
		log.Infof("stop %s", EngineName)
		e.queue.ShutDown()
	}()
}

// RunDue runs one turn of every operation due now, inline, and returns the number of turns
func (e *Engine) RunDue(ctx context.Context) (int, error) {
	ops, err := e.store.ListDue(e.now(), e.conf.BatchSize)
	if err != nil {
		return 0, err
	}
	turns := 0
	for _, op := range ops {
		ran, err := e.processOperation(ctx, op.ID)
		if err != nil {
			return turns, err
		}
		if ran {
			turns++
		}
	}
	return turns, nil
}

func (e *Engine) pump() {
	ops, err := e.store.ListDue(e.now(), e.conf.BatchSize)
	if err != nil {
		log.Errorf("list due operations failed, err: %v", err)
		return
	}
	for _, op := range ops {
		e.queue.Add(op.ID)
	}
}

func (e *Engine) runWorker() {
	for e.processNextItem() {
	}
}

func (e *Engine) processNextItem() bool {
	obj, shutdown := e.queue.Get()
	if shutdown {
		return false
	}
	defer e.queue.Done(obj)
	operationID, ok := obj.(string)
	if !ok {
		log.Errorf("invalid work item %v", obj)
		e.queue.Forget(obj)
		return true
	}
	if _, err := e.processOperation(context.Background(), operationID); err != nil {
		log.Errorf("process operation %s failed, err: %v", operationID, err)
		if e.queue.NumRequeues(operationID) < maxStoreRequeues {
			e.queue.AddRateLimited(operationID)
			return true
		}
	}
	e.queue.Forget(operationID)
	return true
}

// processOperation runs one turn if the operation is due and this caller wins its lease
func (e *Engine) processOperation(ctx context.Context, operationID string) (bool, error) {
	op, err := e.store.Get(operationID)
	if err != nil {
		return false, err
	}
	now := e.now()
	if !op.Status.IsSchedulable() || op.DueTime.After(now) || op.LeaseUntil.After(now) {
		return false, nil
	}
	leased, err := e.store.AcquireLease(op.ID, op.Version, now.Add(e.conf.LeaseDuration))
	if err != nil || !leased {
		return false, err
	}
	op.Version++

	turnCtx, cancel := context.WithCancel(ctx)
	e.running.Set(op.ID, cancel)
	defer func() {
		e.running.Remove(op.ID)
		cancel()
	}()

	entry := logger.LoggerForOperation(op.ID, op.HandlerName)
	result, turnErr := e.invoke(turnCtx, op, entry)
	outcome := e.decide(op, result, turnErr, e.now())
	if turnErr != nil {
		entry.Warningf("turn %d attempt %d failed, err: %v", op.Turns, op.RetryAttempt, turnErr)
	}
	if err = e.persist(op, outcome, entry); err != nil {
		return true, err
	}
	metrics.ObserveTurn(op.HandlerName, string(outcome.status))
	entry.Debugf("turn finished, status %s, next due %s", outcome.status, outcome.dueTime)
	return true, nil
}

func (e *Engine) invoke(ctx context.Context, op *model.Continuation, entry *log.Entry) (result *Result, err error) {
	handler, ok := e.registry.Get(op.HandlerName)
	if !ok {
		return nil, errors.HandlerInvariantViolationError("no handler registered with name %s", op.HandlerName)
	}
	input, err := decodeInput(op.Input)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("handler panic: %v\n%s", r, debug.Stack())
			result, err = nil, errors.HandlerInvariantViolationError("handler panic: %v", r)
		}
	}()
	opCtx := &OperationContext{
		Context:     ctx,
		OperationID: op.ID,
		HandlerName: op.HandlerName,
		TargetID:    op.TargetID,
		Attempt:     op.RetryAttempt,
		Turn:        op.Turns,
		Logger:      entry,
	}
	return handler.RunOperation(opCtx, input)
}

// turnOutcome is the state a turn leaves behind
type turnOutcome struct {
	baseTurns    int
	status       schema.OperationStatus
	input        string
	dueTime      time.Time
	retryAttempt int
	turns        int
	errorReason  string
	completedAt  *time.Time
}

func (o *turnOutcome) applyTo(op *model.Continuation) {
	op.Status = o.status
	op.Input = o.input
	op.DueTime = o.dueTime
	op.RetryAttempt = o.retryAttempt
	op.Turns = o.turns
	op.ErrorReason = o.errorReason
	op.CompletedAt = o.completedAt
	op.LeaseUntil = time.Time{}
}

func (o *turnOutcome) fail(reason string, now time.Time) *turnOutcome {
	o.status = schema.StatusOperationFailed
	o.errorReason = reason
	o.completedAt = &now
	return o
}

func (e *Engine) decide(op *model.Continuation, result *Result, turnErr error, now time.Time) *turnOutcome {
	out := &turnOutcome{
		baseTurns:    op.Turns,
		status:       op.Status,
		input:        op.Input,
		dueTime:      op.DueTime,
		retryAttempt: op.RetryAttempt,
		turns:        op.Turns,
		errorReason:  op.ErrorReason,
	}
	if turnErr != nil {
		if !errors.IsRetryable(turnErr) {
			return out.fail(errorReason(turnErr), now)
		}
		attempt := op.RetryAttempt + 1
		if attempt >= e.conf.MaxRetryAttempts {
			return out.fail(errorReason(errors.RetryLimitExceededError(attempt, turnErr)), now)
		}
		delay := errors.RetryAfterOf(turnErr)
		if delay <= 0 {
			delay = e.backoff(attempt)
		}
		out.status = schema.StatusOperationInProgress
		out.retryAttempt = attempt
		out.dueTime = now.Add(delay)
		out.errorReason = errorReason(turnErr)
		return out
	}
	if err := result.Validate(); err != nil {
		return out.fail(errorReason(err), now)
	}
	out.turns++
	out.retryAttempt = 0
	if result.Status == schema.StatusOperationInProgress {
		raw, err := result.NextInput.encode()
		if err != nil {
			return out.fail(errorReason(errors.HandlerInvariantViolationError("encode next input: %v", err)), now)
		}
		out.status = schema.StatusOperationInProgress
		out.input = raw
		out.dueTime = now.Add(result.RetryAfter)
		out.errorReason = ""
		return out
	}
	out.status = result.Status
	out.errorReason = result.ErrorReason
	out.completedAt = &now
	return out
}

// backoff is min(base * 2^(attempt-1), max)
func (e *Engine) backoff(attempt int) time.Duration {
	delay := e.conf.BaseBackoff
	for i := 1; i < attempt && delay < e.conf.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > e.conf.MaxBackoff {
		delay = e.conf.MaxBackoff
	}
	return delay
}

// persist writes the outcome with the version leased for the turn. On a conflict the record is
// re-read, an operation that finished or moved on meanwhile keeps its state and the result is dropped.
func (e *Engine) persist(op *model.Continuation, out *turnOutcome, entry *log.Entry) error {
	expected := op.Version
	out.applyTo(op)
	err := e.store.UpdateWithVersion(op, expected)
	for i := 0; i < maxResultReapply && errors.IsCode(err, errors.StaleConcurrencyConflict); i++ {
		fresh, getErr := e.store.Get(op.ID)
		if getErr != nil {
			return getErr
		}
		if fresh.Status.IsTerminal() || fresh.Turns != out.baseTurns {
			entry.Infof("operation is %s at turn %d, turn result discarded", fresh.Status, fresh.Turns)
			return nil
		}
		out.applyTo(fresh)
		err = e.store.UpdateWithVersion(fresh, fresh.Version)
	}
	return err
}

func errorReason(err error) string {
	var be *errors.BrokerError
	if stderrors.As(err, &be) {
		return fmt.Sprintf("%s: %s", be.Code, be.Message)
	}
	return fmt.Sprintf("%s: %v", errors.ErrorUnknown, err)
}
