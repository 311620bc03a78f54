package ringlink

import (
	"sync"
	"time"
)

// AttemptFunc performs one attempt of a retried request. It must be
// re-entrant and side-effect-free beyond the underlying transport send.
type AttemptFunc func()

// ResultFunc is invoked exactly once when a task completes or fails. ctx
// carries whatever context the caller of Complete/Fail supplied, or nil
// when a task fails by attempt exhaustion.
type ResultFunc func(ctx interface{})

type task struct {
	uid         string
	period      time.Duration
	maxAttempts int
	attempts    int
	attempt     AttemptFunc
	onComplete  ResultFunc
	onFail      ResultFunc
	timer       *time.Timer
}

// TaskManager is the periodic-retry engine behind every outbound
// control request: a mutex-guarded uid->task map, first attempt fired
// synchronously at start, one retry per period until completion,
// failure, or attempt exhaustion.
//
// Completion and failure callbacks run after the task has been removed
// from the map and the manager's lock released, so a callback that
// re-entrantly calls back into the manager (e.g. completing another
// task) cannot deadlock.
type TaskManager struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewTaskManager returns an empty, ready-to-use TaskManager.
func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]*task)}
}

// CreateTask registers a new task under uid without starting it. uid
// must be unique among in-flight tasks; creating a task with a uid that
// is already in flight replaces the prior registration; callers are
// expected to generate a fresh uid per request.
func (tm *TaskManager) CreateTask(uid string, period time.Duration, maxAttempts int, attempt AttemptFunc, onComplete, onFail ResultFunc) {
	tm.mu.Lock()
	tm.tasks[uid] = &task{
		uid:         uid,
		period:      period,
		maxAttempts: maxAttempts,
		attempt:     attempt,
		onComplete:  onComplete,
		onFail:      onFail,
	}
	tm.mu.Unlock()
}

// StartTask fires the first attempt immediately and arms the retry
// timer. Starting an unknown uid is a silent no-op.
func (tm *TaskManager) StartTask(uid string) {
	tm.mu.Lock()
	t, ok := tm.tasks[uid]
	tm.mu.Unlock()
	if !ok {
		return
	}
	tm.runAttempt(t)
}

// CreateAndStartTask is the common case: register and immediately start
// in one call (the signalling layer's "build a packet, hand it to the
// TaskManager" path never needs the two-phase form).
func (tm *TaskManager) CreateAndStartTask(uid string, period time.Duration, maxAttempts int, attempt AttemptFunc, onComplete, onFail ResultFunc) {
	tm.CreateTask(uid, period, maxAttempts, attempt, onComplete, onFail)
	tm.StartTask(uid)
}

func (tm *TaskManager) runAttempt(t *task) {
	tm.mu.Lock()
	cur, ok := tm.tasks[t.uid]
	if !ok || cur != t {
		tm.mu.Unlock()
		return
	}
	t.attempts++
	tm.mu.Unlock()

	t.attempt()

	tm.mu.Lock()
	cur, ok = tm.tasks[t.uid]
	if ok && cur == t {
		t.timer = time.AfterFunc(t.period, func() { tm.retryTick(t) })
	}
	tm.mu.Unlock()
}

func (tm *TaskManager) retryTick(t *task) {
	tm.mu.Lock()
	cur, ok := tm.tasks[t.uid]
	if !ok || cur != t {
		tm.mu.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		delete(tm.tasks, t.uid)
		tm.mu.Unlock()
		t.onFail(nil)
		return
	}
	tm.mu.Unlock()
	tm.runAttempt(t)
}

// Complete finishes a task successfully. complete is idempotent with
// respect to unknown uids: if the task already finished, was
// cancelled, or never existed, this is a silent no-op.
func (tm *TaskManager) Complete(uid string, ctx interface{}) {
	tm.mu.Lock()
	t, ok := tm.tasks[uid]
	if ok {
		delete(tm.tasks, uid)
	}
	tm.mu.Unlock()
	if !ok {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.onComplete(ctx)
}

// Fail finishes a task unsuccessfully, idempotent with respect to
// unknown uids just like Complete. If Complete and Fail race for the
// same uid, whichever acquires the lock first wins and the other is a
// no-op, so exactly one of the two callbacks fires.
func (tm *TaskManager) Fail(uid string, ctx interface{}) {
	tm.mu.Lock()
	t, ok := tm.tasks[uid]
	if ok {
		delete(tm.tasks, uid)
	}
	tm.mu.Unlock()
	if !ok {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.onFail(ctx)
}

// CancelTask removes a task without invoking either callback.
func (tm *TaskManager) CancelTask(uid string) {
	tm.mu.Lock()
	t, ok := tm.tasks[uid]
	if ok {
		delete(tm.tasks, uid)
	}
	tm.mu.Unlock()
	if ok && t.timer != nil {
		t.timer.Stop()
	}
}

// CancelAllTasks removes every in-flight task without invoking callbacks.
func (tm *TaskManager) CancelAllTasks() {
	tm.mu.Lock()
	tasks := tm.tasks
	tm.tasks = make(map[string]*task)
	tm.mu.Unlock()
	for _, t := range tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
}

// HasTask reports whether uid is currently in flight.
func (tm *TaskManager) HasTask(uid string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.tasks[uid]
	return ok
}
