// ABOUTME: Single-flight task dispatcher with interrupt semantics.
// ABOUTME: Owns the pending queue and the one in-flight slot, serialized by a single lock.

package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
)

const (
	successPrefix = "Task has succeeded."
	failurePrefix = "Task has failed."

	defaultQueueSize = 128
)

// Name is the logical actor name the orchestrator registers under.
const Name = "orchestrator"

// entry is one queued subtask tagged with the client it came from.
type entry struct {
	taskText     string
	originClient string
}

// slot is the single in-flight task. seq disambiguates results: a result
// carrying a different sequence belongs to abandoned work and is discarded.
type slot struct {
	entry
	seq uint64
}

// Options configures an Orchestrator.
type Options struct {
	Router     *actor.Router
	WorkerName string // actor name assignments are sent to
	HeraldName string // actor name client-facing responses are sent to
	QueueSize  int    // max pending subtasks; excess fragments are dropped
	Logger     *slog.Logger
}

// Orchestrator consumes task requests, decomposes them into subtasks, and
// dispatches them to the worker one at a time. All queue and slot mutation
// happens under a single mutex; router sends happen outside it so a slow
// endpoint never holds up submit/result handling.
type Orchestrator struct {
	router  *actor.Router
	worker  string
	herald  string
	mailbox *actor.Mailbox
	logger  *slog.Logger

	mu        sync.Mutex
	queue     []entry
	inFlight  *slot
	seq       uint64
	queueSize int
}

// New creates an orchestrator. Call Run to start draining its mailbox.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Orchestrator{
		router:    opts.Router,
		worker:    opts.WorkerName,
		herald:    opts.HeraldName,
		mailbox:   actor.NewMailbox(Name, 64, logger),
		logger:    logger.With("component", "orchestrator"),
		queueSize: size,
	}
}

// Mailbox returns the endpoint to register under the orchestrator's name.
func (o *Orchestrator) Mailbox() *actor.Mailbox {
	return o.mailbox
}

// Run drains the orchestrator mailbox until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.mailbox.C():
			switch m := msg.(type) {
			case actor.TaskRequest:
				o.Submit(m.RawText, m.OriginClient)
			case actor.TaskResult:
				o.HandleResult(m)
			default:
				o.logger.Warn("unexpected message in orchestrator mailbox")
			}
		}
	}
}

// Submit decomposes rawText and enqueues the resulting subtasks in order.
// If a task is already in flight the submission is an interrupt: the pending
// queue and the in-flight slot are cleared first. The outstanding downstream
// work is abandoned, not cancelled; its eventual result fails the sequence
// check in HandleResult and is discarded.
func (o *Orchestrator) Submit(rawText, originClient string) {
	tasks := Decompose(rawText)
	if len(tasks) == 0 {
		o.logger.Debug("submission decomposed to nothing", "origin_client", originClient)
		return
	}

	o.mu.Lock()
	if o.inFlight != nil {
		o.logger.Info("interrupt: abandoning in-flight task",
			"abandoned_task", o.inFlight.taskText,
			"abandoned_seq", o.inFlight.seq,
			"queued_dropped", len(o.queue),
			"origin_client", originClient,
		)
		o.inFlight = nil
		o.queue = o.queue[:0]
	}
	for _, task := range tasks {
		if len(o.queue) >= o.queueSize {
			o.logger.Warn("task queue full, dropping subtask",
				"task", task,
				"origin_client", originClient,
			)
			continue
		}
		o.queue = append(o.queue, entry{taskText: task, originClient: originClient})
	}
	o.logger.Info("submission enqueued",
		"subtasks", len(tasks),
		"origin_client", originClient,
	)
	assignment, ok := o.dispatchLocked()
	o.mu.Unlock()

	if ok {
		o.sendAssignment(assignment)
	}
}

// HandleResult pairs a worker result with the in-flight slot. Results with
// no occupied slot, or a mismatched sequence, are stale and discarded with
// no client-visible effect.
func (o *Orchestrator) HandleResult(res actor.TaskResult) {
	o.mu.Lock()
	if o.inFlight == nil {
		o.mu.Unlock()
		o.logger.Debug("discarding stale result: no task in flight", "seq", res.Seq)
		return
	}
	if res.Seq != o.inFlight.seq {
		cur := o.inFlight.seq
		o.mu.Unlock()
		o.logger.Debug("discarding stale result: sequence mismatch",
			"result_seq", res.Seq,
			"in_flight_seq", cur,
		)
		return
	}
	finished := *o.inFlight
	o.inFlight = nil
	assignment, dispatchNext := o.dispatchLocked()
	o.mu.Unlock()

	prefix := successPrefix
	if res.Status != actor.StatusDone {
		prefix = failurePrefix
	}
	response := actor.TaskResponse{
		ClientID:    finished.originClient,
		Text:        prefix + " " + res.Detail,
		OriginAgent: Name,
	}
	if err := o.router.Send(o.herald, response); err != nil {
		o.logger.Error("sending task response", "error", err, "client_id", finished.originClient)
	}

	if dispatchNext {
		o.sendAssignment(assignment)
	}
}

// Status reports whether a task is in flight and how many are queued.
func (o *Orchestrator) Status() (busy bool, queued int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight != nil, len(o.queue)
}

// dispatchLocked pops the queue head into the in-flight slot. No-op when the
// slot is occupied or the queue is empty. Must be called with mu held; the
// returned assignment is sent by the caller after releasing the lock.
func (o *Orchestrator) dispatchLocked() (actor.TaskAssignment, bool) {
	if o.inFlight != nil || len(o.queue) == 0 {
		return actor.TaskAssignment{}, false
	}
	head := o.queue[0]
	o.queue = o.queue[1:]
	o.seq++
	o.inFlight = &slot{entry: head, seq: o.seq}
	return actor.TaskAssignment{Seq: o.seq, TaskText: head.taskText}, true
}

// sendAssignment forwards an assignment to the worker. A routing failure
// (unknown or unreachable worker) is converted into an error result for the
// same sequence so the client hears about it and the queue keeps moving.
func (o *Orchestrator) sendAssignment(assignment actor.TaskAssignment) {
	o.logger.Info("dispatching task",
		"seq", assignment.Seq,
		"task", assignment.TaskText,
	)
	if err := o.router.Send(o.worker, assignment); err != nil {
		o.logger.Error("dispatch failed", "seq", assignment.Seq, "error", err)
		o.HandleResult(actor.TaskResult{
			Seq:    assignment.Seq,
			Status: actor.StatusError,
			Detail: "could not reach worker: " + err.Error(),
		})
	}
}
