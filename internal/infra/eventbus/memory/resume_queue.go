// Package memory provides an in-process resume queue for tests and
// single-process runs.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

var _ pipeline.JobResubmitter = (*resumeQueue)(nil)

// HandlerFunc consumes one resume command.
type HandlerFunc func(ctx context.Context, cmd pipeline.ResumeCommand) error

// resumeQueue delivers resume commands synchronously to registered handlers.
// Commands are also recorded so tests can assert on what was resubmitted.
type resumeQueue struct {
	mu       sync.Mutex
	handlers []HandlerFunc
	commands []pipeline.ResumeCommand
}

// NewResumeQueue creates an empty in-process resume queue.
func NewResumeQueue() *resumeQueue {
	return &resumeQueue{}
}

// Subscribe registers a handler invoked for every resubmitted command.
func (q *resumeQueue) Subscribe(handler HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Resubmit delivers the command to every handler. The first handler error
// aborts delivery and is returned to the caller.
func (q *resumeQueue) Resubmit(ctx context.Context, cmd pipeline.ResumeCommand) error {
	q.mu.Lock()
	q.commands = append(q.commands, cmd)
	handlers := append([]HandlerFunc(nil), q.handlers...)
	q.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Commands returns a copy of every command resubmitted so far.
func (q *resumeQueue) Commands() []pipeline.ResumeCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pipeline.ResumeCommand(nil), q.commands...)
}
