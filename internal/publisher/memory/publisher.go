// Package memory keeps job notifications in process so local runs and tests
// can inspect what would have been sent to Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// Notification is one recorded publish. Job fields are filled when the
// payload is a progress.Event.
type Notification struct {
	ID         string
	Topic      string
	JobID      string
	Kind       progress.Kind
	Pages      int
	OutputPath string
	Error      string
	Payload    any
}

// Publisher records notifications instead of sending them.
type Publisher struct {
	mu    sync.RWMutex
	notes []Notification
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records payload under topic and returns a sequential message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	note := Notification{
		ID:      fmt.Sprintf("memory-%d", len(p.notes)+1),
		Topic:   topic,
		Payload: payload,
	}
	if evt, ok := payload.(progress.Event); ok {
		note.JobID = evt.JobID
		if evt.Payload != nil {
			note.Kind = evt.Payload.Kind()
		}
		switch body := evt.Payload.(type) {
		case progress.JobComplete:
			note.Pages = body.Pages
			note.OutputPath = body.OutputPath
		case progress.AnalyzeComplete:
			note.Pages = body.Total
		case progress.JobFailed:
			note.Error = body.Error
		}
	}
	p.notes = append(p.notes, note)
	return note.ID, nil
}

// Notifications returns a copy of everything published so far.
func (p *Publisher) Notifications() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notification, len(p.notes))
	copy(out, p.notes)
	return out
}

// ForJob returns the notifications recorded for jobID in publish order.
func (p *Publisher) ForJob(jobID string) []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Notification
	for _, n := range p.notes {
		if n.JobID == jobID {
			out = append(out, n)
		}
	}
	return out
}
