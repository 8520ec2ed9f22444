// Package notify hands account transitions to external collaborators
// (chat broadcast, audit mail) without blocking the state machine.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/payout/models"
	"goflare.io/payout/models/enum"
)

const (
	notifySubjectPrefix = "payout.notify."
	stateSubjectPrefix  = "payout.account.state."
	droppedSubject      = "payout.audit.dropped"
)

// Publisher delivers a message to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notification is the payload collaborators receive for a terminal transition.
type Notification struct {
	AccountID string            `json:"account_id"`
	Kind      enum.AccountState `json:"kind"`
	EventID   string            `json:"event_id"`
	At        time.Time         `json:"at"`
}

type message struct {
	subject string
	body    any
	account string
}

// Dispatcher is a fixed worker pool draining a bounded queue. Enqueueing never
// blocks; a full or closed queue drops the message with an error log.
type Dispatcher struct {
	tasks     chan message
	publisher Publisher
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(publisher Publisher, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	d := &Dispatcher{
		tasks:     make(chan message, queueSize),
		publisher: publisher,
		logger:    logger,
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}

	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for m := range d.tasks {
		d.publish(m)
	}
}

func (d *Dispatcher) publish(m message) {
	data, err := json.Marshal(m.body)
	if err != nil {
		d.logger.Error("Failed to encode notification", zap.String("subject", m.subject), zap.Error(err))
		return
	}
	if err = d.publisher.Publish(m.subject, data); err != nil {
		d.logger.Error("Failed to publish notification",
			zap.String("subject", m.subject),
			zap.String("account_id", m.account),
			zap.Error(err))
	}
}

// Notify tells collaborators that accountID reached a terminal state.
func (d *Dispatcher) Notify(n Notification) {
	d.enqueue(message{subject: notifySubjectPrefix + string(n.Kind), body: n, account: n.AccountID})
}

// PublishStateChange announces any committed transition.
func (d *Dispatcher) PublishStateChange(change models.StateChange) {
	d.enqueue(message{subject: stateSubjectPrefix + string(change.To), body: change, account: change.AccountID})
}

// PublishDrop reports an event that was acknowledged without being applied.
func (d *Dispatcher) PublishDrop(drop models.DroppedEvent) {
	d.enqueue(message{subject: droppedSubject, body: drop, account: drop.AccountID})
}

func (d *Dispatcher) enqueue(m message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Error("Dispatcher closed, dropping notification",
			zap.String("subject", m.subject), zap.String("account_id", m.account))
		return
	}

	select {
	case d.tasks <- m:
	default:
		d.logger.Error("Notification queue full, dropping notification",
			zap.String("subject", m.subject), zap.String("account_id", m.account))
	}
}

// Shutdown stops accepting messages and waits for queued ones to be published.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
}
