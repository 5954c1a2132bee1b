package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Async hands notifications to a background worker so delivery never blocks
// the caller. When the buffer is full the notification is dropped and logged.
type Async struct {
	next  Notifier
	log   logrus.FieldLogger
	queue chan Notification
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAsync(next Notifier, buffer int, log logrus.FieldLogger) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{next: next, log: log, queue: make(chan Notification, buffer)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for n := range a.queue {
		Send(context.Background(), a.next, a.log, n)
	}
}

func (a *Async) Notify(_ context.Context, n Notification) error {
	select {
	case a.queue <- n:
	default:
		a.log.WithField("kind", n.Kind).Warn("notification queue full; dropping")
	}
	return nil
}

// Close drains the queue and stops the worker.
func (a *Async) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}
