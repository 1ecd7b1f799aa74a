package authkit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// mailDispatcher decouples email delivery from the request path. Emit
// never blocks: when the buffer is full the message is dropped and
// counted. Delivery failures are logged without the secret.
type mailDispatcher struct {
	sink      MailSink
	ch        chan MailMessage
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newMailDispatcher(cfg MailConfig, sink MailSink) *mailDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpMailSink{}
	}

	d := &mailDispatcher{
		sink: sink,
		ch:   make(chan MailMessage, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *mailDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *mailDispatcher) deliver(msg MailMessage) {
	if err := d.sink.Send(context.Background(), msg); err != nil {
		log.Printf("authkit: %s mail delivery failed: %v", msg.Kind, err)
	}
}

// Emit queues a message without blocking the caller. Messages that
// cannot be queued, whether the buffer is full or the dispatcher is
// shutting down, are counted as dropped.
func (d *mailDispatcher) Emit(msg MailMessage) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}

	select {
	case d.ch <- msg:
	case <-d.done:
		d.dropped.Add(1)
	default:
		d.dropped.Add(1)
	}
}

// Close drains the buffer and stops the worker.
func (d *mailDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many messages were discarded, on a full buffer
// or during shutdown.
func (d *mailDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
