package kernel

import "sync"

// ChanFuture is a Future fed by a kernel backend. Producers call Push for
// each message and Settle once; delivery to Messages never blocks the
// producer because pushed messages are queued.
type ChanFuture struct {
	msgID     string
	out       chan *Message
	wake      chan struct{}
	done      chan struct{}
	onDispose func()

	mu       sync.Mutex
	queue    []*Message
	settled  bool
	disposed bool
	reply    *Message
	err      error

	disposeOnce sync.Once
}

// NewFuture creates a future for the request msgID. onDispose, if non-nil,
// is called once when the future is disposed.
func NewFuture(msgID string, onDispose func()) *ChanFuture {
	f := &ChanFuture{
		msgID:     msgID,
		out:       make(chan *Message),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		onDispose: onDispose,
	}
	go f.pump()
	return f
}

// MsgID returns the id of the execute request.
func (f *ChanFuture) MsgID() string { return f.msgID }

// Messages returns the delivery channel.
func (f *ChanFuture) Messages() <-chan *Message { return f.out }

// Push queues msg for delivery. Returns false once the future is settled or
// disposed.
func (f *ChanFuture) Push(msg *Message) bool {
	f.mu.Lock()
	if f.settled || f.disposed {
		f.mu.Unlock()
		return false
	}
	f.queue = append(f.queue, msg)
	f.mu.Unlock()
	f.signal()
	return true
}

// Settle records how the request finished. Messages is closed after every
// queued message has been delivered. Only the first call has an effect.
func (f *ChanFuture) Settle(reply *Message, err error) {
	f.mu.Lock()
	if f.settled || f.disposed {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.reply = reply
	f.err = err
	f.mu.Unlock()
	f.signal()
}

// Settled reports whether Settle has been called.
func (f *ChanFuture) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Reply reports how the request settled.
func (f *ChanFuture) Reply() (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settled {
		if f.disposed {
			return nil, ErrDisposed
		}
		return nil, ErrClosed
	}
	return f.reply, f.err
}

// Dispose stops delivery. Queued messages are dropped.
func (f *ChanFuture) Dispose() {
	f.disposeOnce.Do(func() {
		f.mu.Lock()
		f.disposed = true
		f.queue = nil
		f.mu.Unlock()
		close(f.done)
		if f.onDispose != nil {
			f.onDispose()
		}
	})
}

func (f *ChanFuture) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *ChanFuture) pump() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if f.disposed {
			f.mu.Unlock()
			return
		}
		if len(f.queue) > 0 {
			msg := f.queue[0]
			f.queue[0] = nil
			f.queue = f.queue[1:]
			f.mu.Unlock()
			select {
			case f.out <- msg:
			case <-f.done:
				return
			}
			continue
		}
		settled := f.settled
		f.mu.Unlock()
		if settled {
			return
		}
		select {
		case <-f.wake:
		case <-f.done:
			return
		}
	}
}
