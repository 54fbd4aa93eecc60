package wsconn

import "sync"

// outbox is a byte-bounded FIFO of outbound text frames.
//
// Push never blocks; Pop blocks until a frame is available or the outbox is
// closed. Frames still queued at Close are discarded.
type outbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   [][]byte
}

func newOutbox(maxBytes int) *outbox {
	o := &outbox{maxBytes: maxBytes}
	o.notEmpty = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.maxBytes > 0 && o.curBytes+len(frame) > o.maxBytes {
		return ErrSendQueueFull
	}

	o.frames = append(o.frames, frame)
	o.curBytes += len(frame)
	o.notEmpty.Signal()
	return nil
}

func (o *outbox) Pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.frames) == 0 && !o.closed {
		o.notEmpty.Wait()
	}
	if o.closed {
		return nil, false
	}
	frame := o.frames[0]
	o.frames[0] = nil
	o.frames = o.frames[1:]
	o.curBytes -= len(frame)
	return frame, true
}

func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.frames = nil
	o.curBytes = 0
	o.mu.Unlock()
	o.notEmpty.Broadcast()
}
