package controller

import "context"

type subscriber struct {
	ch     chan State
	closed bool
}

// send replaces any undelivered state with s. Callers hold Controller.mu.
func (s *subscriber) send(state State) {
	if s.closed {
		return
	}
	select {
	case s.ch <- state:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- state:
	default:
	}
}

func (s *subscriber) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribe streams state changes, starting with the current state. A slow reader
// only sees the newest state. The channel closes when ctx is done or the controller closes.
func (c *Controller) Subscribe(ctx context.Context) <-chan State {
	sub := &subscriber{ch: make(chan State, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.close()
		return sub.ch
	}
	c.subscribers[sub] = struct{}{}
	sub.send(c.state)
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[sub]; ok {
			delete(c.subscribers, sub)
			sub.close()
		}
	}()
	return sub.ch
}

func (c *Controller) publishLocked() {
	for sub := range c.subscribers {
		sub.send(c.state)
	}
}
