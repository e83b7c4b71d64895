package store

import (
	"context"
	"sync"
)

// memoryPubSub fans messages out to subscribers without blocking: a full
// subscriber buffer drops the message for that subscriber only.
type memoryPubSub struct {
	mu         sync.RWMutex
	channels   map[string]map[*memorySubscription]struct{}
	bufferSize int
	closed     bool
}

func newMemoryPubSub(bufferSize int) *memoryPubSub {
	return &memoryPubSub{
		channels:   make(map[string]map[*memorySubscription]struct{}),
		bufferSize: max(bufferSize, 1),
	}
}

func (p *memoryPubSub) publish(channel, message string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for sub := range p.channels[channel] {
		sub.send(message)
	}
}

func (p *memoryPubSub) subscribe(ctx context.Context, channel string) *memorySubscription {
	sub := &memorySubscription{
		ch:      make(chan string, p.bufferSize),
		done:    make(chan struct{}),
		channel: channel,
		owner:   p,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.closeChan()
		return sub
	}
	if p.channels[channel] == nil {
		p.channels[channel] = make(map[*memorySubscription]struct{})
	}
	p.channels[channel][sub] = struct{}{}
	p.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

func (p *memoryPubSub) unsubscribe(sub *memorySubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if subs, ok := p.channels[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(p.channels, sub.channel)
		}
	}
}

func (p *memoryPubSub) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	channels := p.channels
	p.channels = make(map[string]map[*memorySubscription]struct{})
	p.mu.Unlock()

	for _, subs := range channels {
		for sub := range subs {
			sub.closeChan()
		}
	}
}

type memorySubscription struct {
	mu      sync.Mutex
	ch      chan string
	done    chan struct{}
	closed  bool
	channel string
	owner   *memoryPubSub
}

func (s *memorySubscription) Messages() <-chan string { return s.ch }

func (s *memorySubscription) Close() error {
	s.owner.unsubscribe(s)
	s.closeChan()
	return nil
}

func (s *memorySubscription) send(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *memorySubscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}
