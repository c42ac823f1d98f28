package ecs

// Token identifies a subscription. Tokens are never reused within a Signal and the zero Token is
// never issued, so it can be used as "not subscribed".
type Token uint64

// subscription is a registered handler. active is cleared on unsubscribe so that a dispatch already
// in flight skips handlers removed by an earlier handler of the same dispatch.
type subscription[A any] struct {
	token  Token
	fn     func(A)
	active bool
}

// Signal is a synchronous publish/subscribe primitive. Handlers run on the emitting goroutine, in
// subscription order, before Emit returns.
//
// The handler list is copy-on-write: Subscribe and Unsubscribe replace the slice instead of mutating
// it, so Emit iterates over a snapshot and handlers may subscribe or unsubscribe during dispatch.
// Handlers added during a dispatch first run on the next Emit.
//
// Signal is not safe for concurrent use.
type Signal[A any] struct {
	nextToken Token
	subs      []*subscription[A]
}

// Subscribe registers fn and returns a token that can be passed to Unsubscribe.
func (s *Signal[A]) Subscribe(fn func(A)) Token {
	s.nextToken++
	sub := &subscription[A]{token: s.nextToken, fn: fn, active: true}
	// Clip capacity so append always copies and in-flight snapshots are left untouched.
	s.subs = append(s.subs[:len(s.subs):len(s.subs)], sub)
	return sub.token
}

// Unsubscribe removes the handler registered under token. Returns false if the token is unknown or
// was already unsubscribed.
func (s *Signal[A]) Unsubscribe(token Token) bool {
	for i, sub := range s.subs {
		if sub.token != token {
			continue
		}
		sub.active = false
		next := make([]*subscription[A], 0, len(s.subs)-1)
		next = append(next, s.subs[:i]...)
		next = append(next, s.subs[i+1:]...)
		s.subs = next
		return true
	}
	return false
}

// Emit calls every handler with the payload.
func (s *Signal[A]) Emit(payload A) {
	for _, sub := range s.subs {
		if sub.active {
			sub.fn(payload)
		}
	}
}

// Len returns the number of active subscriptions.
func (s *Signal[A]) Len() int {
	return len(s.subs)
}

// Clear removes every subscription.
func (s *Signal[A]) Clear() {
	for _, sub := range s.subs {
		sub.active = false
	}
	s.subs = nil
}
