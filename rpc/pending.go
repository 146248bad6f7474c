package rpc

// outcome is the single resolution of a pending call.
type outcome struct {
	resp *Response
	err  error
}

// completion is a one-shot resolution slot.
//
// The channel has capacity one and only the goroutine that removed the call
// from the pending map may resolve it. Removal happens under the transport
// lock, so a completion is resolved at most once.
type completion struct {
	ch chan outcome
}

func newCompletion() *completion {
	return &completion{ch: make(chan outcome, 1)}
}

// resolve delivers the outcome. Caller must have just removed c from the
// pending map while holding the transport lock.
func (c *completion) resolve(resp *Response, err error) {
	c.ch <- outcome{resp: resp, err: err}
}

// pendingCalls maps request ids to their completions. Not safe for
// concurrent use; the transport guards it with its mutex.
type pendingCalls map[string]*completion

// take removes and returns the completion for id.
func (p pendingCalls) take(id string) (*completion, bool) {
	c, ok := p[id]
	if ok {
		delete(p, id)
	}
	return c, ok
}

// drain resolves and removes every pending call with an error built by mk.
// Returns the number of calls resolved.
func (p pendingCalls) drain(mk func(requestID string) error) int {
	n := 0
	for id, c := range p {
		delete(p, id)
		c.resolve(nil, mk(id))
		n++
	}
	return n
}
