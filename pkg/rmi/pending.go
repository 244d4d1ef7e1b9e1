package rmi

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
)

// abandonedCallsSize bounds how many given-up call ids are remembered.
const abandonedCallsSize = 1024

type callResult struct {
	data any
	err  error
}

// pendingCalls maps outstanding call ids to the channel their Return is
// delivered on. An entry is removed exactly once: on its Return, or when the
// caller gives up waiting. Recently abandoned ids are remembered so a late
// Return can be told apart from a stray one.
type pendingCalls struct {
	mu        *sync.Mutex
	nextID    CallID
	calls     map[CallID]chan callResult
	abandoned *lru.Cache
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		mu:        &sync.Mutex{},
		calls:     make(map[CallID]chan callResult),
		abandoned: lru.New(abandonedCallsSize),
	}
}

func (p *pendingCalls) add() (CallID, <-chan callResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// skip ids still outstanding after a wraparound
	id := p.nextID
	for {
		if _, ok := p.calls[id]; !ok {
			break
		}
		id++
	}
	p.nextID = id + 1
	p.abandoned.Remove(id)

	ch := make(chan callResult, 1)
	p.calls[id] = ch
	return id, ch
}

// remove abandons id without resolving it.
func (p *pendingCalls) remove(id CallID) {
	p.mu.Lock()
	if _, ok := p.calls[id]; ok {
		delete(p.calls, id)
		p.abandoned.Add(id, nil)
	}
	p.mu.Unlock()
}

// wasAbandoned reports whether id was given up on recently, forgetting it.
func (p *pendingCalls) wasAbandoned(id CallID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.abandoned.Get(id); ok {
		p.abandoned.Remove(id)
		return true
	}
	return false
}

// complete resolves the call matching ret. It reports false when no such call
// is outstanding.
func (p *pendingCalls) complete(ret *Return) bool {
	p.mu.Lock()
	ch, ok := p.calls[ret.CallID]
	delete(p.calls, ret.CallID)
	p.mu.Unlock()

	if !ok {
		return false
	}

	if ret.ErrorCode == ErrorCodeNone {
		ch <- callResult{data: ret.Data}
	} else {
		ch <- callResult{err: &RemoteError{
			Code:    ret.ErrorCode,
			Message: fmt.Sprint(ret.Data),
		}}
	}
	return true
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
