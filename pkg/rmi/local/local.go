// Package local provides an in-process Interface pair, the equivalent of a
// message port between a main goroutine and a worker.
package local

import (
	"sync"

	"github.com/kbirk/rmi/internal/queue"
	"github.com/kbirk/rmi/pkg/rmi"
)

type delivery struct {
	tag rmi.Tag
	msg *rmi.Message
}

// Interface is one end of a Pipe. Messages are delivered in send order on a
// single goroutine, starting once the first receiver is registered.
type Interface struct {
	name      string
	peer      *Interface
	inbox     *queue.Queue[delivery]
	mu        *sync.Mutex
	receivers map[rmi.Tag]rmi.Receiver
	startOnce *sync.Once
	// shared by both ends
	closeOnce *sync.Once
}

func newInterface(name string) *Interface {
	return &Interface{
		name:      name,
		inbox:     queue.New[delivery](),
		mu:        &sync.Mutex{},
		receivers: make(map[rmi.Tag]rmi.Receiver),
		startOnce: &sync.Once{},
	}
}

// Pipe returns two connected interfaces.
func Pipe() (*Interface, *Interface) {
	a := newInterface("a")
	b := newInterface("b")
	a.peer = b
	b.peer = a
	closeOnce := &sync.Once{}
	a.closeOnce = closeOnce
	b.closeOnce = closeOnce
	return a, b
}

func (i *Interface) String() string {
	return "local-" + i.name
}

// Send never blocks. It fails with rmi.ErrClosed once either end is closed.
func (i *Interface) Send(tag rmi.Tag, msg *rmi.Message) error {
	if !i.peer.inbox.Push(delivery{tag: tag, msg: msg}) {
		return rmi.ErrClosed
	}
	return nil
}

func (i *Interface) RegisterReceiver(tag rmi.Tag, fn rmi.Receiver) {
	i.mu.Lock()
	i.receivers[tag] = fn
	i.mu.Unlock()

	i.startOnce.Do(func() {
		go i.deliver()
	})
}

func (i *Interface) deliver() {
	for {
		d, ok := i.inbox.Pop()
		if !ok {
			return
		}

		i.mu.Lock()
		fn := i.receivers[d.tag]
		i.mu.Unlock()

		if fn != nil {
			fn(i, d.msg)
		}
	}
}

// Close shuts down both ends of the pipe.
func (i *Interface) Close() error {
	i.closeOnce.Do(func() {
		i.inbox.Close()
		i.peer.inbox.Close()
	})
	return nil
}
