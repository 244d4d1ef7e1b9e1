package rmi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kbirk/rmi/internal/queue"
	"github.com/kbirk/rmi/pkg/log"
)

type ConnInterfaceConfig struct {
	// Codec encodes call arguments and return data, JSON when nil
	Codec      Codec
	ErrHandler func(error)
	Logger     log.Logger
}

// ConnInterface adapts a byte Connection to an Interface. Outbound frames are
// queued and written by a dedicated goroutine so Send never blocks on the
// network. Reading starts with the first registered receiver.
type ConnInterface struct {
	id        uuid.UUID
	conf      ConnInterfaceConfig
	codec     Codec
	conn      Connection
	outbox    *queue.Queue[[]byte]
	mu        *sync.Mutex
	receivers map[Tag]Receiver
	readOnce  *sync.Once
	closeOnce *sync.Once
	done      chan struct{}
}

func NewConnInterface(conn Connection, conf ConnInterfaceConfig) *ConnInterface {
	codec := conf.Codec
	if codec == nil {
		codec = defaultCodec
	}
	c := &ConnInterface{
		id:        uuid.New(),
		conf:      conf,
		codec:     codec,
		conn:      conn,
		outbox:    queue.New[[]byte](),
		mu:        &sync.Mutex{},
		receivers: make(map[Tag]Receiver),
		readOnce:  &sync.Once{},
		closeOnce: &sync.Once{},
		done:      make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID identifies this link in logs.
func (c *ConnInterface) ID() uuid.UUID {
	return c.id
}

// Done is closed once the interface has shut down.
func (c *ConnInterface) Done() <-chan struct{} {
	return c.done
}

func (c *ConnInterface) String() string {
	return "conn-" + c.id.String()
}

func (c *ConnInterface) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *ConnInterface) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *ConnInterface) handleError(err error) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(fmt.Sprintf("%v: encountered error: %v", c, err))
	}
	if c.conf.ErrHandler != nil {
		c.conf.ErrHandler(err)
	}
}

func (c *ConnInterface) Send(tag Tag, msg *Message) error {
	bs, err := EncodeFrame(c.codec, tag, msg)
	if err != nil {
		return err
	}
	if !c.outbox.Push(bs) {
		return ErrClosed
	}
	return nil
}

func (c *ConnInterface) RegisterReceiver(tag Tag, fn Receiver) {
	c.mu.Lock()
	c.receivers[tag] = fn
	c.mu.Unlock()

	c.readOnce.Do(func() {
		go c.readLoop()
	})
}

func (c *ConnInterface) writeLoop() {
	for {
		bs, ok := c.outbox.Pop()
		if !ok {
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		err := c.conn.Send(bs)
		if err != nil {
			c.handleError(fmt.Errorf("failed to send frame: %w", err))
			c.Close()
			return
		}
	}
}

func (c *ConnInterface) readLoop() {
	for {
		bs, err := c.conn.Receive()
		if err != nil {
			select {
			case <-c.done:
				// closed locally
			default:
				if errors.Is(err, ErrConnectionClosed) {
					c.logDebug(fmt.Sprintf("%v: connection closed by peer", c))
				} else {
					c.handleError(err)
				}
			}
			c.Close()
			return
		}

		tag, msg, err := DecodeFrame(c.codec, bs)
		if err != nil {
			c.handleError(fmt.Errorf("dropping undecodable frame: %w", err))
			continue
		}

		c.mu.Lock()
		fn := c.receivers[tag]
		c.mu.Unlock()

		if fn == nil {
			c.logWarn(fmt.Sprintf("%v: no receiver for tag %q, dropping %v", c, tag, msg))
			continue
		}
		fn(c, msg)
	}
}

// Close stops both loops and closes the connection. Frames still queued are
// discarded.
func (c *ConnInterface) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.outbox.Close()
		err = c.conn.Close()
	})
	return err
}
