package rmi

import "fmt"

// EndpointID addresses an endpoint. Zero is the router, [1, ProvisionalIDMin)
// are durable ids and [ProvisionalIDMin, ProvisionalIDMax] are only used while
// an endpoint registers.
type EndpointID uint32

// CallID correlates a Call with its Return. It is unique per sender.
type CallID uint32

const (
	RouterID         EndpointID = 0
	ProvisionalIDMin EndpointID = 1_000_000
	ProvisionalIDMax EndpointID = 9_999_999
)

// IsProvisional reports whether id belongs to the registration-only range.
func IsProvisional(id EndpointID) bool {
	return id >= ProvisionalIDMin
}

// Tag identifies a class of traffic multiplexed on a transport.
type Tag string

// TagRMI is the reserved tag carried by every RMI message.
const TagRMI Tag = "rmi"

type Kind uint8

const (
	KindCall   Kind = 0x01
	KindNotify Kind = 0x02
	KindReturn Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindNotify:
		return "notify"
	case KindReturn:
		return "return"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error codes carried by a Return. Anything other than ErrorCodeNone is a failure.
const (
	ErrorCodeNone             int32 = 0
	ErrorCodeFailure          int32 = 1
	ErrorCodeInvalidService   int32 = 2
	ErrorCodeInvalidMethod    int32 = 3
	ErrorCodeInvalidArguments int32 = 4
)

// Payload is implemented by *Call, *Notify and *Return.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Call invokes Method and expects exactly one Return.
type Call struct {
	CallID CallID
	Method string
	Args   []any
}

// Notify invokes Method without producing a Return.
type Notify struct {
	Method string
	Args   []any
}

// Return completes the Call with the same CallID. Data is the result when
// ErrorCode is zero and a description of the failure otherwise.
type Return struct {
	CallID    CallID
	ErrorCode int32
	Data      any
}

func (*Call) Kind() Kind   { return KindCall }
func (*Notify) Kind() Kind { return KindNotify }
func (*Return) Kind() Kind { return KindReturn }

func (*Call) isPayload()   {}
func (*Notify) isPayload() {}
func (*Return) isPayload() {}

// Message is the envelope exchanged between endpoints and the router.
// Messages are treated as immutable once sent.
type Message struct {
	DestinationID EndpointID
	SourceID      EndpointID
	Payload       Payload
}

func (m *Message) Kind() Kind {
	if m.Payload == nil {
		return 0
	}
	return m.Payload.Kind()
}

func (m *Message) String() string {
	switch p := m.Payload.(type) {
	case *Call:
		return fmt.Sprintf("call %d->%d #%d %s", m.SourceID, m.DestinationID, p.CallID, p.Method)
	case *Notify:
		return fmt.Sprintf("notify %d->%d %s", m.SourceID, m.DestinationID, p.Method)
	case *Return:
		return fmt.Sprintf("return %d->%d #%d code=%d", m.SourceID, m.DestinationID, p.CallID, p.ErrorCode)
	}
	return fmt.Sprintf("message %d->%d", m.SourceID, m.DestinationID)
}
