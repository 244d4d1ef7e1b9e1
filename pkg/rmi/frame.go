package rmi

import (
	"fmt"

	"github.com/kbirk/rmi/pkg/serialize"
)

var (
	FramePrefix = [16]byte{
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x72,
		0x6D, 0x69, 0x2D, 0x66,
		0x72, 0x61, 0x6D, 0x65}
)

const (
	PrefixSize      = 16
	FrameHeaderSize = PrefixSize + 4 + 4 + 1
)

func serializePrefix(writer *serialize.FixedSizeWriter, data [16]byte) {
	bs := writer.Next(PrefixSize)
	copy(bs, data[:])
}

func deserializePrefix(data *[16]byte, reader *serialize.Reader) error {
	bs, err := reader.Read(PrefixSize)
	if err != nil {
		return err
	}
	copy((*data)[:], bs)
	return nil
}

// EncodeFrame serializes msg for a byte transport. Args and return data are
// encoded with codec.
func EncodeFrame(codec Codec, tag Tag, msg *Message) ([]byte, error) {
	var method string
	var callID CallID
	var errorCode int32
	var blob []byte
	var err error

	switch p := msg.Payload.(type) {
	case *Call:
		callID, method = p.CallID, p.Method
		blob, err = codec.Encode(p.Args)
	case *Notify:
		method = p.Method
		blob, err = codec.Encode(p.Args)
	case *Return:
		callID, errorCode = p.CallID, p.ErrorCode
		blob, err = codec.Encode(p.Data)
	default:
		return nil, fmt.Errorf("unrecognized payload %T", msg.Payload)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v: %w", msg, err)
	}

	size := FrameHeaderSize + serialize.ByteSizeString(string(tag)) + serialize.ByteSizeBytes(blob)
	switch msg.Kind() {
	case KindCall:
		size += serialize.ByteSizeUInt32(uint32(callID)) + serialize.ByteSizeString(method)
	case KindNotify:
		size += serialize.ByteSizeString(method)
	case KindReturn:
		size += serialize.ByteSizeUInt32(uint32(callID)) + serialize.ByteSizeInt32(errorCode)
	}

	writer := serialize.NewFixedSizeWriter(size)
	serializePrefix(writer, FramePrefix)
	serialize.SerializeString(writer, string(tag))
	serialize.SerializeUInt32(writer, uint32(msg.DestinationID))
	serialize.SerializeUInt32(writer, uint32(msg.SourceID))
	serialize.SerializeUInt8(writer, uint8(msg.Kind()))
	switch msg.Kind() {
	case KindCall:
		serialize.SerializeUInt32(writer, uint32(callID))
		serialize.SerializeString(writer, method)
	case KindNotify:
		serialize.SerializeString(writer, method)
	case KindReturn:
		serialize.SerializeUInt32(writer, uint32(callID))
		serialize.SerializeInt32(writer, errorCode)
	}
	serialize.SerializeBytes(writer, blob)
	return writer.Bytes(), nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(codec Codec, bs []byte) (Tag, *Message, error) {
	reader := serialize.NewReader(bs)

	var prefix [16]byte
	err := deserializePrefix(&prefix, reader)
	if err != nil {
		return "", nil, err
	}
	if prefix != FramePrefix {
		return "", nil, fmt.Errorf("unexpected prefix: %v", prefix)
	}

	var tag string
	err = serialize.DeserializeString(&tag, reader)
	if err != nil {
		return "", nil, err
	}

	var dest, source uint32
	err = serialize.DeserializeUInt32(&dest, reader)
	if err != nil {
		return "", nil, err
	}
	err = serialize.DeserializeUInt32(&source, reader)
	if err != nil {
		return "", nil, err
	}

	var kind uint8
	err = serialize.DeserializeUInt8(&kind, reader)
	if err != nil {
		return "", nil, err
	}

	msg := &Message{
		DestinationID: EndpointID(dest),
		SourceID:      EndpointID(source),
	}

	var callID uint32
	var method string
	var errorCode int32
	switch Kind(kind) {
	case KindCall:
		err = serialize.DeserializeUInt32(&callID, reader)
		if err == nil {
			err = serialize.DeserializeString(&method, reader)
		}
	case KindNotify:
		err = serialize.DeserializeString(&method, reader)
	case KindReturn:
		err = serialize.DeserializeUInt32(&callID, reader)
		if err == nil {
			err = serialize.DeserializeInt32(&errorCode, reader)
		}
	default:
		return "", nil, fmt.Errorf("unrecognized message kind: %d", kind)
	}
	if err != nil {
		return "", nil, err
	}

	var blob []byte
	err = serialize.DeserializeBytes(&blob, reader)
	if err != nil {
		return "", nil, err
	}
	if n := reader.Remaining(); n != 0 {
		return "", nil, fmt.Errorf("unexpected %d trailing bytes", n)
	}

	switch Kind(kind) {
	case KindCall, KindNotify:
		var args []any
		err = codec.Decode(blob, &args)
		if err != nil {
			return "", nil, fmt.Errorf("failed to decode arguments: %w", err)
		}
		if Kind(kind) == KindCall {
			msg.Payload = &Call{CallID: CallID(callID), Method: method, Args: args}
		} else {
			msg.Payload = &Notify{Method: method, Args: args}
		}
	case KindReturn:
		var data any
		err = codec.Decode(blob, &data)
		if err != nil {
			return "", nil, fmt.Errorf("failed to decode return data: %w", err)
		}
		msg.Payload = &Return{CallID: CallID(callID), ErrorCode: errorCode, Data: data}
	}

	return Tag(tag), msg, nil
}
