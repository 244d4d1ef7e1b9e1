package rmi

import (
	"bytes"
	"encoding/json"
)

// Codec encodes call arguments and return data for byte transports.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec decodes numbers as json.Number so integer results keep their
// precision until converted with As.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

var defaultCodec Codec = JSONCodec{}
