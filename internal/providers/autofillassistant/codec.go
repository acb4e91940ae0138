package autofillassistant

import (
	"fmt"
)

// wireCodec lets grpc carry the hand-encoded capabilities messages. It is
// registered per call and keeps the "proto" name so peers see the standard
// application/grpc+proto content type.
type wireCodec struct{}

type wireMessage interface {
	Marshal() []byte
	Unmarshal([]byte) error
}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("wire codec: cannot marshal %T", v)
	}
	return m.Marshal(), nil
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("wire codec: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

func (wireCodec) Name() string {
	return "proto"
}
