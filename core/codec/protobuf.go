package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufCodec implements Protocol Buffers encoding/decoding. Besides
// proto.Message values it encodes map[string]any as a google.protobuf.Struct.
type ProtobufCodec struct{}

func (c *ProtobufCodec) Encode(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case proto.Message:
		return proto.Marshal(m)
	case map[string]interface{}:
		s, err := structpb.NewStruct(m)
		if err != nil {
			return nil, fmt.Errorf("encode map as struct: %w", err)
		}
		return proto.Marshal(s)
	default:
		return nil, fmt.Errorf("value must implement proto.Message interface, got %T", v)
	}
}

func (c *ProtobufCodec) Decode(data []byte, v interface{}) error {
	switch m := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, m)
	case *map[string]interface{}:
		s := &structpb.Struct{}
		if err := proto.Unmarshal(data, s); err != nil {
			return err
		}
		*m = s.AsMap()
		return nil
	default:
		return fmt.Errorf("value must implement proto.Message interface, got %T", v)
	}
}

func (c *ProtobufCodec) Name() string {
	return "protobuf"
}

func (c *ProtobufCodec) ContentType() string {
	return "application/x-protobuf"
}
