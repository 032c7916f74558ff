// Package grpccodec provides gRPC codecs that move payloads as opaque bytes.
package grpccodec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Raw sends/receives raw bytes without protobuf. Outgoing protobuf messages
// are marshalled so that requests can still be expressed as typed messages.
type Raw struct{}

func (Raw) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("rawCodec: expected []byte or proto.Message, got %T", v)
	}
}

func (Raw) Unmarshal(data []byte, v interface{}) error {
	bp, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: expected *[]byte, got %T", v)
	}
	*bp = append([]byte(nil), data...)
	return nil
}

func (Raw) Name() string { return "raw" }

// Proto is Raw announced under the protobuf content-subtype, so servers
// decode our requests with their regular protobuf codec. Responses are
// still handed back undecoded.
type Proto struct{ Raw }

func (Proto) Name() string { return "proto" }
