package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec is the content subtype every Inbox call uses.
const Codec = "json"

// jsonCodec carries the plain Go request and response types over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return Codec
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
