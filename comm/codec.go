package comm

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which
// the JSON codec is registered.
const CodecName = "json"

// JSONCodec marshals the plain message structs of
// this package for gRPC.
type JSONCodec struct{}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// Marshal fulfills the Marshal() gRPC codec interface.
func (c JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal fulfills the Unmarshal() gRPC codec interface.
func (c JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Name fulfills the Name() gRPC codec interface.
func (c JSONCodec) Name() string {
	return CodecName
}
