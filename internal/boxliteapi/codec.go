// Package boxliteapi defines the wire messages exchanged between the
// runtime and a box's guest agent, and a JSON grpc.Codec to carry them.
// The teacher's generated protobuf stubs aren't available in this tree, so
// the schema lives here as plain Go structs instead — see proto/boxlite.proto
// for the documented wire shape these mirror (spec.md §4.6).
package boxliteapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Name is registered as the content-subtype grpc.ForceCodec dispatches on.
const Name = "boxlite-json"

// Codec implements google.golang.org/grpc/encoding.Codec using JSON
// instead of protobuf, since no .proto-generated marshaler exists for
// these messages.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return Name
}
