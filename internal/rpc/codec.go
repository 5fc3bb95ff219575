// Package rpc holds the gRPC surface of the clipboard store: the
// clipcache.v1.Authority service description, its message types, and a JSON
// codec that carries them.
//
// Messages are plain Go structs. Calls select the codec with the "json"
// content-subtype, so the wire content-type is application/grpc+json.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype registered for Codec.
const CodecName = "json"

// Codec marshals rpc messages as JSON.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc unmarshal %T: %w", v, err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(Codec{})
}

// CallOption selects the JSON codec on a client connection.
func CallOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName))
}
