package grpc

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype of party RPC payloads
// (application/grpc+cbor).
const CodecName = "cbor"

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborDecMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encoding.RegisterCodec(cborCodec{})
}

// cborCodec encodes plain Go structs with deterministic CBOR so that party
// messages need no generated code.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cborDecMode.Unmarshal(data, v)
}

func (cborCodec) Name() string {
	return CodecName
}

// MarshalCBOR encodes v with the same deterministic options as the codec.
func MarshalCBOR(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// UnmarshalCBOR decodes data with the same options as the codec.
func UnmarshalCBOR(data []byte, v any) error {
	return cborDecMode.Unmarshal(data, v)
}
