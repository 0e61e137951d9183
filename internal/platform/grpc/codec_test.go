package grpc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

type codecProbe struct {
	Commitment []byte `cbor:"commitment"`
	Door       uint32 `cbor:"door"`
}

func TestCodecIsRegistered(t *testing.T) {
	require.NotNil(t, encoding.GetCodec(CodecName))
}

func TestCodecEncodingIsDeterministic(t *testing.T) {
	in := codecProbe{Commitment: []byte{1, 2, 3}, Door: 2}

	first, err := cborCodec{}.Marshal(&in)
	require.NoError(t, err)
	second, err := MarshalCBOR(&in)
	require.NoError(t, err)
	require.Equal(t, first, second)

	var out codecProbe
	require.NoError(t, cborCodec{}.Unmarshal(first, &out))
	require.Equal(t, in, out)
}

func TestCodecRejectsDuplicateKeys(t *testing.T) {
	// {"door": 1, "door": 2}
	payload := []byte{0xa2, 0x64, 'd', 'o', 'o', 'r', 0x01, 0x64, 'd', 'o', 'o', 'r', 0x02}
	var out codecProbe
	require.Error(t, UnmarshalCBOR(payload, &out))
}
