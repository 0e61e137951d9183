package peernet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	platformgrpc "github.com/secretdoor/montyhall/internal/platform/grpc"
	"golang.org/x/crypto/nacl/box"
)

const (
	nonceSize    = 24
	maxFrameSize = 1 << 20
)

var errFrameAuth = errors.New("frame authentication failed")

// envelope is the sealed content of every frame. Seq 0 is the handshake.
type envelope struct {
	Session string `cbor:"1,keyasint"`
	From    uint8  `cbor:"2,keyasint"`
	To      uint8  `cbor:"3,keyasint"`
	Seq     uint64 `cbor:"4,keyasint"`
	Body    []byte `cbor:"5,keyasint"`
}

// writeFrame writes length, nonce and the sealed envelope in one write.
func writeFrame(w io.Writer, shared *[32]byte, env envelope) error {
	payload, err := platformgrpc.MarshalCBOR(env)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("frame nonce: %w", err)
	}

	frame := make([]byte, 4, 4+nonceSize+len(payload)+box.Overhead)
	frame = append(frame, nonce[:]...)
	frame = box.SealAfterPrecomputation(frame, payload, &nonce, shared)
	if len(frame)-4 > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame)-4)
	}
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))
	_, err = w.Write(frame)
	return err
}

// readFrame reads and opens one frame.
func readFrame(r io.Reader, shared *[32]byte) (envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size < nonceSize+box.Overhead || size > maxFrameSize {
		return envelope{}, fmt.Errorf("invalid frame size %d", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return envelope{}, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], frame[:nonceSize])
	payload, ok := box.OpenAfterPrecomputation(nil, frame[nonceSize:], &nonce, shared)
	if !ok {
		return envelope{}, errFrameAuth
	}
	var env envelope
	if err := platformgrpc.UnmarshalCBOR(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	return env, nil
}
