package engine

import (
	"bytes"
	"fmt"

	"go.dedis.ch/kyber/v4"
)

// Sizes of canonical encodings.
const (
	ScalarSize = 32
	PointSize  = 32
	// GameShareSize is door, next door and blinding.
	GameShareSize = 2 + ScalarSize
	// InitProofSize is T1, T2, z1..z4.
	InitProofSize = 2*PointSize + 4*ScalarSize
	// RevealProofSize is T, z3, z4.
	RevealProofSize = PointSize + 2*ScalarSize
)

func marshal(values ...kyber.Marshaling) ([]byte, error) {
	var buf bytes.Buffer
	for _, value := range values {
		data, err := value.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func decodeScalar(data []byte) (kyber.Scalar, error) {
	if len(data) != ScalarSize {
		return nil, fmt.Errorf("scalar must be %d bytes, got %d", ScalarSize, len(data))
	}
	s := suite.Scalar()
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode scalar: %w", err)
	}
	return s, nil
}

func decodePoint(data []byte) (kyber.Point, error) {
	if len(data) != PointSize {
		return nil, fmt.Errorf("point must be %d bytes, got %d", PointSize, len(data))
	}
	p := suite.Point()
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode point: %w", err)
	}
	return p, nil
}

// decodePoints splits data into exactly n points.
func decodePoints(data []byte, n int) ([]kyber.Point, error) {
	if len(data) != n*PointSize {
		return nil, fmt.Errorf("expected %d points, got %d bytes", n, len(data))
	}
	points := make([]kyber.Point, n)
	for i := range points {
		p, err := decodePoint(data[i*PointSize : (i+1)*PointSize])
		if err != nil {
			return nil, err
		}
		points[i] = p
	}
	return points, nil
}

func decodeScalars(data []byte, n int) ([]kyber.Scalar, error) {
	if len(data) != n*ScalarSize {
		return nil, fmt.Errorf("expected %d scalars, got %d bytes", n, len(data))
	}
	scalars := make([]kyber.Scalar, n)
	for i := range scalars {
		s, err := decodeScalar(data[i*ScalarSize : (i+1)*ScalarSize])
		if err != nil {
			return nil, err
		}
		scalars[i] = s
	}
	return scalars, nil
}

// gameShare is one party's replicated share of the door plus its blinding.
type gameShare struct {
	door     uint8
	nextDoor uint8
	blinding kyber.Scalar
}

func (s gameShare) encode() ([]byte, error) {
	blinding, err := s.blinding.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{s.door, s.nextDoor}, blinding...), nil
}

func decodeGameShare(data []byte) (gameShare, error) {
	if len(data) != GameShareSize {
		return gameShare{}, fmt.Errorf("game share must be %d bytes, got %d", GameShareSize, len(data))
	}
	if data[0] > 2 || data[1] > 2 {
		return gameShare{}, fmt.Errorf("game share door out of range")
	}
	blinding, err := decodeScalar(data[2:])
	if err != nil {
		return gameShare{}, err
	}
	return gameShare{door: data[0], nextDoor: data[1], blinding: blinding}, nil
}

func mod3(x int) uint8 {
	return uint8(((x % 3) + 3) % 3)
}

func scalarOf(x uint8) kyber.Scalar {
	return suite.Scalar().SetInt64(int64(x))
}
