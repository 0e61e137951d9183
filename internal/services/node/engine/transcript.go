package engine

import (
	"encoding/binary"

	"go.dedis.ch/kyber/v4"
)

// transcript absorbs length-prefixed fields into an XOF and squeezes
// challenges from it.
type transcript struct {
	xof kyber.XOF
}

func newTranscript(label string) *transcript {
	t := &transcript{xof: suite.XOF(nil)}
	t.append([]byte(label))
	return t
}

func (t *transcript) append(fields ...[]byte) {
	var size [4]byte
	for _, field := range fields {
		binary.BigEndian.PutUint32(size[:], uint32(len(field)))
		_, _ = t.xof.Write(size[:])
		_, _ = t.xof.Write(field)
	}
}

func (t *transcript) appendPoints(points ...kyber.Point) error {
	for _, p := range points {
		data, err := p.MarshalBinary()
		if err != nil {
			return err
		}
		t.append(data)
	}
	return nil
}

func (t *transcript) challenge() kyber.Scalar {
	return suite.Scalar().Pick(t.xof)
}

// tieBreak derives the public offset used when the player picked the prize
// door: 1 or 2, fixed by the game commitment.
func tieBreak(label string, gameCommitment []byte) uint8 {
	xof := suite.XOF([]byte(label + "/tiebreak"))
	_, _ = xof.Write(gameCommitment)
	var b [1]byte
	_, _ = xof.Read(b[:])
	return 1 + b[0]&1
}

func initChallenge(circuits CircuitSet, seedCommitment, gameCommitment, t1, t2 kyber.Point, player []byte) (kyber.Scalar, error) {
	tr := newTranscript(circuits.Init)
	if err := tr.appendPoints(seedCommitment, gameCommitment, t1, t2); err != nil {
		return nil, err
	}
	tr.append(player)
	return tr.challenge(), nil
}

func revealChallenge(circuits CircuitSet, gameCommitment, t kyber.Point, pick, door uint8) (kyber.Scalar, error) {
	tr := newTranscript(circuits.Reveal)
	if err := tr.appendPoints(gameCommitment, t); err != nil {
		return nil, err
	}
	tr.append([]byte{pick, door})
	return tr.challenge(), nil
}
