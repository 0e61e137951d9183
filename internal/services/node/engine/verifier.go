package engine

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v4"
)

// ErrInvalidProof is returned when a proof does not verify.
var ErrInvalidProof = errors.New("invalid proof")

// Verifier checks proofs against public values only.
type Verifier struct {
	params *Params
}

// NewVerifier returns a verifier for params.
func NewVerifier(params *Params) *Verifier {
	return &Verifier{params: params}
}

// VerifyInit checks that the init proof shows knowledge of openings of both
// the seed commitment and the game commitment, bound to player.
func (v *Verifier) VerifyInit(seedCommitment, gameCommitment, player, proof []byte) error {
	c, err := decodePoint(seedCommitment)
	if err != nil {
		return fmt.Errorf("%w: seed commitment: %v", ErrInvalidProof, err)
	}
	cg, err := decodePoint(gameCommitment)
	if err != nil {
		return fmt.Errorf("%w: game commitment: %v", ErrInvalidProof, err)
	}
	if len(proof) != InitProofSize {
		return fmt.Errorf("%w: init proof must be %d bytes, got %d", ErrInvalidProof, InitProofSize, len(proof))
	}
	ts, err := decodePoints(proof[:2*PointSize], 2)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	zs, err := decodeScalars(proof[2*PointSize:], 4)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	e, err := initChallenge(v.params.circuits, c, cg, ts[0], ts[1], player)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !v.checkOpening(c, ts[0], e, zs[0], zs[1]) {
		return fmt.Errorf("%w: seed opening", ErrInvalidProof)
	}
	if !v.checkOpening(cg, ts[1], e, zs[2], zs[3]) {
		return fmt.Errorf("%w: game opening", ErrInvalidProof)
	}
	return nil
}

// VerifyReveal checks the reveal proof over the game commitment, the player's
// pick and the revealed door.
func (v *Verifier) VerifyReveal(gameCommitment []byte, pick, door uint8, proof []byte) error {
	if pick > 2 || door > 2 {
		return fmt.Errorf("%w: door out of range", ErrInvalidProof)
	}
	if pick == door {
		return fmt.Errorf("%w: revealed door equals pick", ErrInvalidProof)
	}
	cg, err := decodePoint(gameCommitment)
	if err != nil {
		return fmt.Errorf("%w: game commitment: %v", ErrInvalidProof, err)
	}
	if len(proof) != RevealProofSize {
		return fmt.Errorf("%w: reveal proof must be %d bytes, got %d", ErrInvalidProof, RevealProofSize, len(proof))
	}
	t, err := decodePoint(proof[:PointSize])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	zs, err := decodeScalars(proof[PointSize:], 2)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	e, err := revealChallenge(v.params.circuits, cg, t, pick, door)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !v.checkOpening(cg, t, e, zs[0], zs[1]) {
		return fmt.Errorf("%w: game opening", ErrInvalidProof)
	}
	return nil
}

// checkOpening tests zx*G + zr*H == T + e*C.
func (v *Verifier) checkOpening(c, t kyber.Point, e, zx, zr kyber.Scalar) bool {
	lhs := v.params.commit(zx, zr)
	rhs := suite.Point().Add(t, suite.Point().Mul(e, c))
	return lhs.Equal(rhs)
}
