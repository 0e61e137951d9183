package engine

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v4"
)

// Randomness is one party's output of the sampling step.
type Randomness struct {
	Seed       []byte
	Blinding   []byte
	Commitment []byte
}

// GameState is one party's output of the init step. Share is secret.
type GameState struct {
	Proof      []byte
	Share      []byte
	Commitment []byte
}

// Reveal is the public output of the reveal step.
type Reveal struct {
	Door  uint8
	Proof []byte
}

// Engine runs one party's side of each session. Every method blocks on the
// network until the session completes or the network fails.
type Engine struct {
	params *Params
	random cipher.Stream
}

// New returns an engine drawing local randomness from random.
func New(params *Params, random cipher.Stream) *Engine {
	return &Engine{params: params, random: random}
}

// Verifier returns a verifier over the engine's parameters.
func (e *Engine) Verifier() *Verifier {
	return NewVerifier(e.params)
}

func (e *Engine) scalar() kyber.Scalar {
	return suite.Scalar().Pick(e.random)
}

// z3 draws a uniform element of Z3.
func (e *Engine) z3() uint8 {
	var b [1]byte
	for {
		b[0] = 0
		e.random.XORKeyStream(b[:], b[:])
		if b[0] < 255 {
			return b[0] % 3
		}
	}
}

func checkNetwork(net Network) (int, error) {
	if net == nil {
		return 0, errors.New("network is required")
	}
	party := net.Party()
	if party < 0 || party >= Parties {
		return 0, fmt.Errorf("party index %d out of range", party)
	}
	return party, nil
}

// openSum broadcasts this party's partial points and returns their sums.
func openSum(net Network, partials ...kyber.Point) ([]kyber.Point, error) {
	body, err := marshal(toMarshaling(partials)...)
	if err != nil {
		return nil, err
	}
	bodies, err := net.AllToAll(body)
	if err != nil {
		return nil, fmt.Errorf("exchange points: %w", err)
	}
	sums := make([]kyber.Point, len(partials))
	for i := range sums {
		sums[i] = suite.Point().Null()
	}
	for from, received := range bodies {
		points, err := decodePoints(received, len(partials))
		if err != nil {
			return nil, fmt.Errorf("points from party %d: %w", from, err)
		}
		for i, p := range points {
			sums[i].Add(sums[i], p)
		}
	}
	return sums, nil
}

// openScalars broadcasts response shares and returns their sums.
func openScalars(net Network, shares ...kyber.Scalar) ([]kyber.Scalar, error) {
	body, err := marshal(toMarshaling(shares)...)
	if err != nil {
		return nil, err
	}
	bodies, err := net.AllToAll(body)
	if err != nil {
		return nil, fmt.Errorf("exchange responses: %w", err)
	}
	sums := make([]kyber.Scalar, len(shares))
	for i := range sums {
		sums[i] = suite.Scalar().Zero()
	}
	for from, received := range bodies {
		scalars, err := decodeScalars(received, len(shares))
		if err != nil {
			return nil, fmt.Errorf("responses from party %d: %w", from, err)
		}
		for i, s := range scalars {
			sums[i].Add(sums[i], s)
		}
	}
	return sums, nil
}

func toMarshaling[T kyber.Marshaling](values []T) []kyber.Marshaling {
	out := make([]kyber.Marshaling, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// SampleRandomness jointly samples the epoch seed. Each party keeps its
// additive shares of seed and blinding; the commitment seed*G + blinding*H
// is opened by summing every party's partial commitment.
func (e *Engine) SampleRandomness(net Network) (Randomness, error) {
	if _, err := checkNetwork(net); err != nil {
		return Randomness{}, err
	}
	seed := e.scalar()
	blinding := e.scalar()

	sums, err := openSum(net, e.params.commit(seed, blinding))
	if err != nil {
		return Randomness{}, fmt.Errorf("sample randomness: %w", err)
	}

	encoded, err := marshal(seed, blinding, sums[0])
	if err != nil {
		return Randomness{}, err
	}
	return Randomness{
		Seed:       encoded[:ScalarSize],
		Blinding:   encoded[ScalarSize : 2*ScalarSize],
		Commitment: encoded[2*ScalarSize:],
	}, nil
}

// deriveGameShare derives this party's door share and blinding from its
// randomness shares, so re-running init over the same randomness yields the
// same game.
func (e *Engine) deriveGameShare(seed, blinding []byte, player []byte) (uint8, kyber.Scalar) {
	xof := suite.XOF([]byte(e.params.circuits.Init + "/share"))
	_, _ = xof.Write(seed)
	_, _ = xof.Write(blinding)
	_, _ = xof.Write(player)

	var b [1]byte
	for {
		_, _ = xof.Read(b[:])
		if b[0] < 255 {
			break
		}
	}
	return b[0] % 3, suite.Scalar().Pick(xof)
}

// InitGame commits to the hidden prize door for player. The door is the sum
// mod 3 of the parties' door shares; each party also learns the next
// party's share so the reveal can multiply. The proof shows joint knowledge
// of openings of the seed and game commitments.
func (e *Engine) InitGame(net Network, rand Randomness, player []byte) (GameState, error) {
	party, err := checkNetwork(net)
	if err != nil {
		return GameState{}, err
	}
	seed, err := decodeScalar(rand.Seed)
	if err != nil {
		return GameState{}, fmt.Errorf("init game: seed share: %w", err)
	}
	blinding, err := decodeScalar(rand.Blinding)
	if err != nil {
		return GameState{}, fmt.Errorf("init game: blinding share: %w", err)
	}
	seedCommitment, err := decodePoint(rand.Commitment)
	if err != nil {
		return GameState{}, fmt.Errorf("init game: seed commitment: %w", err)
	}

	door, doorBlinding := e.deriveGameShare(rand.Seed, rand.Blinding, player)

	if err := net.Send(prev(party), []byte{door}); err != nil {
		return GameState{}, fmt.Errorf("init game: send door share: %w", err)
	}
	received, err := net.Recv(next(party))
	if err != nil {
		return GameState{}, fmt.Errorf("init game: receive door share: %w", err)
	}
	if len(received) != 1 || received[0] > 2 {
		return GameState{}, fmt.Errorf("init game: malformed door share from party %d", next(party))
	}
	share := gameShare{door: door, nextDoor: received[0], blinding: doorBlinding}

	doorScalar := scalarOf(door)
	k1, k2, k3, k4 := e.scalar(), e.scalar(), e.scalar(), e.scalar()
	opened, err := openSum(net,
		e.params.commit(doorScalar, doorBlinding),
		e.params.commit(k1, k2),
		e.params.commit(k3, k4),
	)
	if err != nil {
		return GameState{}, fmt.Errorf("init game: %w", err)
	}
	gameCommitment, t1, t2 := opened[0], opened[1], opened[2]

	challenge, err := initChallenge(e.params.circuits, seedCommitment, gameCommitment, t1, t2, player)
	if err != nil {
		return GameState{}, err
	}
	responses, err := openScalars(net,
		respond(k1, challenge, seed),
		respond(k2, challenge, blinding),
		respond(k3, challenge, doorScalar),
		respond(k4, challenge, doorBlinding),
	)
	if err != nil {
		return GameState{}, fmt.Errorf("init game: %w", err)
	}

	proof, err := marshal(t1, t2, responses[0], responses[1], responses[2], responses[3])
	if err != nil {
		return GameState{}, err
	}
	encodedShare, err := share.encode()
	if err != nil {
		return GameState{}, err
	}
	commitment, err := gameCommitment.MarshalBinary()
	if err != nil {
		return GameState{}, err
	}
	if err := e.Verifier().VerifyInit(rand.Commitment, commitment, player, proof); err != nil {
		return GameState{}, fmt.Errorf("init game: joint proof: %w", err)
	}
	return GameState{Proof: proof, Share: encodedShare, Commitment: commitment}, nil
}

// respond returns k + e*x.
func respond(k, e, x kyber.Scalar) kyber.Scalar {
	return suite.Scalar().Add(k, suite.Scalar().Mul(e, x))
}

// RevealDoor opens a door that is neither the player's pick nor the prize.
//
// With x = door - pick, the revealed door is pick + 2x when x != 0 and
// pick + t otherwise, for a public t in {1, 2}. Over Z3 this is
// pick + t + 2x - t*x^2, which needs one multiplication on the replicated
// shares. Opened shares are masked with a fresh sharing of zero, so only the
// revealed door becomes public.
func (e *Engine) RevealDoor(net Network, state GameState, pick uint8) (Reveal, error) {
	party, err := checkNetwork(net)
	if err != nil {
		return Reveal{}, err
	}
	if pick > 2 {
		return Reveal{}, fmt.Errorf("reveal door: pick %d out of range", pick)
	}
	share, err := decodeGameShare(state.Share)
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal door: %w", err)
	}
	gameCommitment, err := decodePoint(state.Commitment)
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal door: game commitment: %w", err)
	}

	delta := func(index int, door uint8) int {
		if index == 0 {
			return int(door) - int(pick)
		}
		return int(door)
	}
	d := delta(party, share.door)
	dNext := delta(next(party), share.nextDoor)
	square := d*d + 2*d*dNext

	rho := e.z3()
	if err := net.Send(next(party), []byte{rho}); err != nil {
		return Reveal{}, fmt.Errorf("reveal door: send mask: %w", err)
	}
	received, err := net.Recv(prev(party))
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal door: receive mask: %w", err)
	}
	if len(received) != 1 || received[0] > 2 {
		return Reveal{}, fmt.Errorf("reveal door: malformed mask from party %d", prev(party))
	}

	t := int(tieBreak(e.params.circuits.Reveal, state.Commitment))
	masked := 2*d - t*square + int(rho) - int(received[0])
	if party == 0 {
		masked += int(pick) + t
	}

	bodies, err := net.AllToAll([]byte{mod3(masked)})
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal door: open: %w", err)
	}
	sum := 0
	for from, body := range bodies {
		if len(body) != 1 || body[0] > 2 {
			return Reveal{}, fmt.Errorf("reveal door: malformed opening from party %d", from)
		}
		sum += int(body[0])
	}
	door := mod3(sum)
	if door == pick {
		return Reveal{}, errors.New("reveal door: opened door equals pick")
	}

	k3, k4 := e.scalar(), e.scalar()
	opened, err := openSum(net, e.params.commit(k3, k4))
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal door: %w", err)
	}
	challenge, err := revealChallenge(e.params.circuits, gameCommitment, opened[0], pick, door)
	if err != nil {
		return Reveal{}, err
	}
	responses, err := openScalars(net,
		respond(k3, challenge, scalarOf(share.door)),
		respond(k4, challenge, share.blinding),
	)
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal door: %w", err)
	}
	proof, err := marshal(opened[0], responses[0], responses[1])
	if err != nil {
		return Reveal{}, err
	}
	if err := e.Verifier().VerifyReveal(state.Commitment, pick, door, proof); err != nil {
		return Reveal{}, fmt.Errorf("reveal door: joint proof: %w", err)
	}
	return Reveal{Door: door, Proof: proof}, nil
}
