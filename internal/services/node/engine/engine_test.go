package engine_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/engine/enginetest"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v4/util/random"
)

func testParams(t *testing.T) *engine.Params {
	t.Helper()
	params, err := engine.NewParams(
		engine.CRS{Label: "montyhall-test-crs"},
		engine.CircuitSet{Commit: "test/commit", Init: "test/init", Reveal: "test/reveal"},
	)
	require.NoError(t, err)
	return params
}

// runParties runs fn for every party of a fresh mesh and collects results.
func runParties[T any](t *testing.T, fn func(party int, net engine.Network) (T, error)) [3]T {
	t.Helper()
	mesh := enginetest.NewMesh()
	defer mesh.Close()

	var (
		wg      sync.WaitGroup
		results [3]T
		errs    [3]error
	)
	for party := 0; party < 3; party++ {
		wg.Go(func() {
			results[party], errs[party] = fn(party, mesh.Endpoint(party))
			if errs[party] != nil {
				mesh.Close()
			}
		})
	}
	wg.Wait()
	for party, err := range errs {
		require.NoError(t, err, "party %d", party)
	}
	return results
}

type game struct {
	randomness [3]engine.Randomness
	states     [3]engine.GameState
	player     []byte
}

func setupGame(t *testing.T, engines [3]*engine.Engine) game {
	t.Helper()
	player := bytes.Repeat([]byte{0x5a}, 20)
	rand := runParties(t, func(party int, net engine.Network) (engine.Randomness, error) {
		return engines[party].SampleRandomness(net)
	})
	states := runParties(t, func(party int, net engine.Network) (engine.GameState, error) {
		return engines[party].InitGame(net, rand[party], player)
	})
	return game{randomness: rand, states: states, player: player}
}

func newEngines(params *engine.Params) [3]*engine.Engine {
	return [3]*engine.Engine{
		engine.New(params, random.New()),
		engine.New(params, random.New()),
		engine.New(params, random.New()),
	}
}

func TestSampleRandomnessAgreesOnCommitment(t *testing.T) {
	engines := newEngines(testParams(t))
	results := runParties(t, func(party int, net engine.Network) (engine.Randomness, error) {
		return engines[party].SampleRandomness(net)
	})

	for party := 1; party < 3; party++ {
		require.Equal(t, results[0].Commitment, results[party].Commitment)
		require.NotEqual(t, results[0].Seed, results[party].Seed)
	}
	for _, r := range results {
		require.Len(t, r.Seed, engine.ScalarSize)
		require.Len(t, r.Blinding, engine.ScalarSize)
		require.Len(t, r.Commitment, engine.PointSize)
	}
}

func TestInitGameAgreesAndVerifies(t *testing.T) {
	params := testParams(t)
	g := setupGame(t, newEngines(params))

	for party := 1; party < 3; party++ {
		require.Equal(t, g.states[0].Proof, g.states[party].Proof)
		require.Equal(t, g.states[0].Commitment, g.states[party].Commitment)
	}
	require.Len(t, g.states[0].Proof, engine.InitProofSize)
	require.Len(t, g.states[0].Share, engine.GameShareSize)

	verifier := engine.NewVerifier(params)
	require.NoError(t, verifier.VerifyInit(g.randomness[0].Commitment, g.states[0].Commitment, g.player, g.states[0].Proof))

	otherPlayer := bytes.Repeat([]byte{0x01}, 20)
	require.ErrorIs(t, verifier.VerifyInit(g.randomness[0].Commitment, g.states[0].Commitment, otherPlayer, g.states[0].Proof), engine.ErrInvalidProof)

	tampered := append([]byte(nil), g.states[0].Proof...)
	tampered[len(tampered)-1] ^= 0x01
	require.ErrorIs(t, verifier.VerifyInit(g.randomness[0].Commitment, g.states[0].Commitment, g.player, tampered), engine.ErrInvalidProof)
}

func TestInitGameIsDeterministicOverRandomness(t *testing.T) {
	params := testParams(t)
	engines := newEngines(params)
	g := setupGame(t, engines)

	again := runParties(t, func(party int, net engine.Network) (engine.GameState, error) {
		return engines[party].InitGame(net, g.randomness[party], g.player)
	})
	require.Equal(t, g.states[0].Commitment, again[0].Commitment)
	require.Equal(t, g.states[1].Share, again[1].Share)
}

func TestRevealDoorNeverOpensPickOrPrize(t *testing.T) {
	params := testParams(t)
	verifier := engine.NewVerifier(params)

	for round := 0; round < 6; round++ {
		engines := newEngines(params)
		g := setupGame(t, engines)
		prize := (int(g.states[0].Share[0]) + int(g.states[1].Share[0]) + int(g.states[2].Share[0])) % 3
		for party := 0; party < 3; party++ {
			require.Equal(t, g.states[(party+1)%3].Share[0], g.states[party].Share[1])
		}

		for pick := uint8(0); pick < 3; pick++ {
			reveals := runParties(t, func(party int, net engine.Network) (engine.Reveal, error) {
				return engines[party].RevealDoor(net, g.states[party], pick)
			})
			door := reveals[0].Door
			for party := 1; party < 3; party++ {
				require.Equal(t, door, reveals[party].Door)
				require.Equal(t, reveals[0].Proof, reveals[party].Proof)
			}
			require.NotEqual(t, pick, door)
			require.NotEqual(t, uint8(prize), door)
			require.NoError(t, verifier.VerifyReveal(g.states[0].Commitment, pick, door, reveals[0].Proof))

			wrong := 3 - pick - door
			require.ErrorIs(t, verifier.VerifyReveal(g.states[0].Commitment, pick, wrong, reveals[0].Proof), engine.ErrInvalidProof)
		}
	}
}

func TestRevealDoorRejectsBadInput(t *testing.T) {
	e := engine.New(testParams(t), random.New())
	mesh := enginetest.NewMesh()
	defer mesh.Close()

	_, err := e.RevealDoor(mesh.Endpoint(0), engine.GameState{}, 3)
	require.Error(t, err)
	_, err = e.RevealDoor(mesh.Endpoint(0), engine.GameState{Share: []byte{1}}, 0)
	require.Error(t, err)
	_, err = e.SampleRandomness(nil)
	require.Error(t, err)
}

func TestSessionFailsWhenMeshCloses(t *testing.T) {
	e := engine.New(testParams(t), random.New())
	mesh := enginetest.NewMesh()
	mesh.Close()

	_, err := e.SampleRandomness(mesh.Endpoint(1))
	require.ErrorIs(t, err, enginetest.ErrClosed)
}
