// Package partyv1 defines the party-node RPC surface consumed by the
// coordinator. Messages travel with the registered "cbor" codec and carry only
// public values and proof bytes.
package partyv1

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "montyhall.party.v1.PartyService"

const (
	// SampleRandomnessMethod is the full method name of SampleRandomness.
	SampleRandomnessMethod = "/" + ServiceName + "/SampleRandomness"
	// InitGameMethod is the full method name of InitGame.
	InitGameMethod = "/" + ServiceName + "/InitGame"
	// RevealDoorMethod is the full method name of RevealDoor.
	RevealDoorMethod = "/" + ServiceName + "/RevealDoor"
)

// PlayerAddressSize is the byte length of a player address.
const PlayerAddressSize = 20

// DoorCount is the number of doors in a game.
const DoorCount = 3

type SampleRandomnessRequest struct{}

type SampleRandomnessResponse struct {
	Commitment []byte `cbor:"1,keyasint"`
}

func (r *SampleRandomnessResponse) GetCommitment() []byte {
	if r == nil {
		return nil
	}
	return r.Commitment
}

type InitGameRequest struct {
	Player []byte `cbor:"1,keyasint"`
}

func (r *InitGameRequest) GetPlayer() []byte {
	if r == nil {
		return nil
	}
	return r.Player
}

type InitGameResponse struct {
	Proof               []byte `cbor:"1,keyasint"`
	GameStateCommitment []byte `cbor:"2,keyasint"`
	SeedCommitment      []byte `cbor:"3,keyasint"`
}

func (r *InitGameResponse) GetProof() []byte {
	if r == nil {
		return nil
	}
	return r.Proof
}

func (r *InitGameResponse) GetGameStateCommitment() []byte {
	if r == nil {
		return nil
	}
	return r.GameStateCommitment
}

func (r *InitGameResponse) GetSeedCommitment() []byte {
	if r == nil {
		return nil
	}
	return r.SeedCommitment
}

type RevealDoorRequest struct {
	Door uint32 `cbor:"1,keyasint"`
}

func (r *RevealDoorRequest) GetDoor() uint32 {
	if r == nil {
		return 0
	}
	return r.Door
}

type RevealDoorResponse struct {
	RevealedDoor        uint32 `cbor:"1,keyasint"`
	Proof               []byte `cbor:"2,keyasint"`
	GameStateCommitment []byte `cbor:"3,keyasint"`
}

func (r *RevealDoorResponse) GetRevealedDoor() uint32 {
	if r == nil {
		return 0
	}
	return r.RevealedDoor
}

func (r *RevealDoorResponse) GetProof() []byte {
	if r == nil {
		return nil
	}
	return r.Proof
}

func (r *RevealDoorResponse) GetGameStateCommitment() []byte {
	if r == nil {
		return nil
	}
	return r.GameStateCommitment
}
