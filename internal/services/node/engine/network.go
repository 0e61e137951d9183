package engine

// Network is the blocking peer transport of one session. Party indexes are
// 0..Parties-1. AllToAll returns one body per party, indexed by sender, with
// the caller's own body at its own index.
type Network interface {
	Party() int
	Send(to int, body []byte) error
	Recv(from int) ([]byte, error)
	AllToAll(body []byte) ([][]byte, error)
}

func next(party int) int {
	return (party + 1) % Parties
}

func prev(party int) int {
	return (party + Parties - 1) % Parties
}
