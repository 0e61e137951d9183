// Package engine is the reference three-party engine behind the party node:
// additive shares over edwards25519, Pedersen commitments opened by summing
// broadcast partial points, and jointly computed Fiat-Shamir proofs.
package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/suites"
	"gopkg.in/yaml.v3"
)

// Parties is the number of parties in every session.
const Parties = 3

var suite = suites.MustFind("Ed25519")

// CRS is the common reference string shared by provers and verifiers.
type CRS struct {
	Label string `yaml:"label"`
}

// CircuitSet names the circuits; labels domain-separate every transcript.
type CircuitSet struct {
	Commit string `yaml:"commit"`
	Init   string `yaml:"init"`
	Reveal string `yaml:"reveal"`
}

func (c CircuitSet) validate() error {
	var missing []string
	if strings.TrimSpace(c.Commit) == "" {
		missing = append(missing, "commit")
	}
	if strings.TrimSpace(c.Init) == "" {
		missing = append(missing, "init")
	}
	if strings.TrimSpace(c.Reveal) == "" {
		missing = append(missing, "reveal")
	}
	if len(missing) > 0 {
		return fmt.Errorf("circuit labels missing: %s", strings.Join(missing, ", "))
	}
	if c.Commit == c.Init || c.Init == c.Reveal || c.Commit == c.Reveal {
		return errors.New("circuit labels must be distinct")
	}
	return nil
}

// LoadCRS reads a CRS from a YAML file.
func LoadCRS(path string) (CRS, error) {
	var crs CRS
	if err := decodeYAML(path, &crs); err != nil {
		return CRS{}, fmt.Errorf("load crs: %w", err)
	}
	if strings.TrimSpace(crs.Label) == "" {
		return CRS{}, errors.New("load crs: label is required")
	}
	return crs, nil
}

// LoadCircuitSet reads circuit labels from a YAML file.
func LoadCircuitSet(path string) (CircuitSet, error) {
	var circuits CircuitSet
	if err := decodeYAML(path, &circuits); err != nil {
		return CircuitSet{}, fmt.Errorf("load circuits: %w", err)
	}
	if err := circuits.validate(); err != nil {
		return CircuitSet{}, fmt.Errorf("load circuits: %w", err)
	}
	return circuits, nil
}

func decodeYAML(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	return decoder.Decode(target)
}

// Params are the public parameters derived from a CRS and circuit set.
type Params struct {
	circuits CircuitSet
	g        kyber.Point
	h        kyber.Point
}

// NewParams derives the commitment generators. H is hashed from the CRS and
// the commit circuit label so nobody knows its discrete log to G.
func NewParams(crs CRS, circuits CircuitSet) (*Params, error) {
	if strings.TrimSpace(crs.Label) == "" {
		return nil, errors.New("crs label is required")
	}
	if err := circuits.validate(); err != nil {
		return nil, err
	}
	xof := suite.XOF([]byte(crs.Label + "/" + circuits.Commit + "/H"))
	return &Params{
		circuits: circuits,
		g:        suite.Point().Base(),
		h:        suite.Point().Pick(xof),
	}, nil
}

// commit returns x*G + r*H.
func (p *Params) commit(x, r kyber.Scalar) kyber.Point {
	return suite.Point().Add(suite.Point().Mul(x, p.g), suite.Point().Mul(r, p.h))
}
