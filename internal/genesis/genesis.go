// Package genesis loads the committee and the initial objects shared by
// every authority and gateway of a deployment.
package genesis

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"Certifier/internal/committee"
	"Certifier/internal/crypto"
	"Certifier/internal/messages"
	"Certifier/internal/transport"
)

// File is the on-disk genesis description.
type File struct {
	Epoch       uint64      `json:"epoch"`       // Epoch is the committee epoch
	Authorities []Authority `json:"authorities"` // Authorities are the committee members
	Objects     []Object    `json:"objects"`     // Objects exist at every authority from the start
}

// Authority is one committee member.
type Authority struct {
	Name       string `json:"name"`       // Name is the hex BLS public key
	NetworkKey string `json:"networkKey"` // NetworkKey is the hex ed25519 key presented on QUIC
	Address    string `json:"address"`    // Address is the QUIC endpoint
	Weight     uint64 `json:"weight"`     // Weight is the voting weight
}

// Object is a genesis object.
type Object struct {
	ID       string `json:"id"`       // ID is the hex object id
	Owner    string `json:"owner"`    // Owner is the hex owner address
	Contents []byte `json:"contents"` // Contents is the initial payload (base64 in JSON)
}

// Genesis is a validated genesis file.
type Genesis struct {
	committee *committee.Committee // committee is the membership built from the file
	endpoints []transport.Endpoint // endpoints locate every member
	objects   []*messages.Object   // objects are the decoded genesis objects
}

// Load reads and validates a genesis file.
func Load(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file:\n%w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse genesis file:\n%w", err)
	}

	return f.Build()
}

// Save writes the file as indented JSON.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode genesis file:\n%w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write genesis file:\n%w", err)
	}

	return nil
}

// Build validates the file and decodes its keys and objects.
func (f *File) Build() (*Genesis, error) {
	if len(f.Authorities) == 0 {
		return nil, fmt.Errorf("genesis has no authorities")
	}

	weights := make(map[committee.AuthorityName]uint64, len(f.Authorities))
	endpoints := make([]transport.Endpoint, 0, len(f.Authorities))

	for i, a := range f.Authorities {
		endpoint, err := a.endpoint()
		if err != nil {
			return nil, fmt.Errorf("authority %d:\n%w", i, err)
		}

		if _, dup := weights[endpoint.Name]; dup {
			return nil, fmt.Errorf("authority %d: duplicate name %s", i, endpoint.Name.Short())
		}

		if a.Weight == 0 {
			return nil, fmt.Errorf("authority %d: zero weight", i)
		}

		weights[endpoint.Name] = a.Weight
		endpoints = append(endpoints, endpoint)
	}

	objects := make([]*messages.Object, 0, len(f.Objects))
	seen := make(map[messages.ObjectID]bool, len(f.Objects))

	for i, o := range f.Objects {
		obj, err := o.decode()
		if err != nil {
			return nil, fmt.Errorf("object %d:\n%w", i, err)
		}

		if seen[obj.ID] {
			return nil, fmt.Errorf("object %d: duplicate id %s", i, obj.ID)
		}

		seen[obj.ID] = true
		objects = append(objects, obj)
	}

	c, err := committee.NewCommittee(f.Epoch, weights)
	if err != nil {
		return nil, err
	}

	return &Genesis{
		committee: c,
		endpoints: endpoints,
		objects:   objects,
	}, nil
}

func (a Authority) endpoint() (transport.Endpoint, error) {
	name, err := committee.ParseName(a.Name)
	if err != nil {
		return transport.Endpoint{}, err
	}

	key, err := hex.DecodeString(a.NetworkKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return transport.Endpoint{}, fmt.Errorf("invalid network key %q", a.NetworkKey)
	}

	if a.Address == "" {
		return transport.Endpoint{}, fmt.Errorf("missing address")
	}

	return transport.Endpoint{Name: name, Address: a.Address, NetworkKey: key}, nil
}

func (o Object) decode() (*messages.Object, error) {
	id, err := messages.ParseObjectID(o.ID)
	if err != nil {
		return nil, err
	}

	owner, err := messages.ParseAddress(o.Owner)
	if err != nil {
		return nil, err
	}

	return &messages.Object{ID: id, Owner: owner, Contents: o.Contents}, nil
}

// Committee returns the genesis committee.
func (g *Genesis) Committee() *committee.Committee {
	return g.committee
}

// Endpoints returns where each member listens.
func (g *Genesis) Endpoints() []transport.Endpoint {
	return g.endpoints
}

// Objects returns the genesis objects.
func (g *Genesis) Objects() []*messages.Object {
	return g.objects
}

// Endpoint returns the member with the given name.
func (g *Genesis) Endpoint(name committee.AuthorityName) (transport.Endpoint, bool) {
	for _, e := range g.endpoints {
		if e.Name == name {
			return e, true
		}
	}

	return transport.Endpoint{}, false
}

// Identity derives the genesis entry of an authority from its network key.
// The committee name is the BLS key derived from the same key.
func Identity(priv ed25519.PrivateKey, address string, weight uint64) (Authority, error) {
	bls, err := crypto.DeriveFromED25519(priv)
	if err != nil {
		return Authority{}, fmt.Errorf("derive authority key:\n%w", err)
	}

	return Authority{
		Name:       hex.EncodeToString(bls.PublicKeyBytes()),
		NetworkKey: hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Address:    address,
		Weight:     weight,
	}, nil
}
