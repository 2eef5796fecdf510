package authority

import (
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"Certifier/internal/committee"
	"Certifier/internal/crypto"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
	"Certifier/internal/storage"
	"Certifier/internal/wire"
)

// Storage table prefixes.
const (
	prefixObject      = 'o' // id -> current object
	prefixLock        = 'l' // id -> vote locking the current version
	prefixVote        = 'v' // tx -> vote
	prefixCertificate = 'c' // tx -> executed certificate
	prefixEffects     = 'e' // tx -> signed effects
	prefixConsumer    = 'x' // id || version -> tx that consumed the version
	prefixOwner       = 'a' // owner || id -> empty
	prefixGenesis     = 'g' // marker set once genesis is installed
)

const (
	// defaultObjectCacheSize is the number of current objects kept in memory.
	defaultObjectCacheSize = 4096
)

// Config holds the configuration for a State.
type Config struct {
	Name      committee.AuthorityName // Name is this authority's identity
	Key       *crypto.BLSKeyPair      // Key signs votes and effects
	Committee *committee.Committee    // Committee checks certificates
	Store     *storage.Storage        // Store persists objects, locks and certificates
	CacheSize int                     // CacheSize bounds the object cache (0 = default)
}

// State is a reference authority: it locks owned objects for orders,
// executes certificates and answers information requests.
type State struct {
	name      committee.AuthorityName // name is this authority's identity
	key       *crypto.BLSKeyPair      // key signs votes and effects
	committee *committee.Committee    // committee checks certificates
	store     *storage.Storage        // store persists all authority state
	objects   *lru.Cache              // objects caches current object versions by id

	mu sync.Mutex // mu serializes order locking and execution
}

// New creates an authority state over an opened store.
func New(cfg Config) (*State, error) {
	if cfg.Key == nil || cfg.Committee == nil || cfg.Store == nil {
		return nil, fmt.Errorf("key, committee and store are required")
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultObjectCacheSize
	}

	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create object cache:\n%w", err)
	}

	return &State{
		name:      cfg.Name,
		key:       cfg.Key,
		committee: cfg.Committee,
		store:     cfg.Store,
		objects:   cache,
	}, nil
}

// Name returns the authority's identity.
func (s *State) Name() committee.AuthorityName {
	return s.name
}

// InsertGenesisObject stores an object with no parent order.
func (s *State) InsertGenesisObject(obj *messages.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b storage.Batch
	b.Set(storage.Key(prefixObject, obj.ID[:]), wire.MarshalObject(obj))
	b.Set(storage.Key(prefixOwner, obj.Owner[:], obj.ID[:]), []byte{})

	if err := s.store.Write(&b); err != nil {
		return fmt.Errorf("insert genesis object %s:\n%w", obj.ID, err)
	}

	s.objects.Remove(obj.ID)

	return nil
}

// InstallGenesis inserts the genesis objects once. Later calls are no-ops
// so a restarted authority keeps its state. Reports whether it installed.
func (s *State) InstallGenesis(objs []*messages.Object) (bool, error) {
	marker := storage.Key(prefixGenesis)

	done, err := s.store.Has(marker)
	if err != nil {
		return false, fmt.Errorf("read genesis marker:\n%w", err)
	}

	if done {
		return false, nil
	}

	for _, obj := range objs {
		if err := s.InsertGenesisObject(obj); err != nil {
			return false, err
		}
	}

	if err := s.store.Set(marker, []byte{1}); err != nil {
		return false, fmt.Errorf("write genesis marker:\n%w", err)
	}

	logger.Info("genesis installed", "objects", len(objs))

	return true, nil
}

// HandleOrder checks an order against the current objects, locks its
// inputs and returns this authority's vote. Voting again on the same
// order returns the stored vote.
func (s *State) HandleOrder(order *messages.Order) (*messages.OrderInfoResponse, error) {
	if err := s.checkOrderShape(order); err != nil {
		return nil, err
	}

	digest := order.Digest()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range order.Inputs {
		obj, err := s.object(in.ID)
		if err != nil {
			return nil, err
		}

		if err := checkInput(order, in, obj); err != nil {
			return nil, err
		}

		lock, err := s.lock(in.ID)
		if err != nil {
			return nil, err
		}

		if lock != nil && lock.Order.Digest() != digest {
			return nil, fmt.Errorf("object %s locked by order %s:\n%w",
				in.ID, lock.Order.Digest(), messages.ErrConflictingOrder)
		}
	}

	if existing, err := s.vote(digest); err != nil || existing != nil {
		return &messages.OrderInfoResponse{SignedOrder: existing}, err
	}

	signed := messages.NewSignedOrder(order, s.name, s.key)
	record := wire.MarshalSignedOrder(signed)

	var b storage.Batch
	b.Set(storage.Key(prefixVote, digest[:]), record)
	for _, in := range order.Inputs {
		b.Set(storage.Key(prefixLock, in.ID[:]), record)
	}

	if err := s.store.Write(&b); err != nil {
		return nil, fmt.Errorf("store vote:\n%w", err)
	}

	logger.Debug("order locked", "authority", s.name.Short(), "tx", digest.String()[:16], "inputs", len(order.Inputs))

	return &messages.OrderInfoResponse{SignedOrder: signed}, nil
}

// checkOrderShape validates an order independently of stored state.
func (s *State) checkOrderShape(order *messages.Order) error {
	if !order.Kind.Valid() {
		return fmt.Errorf("order kind %d:\n%w", order.Kind, messages.ErrInvalidOrder)
	}

	if len(order.Inputs) == 0 {
		return fmt.Errorf("order without inputs:\n%w", messages.ErrInvalidOrder)
	}

	seen := make(map[messages.ObjectID]bool, len(order.Inputs))
	for _, in := range order.Inputs {
		if seen[in.ID] {
			return fmt.Errorf("input %s repeated:\n%w", in.ID, messages.ErrInvalidOrder)
		}
		seen[in.ID] = true
	}

	return order.CheckSignature()
}

// checkInput validates one order input against the current object version.
func checkInput(order *messages.Order, in messages.ObjectRef, obj *messages.Object) error {
	if obj == nil {
		return fmt.Errorf("input %s:\n%w", in.ID, messages.ErrObjectNotFound)
	}

	if obj.Owner != order.Sender {
		return fmt.Errorf("input %s owned by %s:\n%w", in.ID, obj.Owner, messages.ErrIncorrectSigner)
	}

	if in.Version > obj.Version {
		return fmt.Errorf("input %s at version %d, have %d:\n%w", in.ID, in.Version, obj.Version, messages.ErrMissingDependency)
	}

	if in.Version < obj.Version {
		return fmt.Errorf("input %s version %d already consumed:\n%w", in.ID, in.Version, messages.ErrInvalidOrder)
	}

	if in.Digest != obj.Digest() {
		return fmt.Errorf("input %s at version %d:\n%w", in.ID, in.Version, messages.ErrInvalidObjectDigest)
	}

	return nil
}

// HandleConfirmationOrder executes a certificate. Certificates whose inputs
// are not yet at the required version fail with ErrMissingDependency.
// Executing an already executed certificate returns the stored result.
func (s *State) HandleConfirmationOrder(conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error) {
	cert := conf.Certificate
	if cert == nil {
		return nil, fmt.Errorf("confirmation without certificate:\n%w", messages.ErrInvalidOrder)
	}

	if err := cert.Check(s.committee); err != nil {
		return nil, err
	}

	order := cert.Order
	if err := s.checkOrderShape(order); err != nil {
		return nil, err
	}

	digest := order.Digest()

	s.mu.Lock()
	defer s.mu.Unlock()

	if done, err := s.store.Has(storage.Key(prefixCertificate, digest[:])); err != nil {
		return nil, err
	} else if done {
		return s.orderInfo(digest)
	}

	inputs := make([]*messages.Object, len(order.Inputs))

	for i, in := range order.Inputs {
		obj, err := s.object(in.ID)
		if err != nil {
			return nil, err
		}

		// An absent object may be created by an order this authority has not seen
		if obj == nil {
			return nil, fmt.Errorf("input %s at version %d:\n%w", in.ID, in.Version, messages.ErrMissingDependency)
		}

		if err := checkInput(order, in, obj); err != nil {
			return nil, err
		}

		inputs[i] = obj
	}

	effects, written := execute(order, digest, inputs)
	signed := messages.NewSignedEffects(effects, s.name, s.key)

	var b storage.Batch
	b.Set(storage.Key(prefixCertificate, digest[:]), wire.MarshalCertificate(cert))
	b.Set(storage.Key(prefixEffects, digest[:]), wire.MarshalSignedEffects(signed))

	for _, in := range inputs {
		b.Delete(storage.Key(prefixLock, in.ID[:]))
		b.Delete(storage.Key(prefixOwner, in.Owner[:], in.ID[:]))
		b.Set(storage.Key(prefixConsumer, in.ID[:], versionBytes(in.Version)), digest[:])
		b.Delete(storage.Key(prefixObject, in.ID[:]))
	}

	for _, obj := range written {
		b.Set(storage.Key(prefixObject, obj.ID[:]), wire.MarshalObject(obj))
		b.Set(storage.Key(prefixOwner, obj.Owner[:], obj.ID[:]), []byte{})
	}

	if err := s.store.Write(&b); err != nil {
		return nil, fmt.Errorf("store execution of %s:\n%w", digest, err)
	}

	for _, in := range inputs {
		s.objects.Remove(in.ID)
	}

	logger.Debug("certificate executed",
		"authority", s.name.Short(),
		"tx", digest.String()[:16],
		"mutated", len(effects.Mutated),
		"deleted", len(effects.Deleted),
		"deps", len(effects.Dependencies),
	)

	vote, err := s.vote(digest)
	if err != nil {
		logger.Warn("failed to load vote", "authority", s.name.Short(), "tx", digest.String()[:16], "error", err)
	}

	return &messages.OrderInfoResponse{
		SignedOrder:   vote,
		Certificate:   cert,
		SignedEffects: signed,
	}, nil
}

// execute applies an order to its input objects and returns the effects and
// the new object versions.
func execute(order *messages.Order, digest messages.TransactionDigest, inputs []*messages.Object) (*messages.Effects, []*messages.Object) {
	effects := &messages.Effects{TransactionDigest: digest}
	seenDeps := make(map[messages.TransactionDigest]bool)
	var written []*messages.Object

	for i, in := range inputs {
		if !in.Parent.IsZero() && !seenDeps[in.Parent] {
			seenDeps[in.Parent] = true
			effects.Dependencies = append(effects.Dependencies, in.Parent)
		}

		if order.Kind == messages.OrderDelete {
			effects.Deleted = append(effects.Deleted, messages.ObjectRef{ID: in.ID, Version: in.Version + 1})
			continue
		}

		next := &messages.Object{
			ID:       in.ID,
			Version:  in.Version + 1,
			Owner:    in.Owner,
			Contents: in.Contents,
			Parent:   digest,
		}

		switch order.Kind {
		case messages.OrderTransfer:
			if i == 0 {
				next.Owner = order.Recipient
			}
		case messages.OrderCall:
			next.Contents = order.Payload
		}

		written = append(written, next)
		effects.Mutated = append(effects.Mutated, next.Ref())
	}

	return effects, written
}

// HandleObjectInfoRequest returns the current version of an object and,
// when a sequence is requested, the certificate that consumed that version.
func (s *State) HandleObjectInfoRequest(req *messages.ObjectInfoRequest) (*messages.ObjectInfoResponse, error) {
	obj, err := s.object(req.ObjectID)
	if err != nil {
		return nil, err
	}

	resp := &messages.ObjectInfoResponse{Object: obj}

	if obj != nil {
		if !obj.Parent.IsZero() {
			if resp.ParentCertificate, err = s.certificate(obj.Parent); err != nil {
				return nil, err
			}
		}

		if resp.Lock, err = s.lock(obj.ID); err != nil {
			return nil, err
		}
	}

	if req.RequestSequence != nil {
		consumer, err := s.store.Get(storage.Key(prefixConsumer, req.ObjectID[:], versionBytes(*req.RequestSequence)))
		if err != nil {
			return nil, err
		}

		if consumer != nil {
			var d messages.TransactionDigest
			copy(d[:], consumer)

			if resp.RequestedCertificate, err = s.certificate(d); err != nil {
				return nil, err
			}
		}
	}

	if resp.Object == nil && resp.RequestedCertificate == nil {
		return nil, fmt.Errorf("object %s:\n%w", req.ObjectID, messages.ErrObjectNotFound)
	}

	return resp, nil
}

// HandleAccountInfoRequest lists the current objects owned by an address.
func (s *State) HandleAccountInfoRequest(req *messages.AccountInfoRequest) (*messages.AccountInfoResponse, error) {
	resp := &messages.AccountInfoResponse{Address: req.Address}
	prefix := storage.Key(prefixOwner, req.Address[:])

	var ids []messages.ObjectID
	err := s.store.IteratePrefix(prefix, func(key, _ []byte) error {
		var id messages.ObjectID
		copy(id[:], key[len(prefix):])
		ids = append(ids, id)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan owner index:\n%w", err)
	}

	for _, id := range ids {
		obj, err := s.object(id)
		if err != nil {
			return nil, err
		}

		if obj != nil {
			resp.ObjectRefs = append(resp.ObjectRefs, obj.Ref())
		}
	}

	return resp, nil
}

// HandleOrderInfoRequest returns what this authority knows about an order.
// Unknown orders yield an empty response.
func (s *State) HandleOrderInfoRequest(req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error) {
	return s.orderInfo(req.TransactionDigest)
}

func (s *State) orderInfo(digest messages.TransactionDigest) (*messages.OrderInfoResponse, error) {
	vote, err := s.vote(digest)
	if err != nil {
		return nil, err
	}

	cert, err := s.certificate(digest)
	if err != nil {
		return nil, err
	}

	resp := &messages.OrderInfoResponse{SignedOrder: vote, Certificate: cert}

	data, err := s.store.Get(storage.Key(prefixEffects, digest[:]))
	if err != nil {
		return nil, err
	}

	if data != nil {
		if resp.SignedEffects, err = wire.UnmarshalSignedEffects(data); err != nil {
			return nil, fmt.Errorf("decode effects of %s:\n%w", digest, err)
		}
	}

	return resp, nil
}

// object returns the current version of an object, nil if absent.
func (s *State) object(id messages.ObjectID) (*messages.Object, error) {
	if v, ok := s.objects.Get(id); ok {
		obj := *v.(*messages.Object)
		return &obj, nil
	}

	data, err := s.store.Get(storage.Key(prefixObject, id[:]))
	if err != nil {
		return nil, fmt.Errorf("read object %s:\n%w", id, err)
	}

	if data == nil {
		return nil, nil
	}

	decoded, err := wire.UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("decode object %s:\n%w", id, err)
	}

	s.objects.Add(id, decoded)

	obj := *decoded

	return &obj, nil
}

func (s *State) lock(id messages.ObjectID) (*messages.SignedOrder, error) {
	data, err := s.store.Get(storage.Key(prefixLock, id[:]))
	if err != nil || data == nil {
		return nil, err
	}

	return wire.UnmarshalSignedOrder(data)
}

func (s *State) vote(digest messages.TransactionDigest) (*messages.SignedOrder, error) {
	data, err := s.store.Get(storage.Key(prefixVote, digest[:]))
	if err != nil || data == nil {
		return nil, err
	}

	return wire.UnmarshalSignedOrder(data)
}

func (s *State) certificate(digest messages.TransactionDigest) (*messages.Certificate, error) {
	data, err := s.store.Get(storage.Key(prefixCertificate, digest[:]))
	if err != nil || data == nil {
		return nil, err
	}

	return wire.UnmarshalCertificate(data)
}

// versionBytes encodes a version for use in keys.
func versionBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return buf[:]
}
