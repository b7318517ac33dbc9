package transmission

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-proto-golang/koinos/protocol"
	"github.com/multiformats/go-multihash"
	"google.golang.org/protobuf/proto"
)

// Kind is the kind of data a transmission carries
type Kind uint8

const (
	// Ratification is a ratification transmission
	Ratification Kind = iota

	// Solution is a proof-of-work solution transmission
	Solution

	// Transaction is a transaction transmission
	Transaction
)

// ErrUnknownKind is returned for a kind outside of the known kinds
var ErrUnknownKind = errors.New("unknown transmission kind")

var kindNames = map[Kind]string{
	Ratification: "ratification",
	Solution:     "solution",
	Transaction:  "transaction",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("%w %q", ErrUnknownKind, s)
}

// ID identifies a transmission.
//
// Multihash is a []byte and cannot be used as a map key, so the digest is
// held as a string. ID is comparable.
type ID struct {
	Kind   Kind
	Digest string
}

// NewID creates an ID from a kind and a multihash digest
func NewID(kind Kind, digest multihash.Multihash) ID {
	return ID{Kind: kind, Digest: string(digest)}
}

// Multihash returns the digest of the ID
func (id ID) Multihash() multihash.Multihash {
	return multihash.Multihash(id.Digest)
}

// String returns the ID as <kind>:<base58 digest>
func (id ID) String() string {
	return id.Kind.String() + ":" + id.Multihash().B58String()
}

// ParseID parses an ID produced by ID.String
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("%w, malformed transmission id %q", p2perrors.ErrDeserialization, s)
	}

	kind, err := parseKind(parts[0])
	if err != nil {
		return ID{}, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	digest, err := multihash.FromB58String(parts[1])
	if err != nil {
		return ID{}, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	if err := checkDigest(digest); err != nil {
		return ID{}, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	return NewID(kind, digest), nil
}

// Bytes encodes the ID for the wire as the kind byte followed by the multihash
func (id ID) Bytes() []byte {
	b := make([]byte, 0, len(id.Digest)+1)
	b = append(b, byte(id.Kind))
	return append(b, id.Digest...)
}

// IDFromBytes decodes an ID produced by ID.Bytes
func IDFromBytes(b []byte) (ID, error) {
	if len(b) < 2 {
		return ID{}, fmt.Errorf("%w, transmission id too short", p2perrors.ErrDeserialization)
	}

	kind := Kind(b[0])
	if _, ok := kindNames[kind]; !ok {
		return ID{}, fmt.Errorf("%w, %w %d", p2perrors.ErrDeserialization, ErrUnknownKind, b[0])
	}

	digest, err := multihash.Cast(b[1:])
	if err != nil {
		return ID{}, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	if err := checkDigest(digest); err != nil {
		return ID{}, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	return NewID(kind, digest), nil
}

// Transmission is a unit of data disseminated by workers
type Transmission struct {
	ID      ID
	Payload []byte
}

const digestLength = 32

func digest(payload []byte) (multihash.Multihash, error) {
	return multihash.Sum(payload, multihash.SHA2_256, digestLength)
}

// checkDigest only accepts full length sha2-256 digests
func checkDigest(mh multihash.Multihash) error {
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return err
	}

	if decoded.Code != multihash.SHA2_256 || decoded.Length != digestLength {
		return fmt.Errorf("unsupported digest %s/%d", multihash.Codes[decoded.Code], decoded.Length)
	}

	return nil
}

// NewTransmission creates a transmission, deriving its ID from the payload
func NewTransmission(kind Kind, payload []byte) (*Transmission, error) {
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownKind, kind)
	}

	mh, err := digest(payload)
	if err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrSerialization, err)
	}

	return &Transmission{ID: NewID(kind, mh), Payload: payload}, nil
}

// FromTransaction creates a transaction transmission
func FromTransaction(trx *protocol.Transaction) (*Transmission, error) {
	payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(trx)
	if err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrSerialization, err)
	}

	return NewTransmission(Transaction, payload)
}

// Transaction decodes the payload of a transaction transmission
func (t *Transmission) Transaction() (*protocol.Transaction, error) {
	if t.ID.Kind != Transaction {
		return nil, fmt.Errorf("%w, %s is not a transaction", p2perrors.ErrDeserialization, t.ID)
	}

	trx := &protocol.Transaction{}
	if err := proto.Unmarshal(t.Payload, trx); err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	return trx, nil
}

// Verify checks that the payload hashes to the ID. Transaction payloads must
// also decode.
func (t *Transmission) Verify() error {
	if err := checkDigest(t.ID.Multihash()); err != nil {
		return fmt.Errorf("%w, %s", p2perrors.ErrInvalidTransmission, err)
	}

	mh, err := digest(t.Payload)
	if err != nil {
		return fmt.Errorf("%w, %s", p2perrors.ErrInvalidTransmission, err)
	}

	if !bytes.Equal(mh, t.ID.Multihash()) {
		return fmt.Errorf("%w, payload does not match %s", p2perrors.ErrInvalidTransmission, t.ID)
	}

	if t.ID.Kind == Transaction {
		if _, err := t.Transaction(); err != nil {
			return fmt.Errorf("%w, %s", p2perrors.ErrInvalidTransmission, err)
		}
	}

	return nil
}
