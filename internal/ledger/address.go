package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Fixed salts. Records of different kinds never share an address, even for
// the same identity, because the salt is the first seed.
const (
	KeySalt   = "msgkey"
	InboxSalt = "inbox"
)

// Address locates a single record in the store.
type Address [32]byte

// ParseAddress decodes a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeHex32(s, a[:]); err != nil {
		return a, fmt.Errorf("parsing address: %w", err)
	}
	return a, nil
}

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether a is unset.
func (a Address) IsZero() bool { return a == Address{} }

// LedgerID namespaces an address space. Two ledgers with different IDs
// derive disjoint addresses for the same seeds.
type LedgerID [32]byte

// ParseLedgerID decodes a hex-encoded ledger ID.
func ParseLedgerID(s string) (LedgerID, error) {
	var id LedgerID
	if err := decodeHex32(s, id[:]); err != nil {
		return id, fmt.Errorf("parsing ledger id: %w", err)
	}
	return id, nil
}

func (id LedgerID) String() string { return hex.EncodeToString(id[:]) }

// Deriver computes record addresses. It is the only way addresses are built:
// there is no owner-to-address index that could drift from it.
//
// address = BLAKE3-keyed(ledgerID, len(s0)||s0 || len(s1)||s1 || ...)
//
// Each seed carries a 4-byte little-endian length prefix so the encoding of a
// seed list is injective.
type Deriver struct {
	key LedgerID
}

// NewDeriver returns a Deriver for the given ledger.
func NewDeriver(id LedgerID) *Deriver {
	return &Deriver{key: id}
}

// LedgerID returns the namespace this deriver hashes under.
func (d *Deriver) LedgerID() LedgerID { return d.key }

// Derive hashes an arbitrary seed list. Most callers want KeyAddress or
// InboxAddress.
func (d *Deriver) Derive(seeds ...[]byte) Address {
	h, err := blake3.NewKeyed(d.key[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("ledger: blake3 keyed hasher: " + err.Error())
	}
	var lenbuf [4]byte
	for _, s := range seeds {
		binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(s)))
		h.Write(lenbuf[:])
		h.Write(s)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// KeyAddress returns derive("msgkey", owner).
func (d *Deriver) KeyAddress(owner Identity) Address {
	return d.Derive([]byte(KeySalt), owner[:])
}

// InboxAddress returns derive("inbox", recipient, sequence as 8 LE bytes).
func (d *Deriver) InboxAddress(recipient Identity, sequence uint64) Address {
	return d.Derive([]byte(InboxSalt), recipient[:], SequenceBytes(sequence))
}

// SequenceBytes encodes a sequence number the way it is seeded into inbox
// addresses.
func SequenceBytes(sequence uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, sequence)
}

// AddressSet is the set of addresses a request declared up front.
type AddressSet map[Address]struct{}

// NewAddressSet builds the declared set for a request.
func NewAddressSet(addrs []Address) AddressSet {
	set := make(AddressSet, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

// Check returns ErrUndeclaredAddress if a was not declared.
func (s AddressSet) Check(a Address) error {
	if _, ok := s[a]; !ok {
		return fmt.Errorf("%w: %s", ErrUndeclaredAddress, a)
	}
	return nil
}
