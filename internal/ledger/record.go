package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// MaxLocatorLen bounds MessageRecord.Locator, in bytes.
	MaxLocatorLen = 100

	// MaxTTL is thirty days in seconds.
	MaxTTL int64 = 2_592_000
)

// RecordKind tags the variant stored at an address.
type RecordKind string

const (
	KindKey     RecordKind = "key"
	KindMessage RecordKind = "message"
)

// Discriminators lead every durable record so external readers can tell
// the variants apart without knowing how the address was derived.
var (
	keyDiscriminator     = [8]byte{'m', 's', 'g', 'k', 'e', 'y', 0, 0}
	messageDiscriminator = [8]byte{'i', 'n', 'b', 'o', 'x', 0, 0, 0}
)

// Record is a decoded store entry: *KeyRecord or *MessageRecord.
type Record interface {
	Kind() RecordKind
	MarshalBinary() ([]byte, error)
}

// KeyRecord is an identity's messaging key. There is at most one per owner,
// stored at KeyAddress(owner).
type KeyRecord struct {
	Owner         Identity
	EncryptionKey PublicKey
	IsRevoked     bool
	CreatedAt     int64 // unix seconds
	UpdatedAt     int64 // unix seconds
}

func (r *KeyRecord) Kind() RecordKind { return KindKey }

// MarshalBinary encodes the record in its durable layout: discriminator,
// then fields in declaration order, little-endian.
func (r *KeyRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 8+32+32+1+8+8)
	buf = append(buf, keyDiscriminator[:]...)
	buf = append(buf, r.Owner[:]...)
	buf = append(buf, r.EncryptionKey[:]...)
	buf = appendBool(buf, r.IsRevoked)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.CreatedAt))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.UpdatedAt))
	return buf, nil
}

// MessageRecord points at encrypted content stored elsewhere. One exists per
// (recipient, sequence), stored at InboxAddress(recipient, sequence).
type MessageRecord struct {
	Sender       Identity
	Recipient    Identity
	Locator      string
	EphemeralKey PublicKey
	Timestamp    int64 // unix seconds
	TTL          int64 // seconds, advisory
	Sequence     uint64
	IsRead       bool
}

func (r *MessageRecord) Kind() RecordKind { return KindMessage }

// MarshalBinary encodes the record in its durable layout. The locator is a
// u32 length followed by its bytes.
func (r *MessageRecord) MarshalBinary() ([]byte, error) {
	if len(r.Locator) > MaxLocatorLen {
		return nil, fmt.Errorf("encoding message record: %w", ErrCidTooLong)
	}
	buf := make([]byte, 0, 8+32+32+4+len(r.Locator)+32+8+8+8+1)
	buf = append(buf, messageDiscriminator[:]...)
	buf = append(buf, r.Sender[:]...)
	buf = append(buf, r.Recipient[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Locator)))
	buf = append(buf, r.Locator...)
	buf = append(buf, r.EphemeralKey[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Timestamp))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.TTL))
	buf = binary.LittleEndian.AppendUint64(buf, r.Sequence)
	buf = appendBool(buf, r.IsRead)
	return buf, nil
}

// DecodeRecord parses a durable record, dispatching on its discriminator.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(data))
	}
	d := decoder{buf: data[8:]}
	switch {
	case bytes.Equal(data[:8], keyDiscriminator[:]):
		r := &KeyRecord{}
		d.fixed(r.Owner[:])
		d.fixed(r.EncryptionKey[:])
		r.IsRevoked = d.bool()
		r.CreatedAt = int64(d.u64())
		r.UpdatedAt = int64(d.u64())
		return r, d.finish()
	case bytes.Equal(data[:8], messageDiscriminator[:]):
		r := &MessageRecord{}
		d.fixed(r.Sender[:])
		d.fixed(r.Recipient[:])
		r.Locator = d.string(MaxLocatorLen)
		d.fixed(r.EphemeralKey[:])
		r.Timestamp = int64(d.u64())
		r.TTL = int64(d.u64())
		r.Sequence = d.u64()
		r.IsRead = d.bool()
		return r, d.finish()
	default:
		return nil, fmt.Errorf("%w: unknown discriminator %x", ErrCorruptRecord, data[:8])
	}
}

// DecodeKeyRecord parses data that must hold a KeyRecord.
func DecodeKeyRecord(data []byte) (*KeyRecord, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	kr, ok := rec.(*KeyRecord)
	if !ok {
		return nil, fmt.Errorf("%w: want key record, got %s", ErrCorruptRecord, rec.Kind())
	}
	return kr, nil
}

// DecodeMessageRecord parses data that must hold a MessageRecord.
func DecodeMessageRecord(data []byte) (*MessageRecord, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	mr, ok := rec.(*MessageRecord)
	if !ok {
		return nil, fmt.Errorf("%w: want message record, got %s", ErrCorruptRecord, rec.Kind())
	}
	return mr, nil
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// decoder reads the fixed layout, remembering the first error so field reads
// can be written straight-line.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = fmt.Errorf("%w: truncated", ErrCorruptRecord)
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) fixed(dst []byte) {
	if b := d.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (d *decoder) bool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		d.err = fmt.Errorf("%w: invalid bool byte %d", ErrCorruptRecord, b[0])
		return false
	}
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) string(limit int) string {
	b := d.take(4)
	if b == nil {
		return ""
	}
	n := binary.LittleEndian.Uint32(b)
	if int64(n) > int64(limit) {
		d.err = fmt.Errorf("%w: string length %d exceeds %d", ErrCorruptRecord, n, limit)
		return ""
	}
	return string(d.take(int(n)))
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, len(d.buf))
	}
	return nil
}

// KindOf reports the variant of an encoded record from its discriminator
// alone, without decoding the fields.
func KindOf(data []byte) (RecordKind, error) {
	if len(data) >= 8 {
		switch {
		case bytes.Equal(data[:8], keyDiscriminator[:]):
			return KindKey, nil
		case bytes.Equal(data[:8], messageDiscriminator[:]):
			return KindMessage, nil
		}
	}
	return "", fmt.Errorf("%w: unrecognized discriminator", ErrCorruptRecord)
}
