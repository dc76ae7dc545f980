package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeriver(b byte) *Deriver {
	var id LedgerID
	id[0] = b
	return NewDeriver(id)
}

func identity(b byte) Identity {
	var id Identity
	id[0] = b
	return id
}

func TestDeriver_Deterministic(t *testing.T) {
	d1, d2 := testDeriver(1), testDeriver(1)

	assert.Equal(t, d1.KeyAddress(identity(7)), d2.KeyAddress(identity(7)))
	assert.Equal(t, d1.InboxAddress(identity(7), 3), d2.InboxAddress(identity(7), 3))
}

func TestDeriver_Independence(t *testing.T) {
	d := testDeriver(1)
	alice, bob := identity(1), identity(2)

	seen := map[Address]string{}
	add := func(name string, a Address) {
		t.Helper()
		if prev, ok := seen[a]; ok {
			t.Fatalf("%s collides with %s at %s", name, prev, a)
		}
		seen[a] = name
	}

	add("key(alice)", d.KeyAddress(alice))
	add("key(bob)", d.KeyAddress(bob))
	for seq := uint64(0); seq < 50; seq++ {
		add("inbox(alice)", d.InboxAddress(alice, seq))
		add("inbox(bob)", d.InboxAddress(bob, seq))
	}
	add("other ledger key(alice)", testDeriver(2).KeyAddress(alice))
}

func TestDeriver_SeedBoundaries(t *testing.T) {
	d := testDeriver(1)

	// Length prefixes keep the split between seeds significant.
	assert.NotEqual(t, d.Derive([]byte("ab"), []byte("c")), d.Derive([]byte("a"), []byte("bc")))
	assert.NotEqual(t, d.Derive([]byte("abc")), d.Derive([]byte("abc"), nil))
}

func TestDeriver_InboxUsesLittleEndianSequence(t *testing.T) {
	d := testDeriver(1)
	recipient := identity(5)
	seqBytes := []byte{0x01, 0x02, 0, 0, 0, 0, 0, 0}

	assert.Equal(t, seqBytes, SequenceBytes(0x0201))
	assert.Equal(t,
		d.Derive([]byte(InboxSalt), recipient[:], seqBytes),
		d.InboxAddress(recipient, 0x0201))
}

func TestParseAddress(t *testing.T) {
	a := testDeriver(1).KeyAddress(identity(1))

	got, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = ParseAddress("abcd")
	assert.Error(t, err)
	_, err = ParseAddress("not hex")
	assert.Error(t, err)
}

func TestAddressSet_Check(t *testing.T) {
	set := NewAddressSet([]Address{{1}, {2}})

	assert.NoError(t, set.Check(Address{1}))
	assert.ErrorIs(t, set.Check(Address{3}), ErrUndeclaredAddress)
}

func TestIdentity(t *testing.T) {
	id := identity(0xab)

	assert.Equal(t, "ab000000", id.Short())
	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.True(t, Identity{}.IsZero())
	assert.False(t, id.IsZero())

	_, err = IdentityFromPublicKey(make([]byte, 31))
	assert.Error(t, err)
}
