package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgledger/internal/ledger"
	"msgledger/internal/testutil"
)

// env is one ledger wired over one backend.
type env struct {
	ledger *ledger.Ledger
	clock  *testutil.StubClock
	store  ledger.Store
}

// eachStore runs fn once per store backend.
func eachStore(t *testing.T, fn func(t *testing.T, e env)) {
	t.Helper()
	for _, kind := range testutil.StoreKinds {
		t.Run(kind, func(t *testing.T) {
			store := testutil.NewTestStore(t, kind)
			l, clock := testutil.NewTestLedger(t, store)
			fn(t, env{ledger: l, clock: clock, store: store})
		})
	}
}

func (e env) events(t *testing.T) []*ledger.Event {
	t.Helper()
	evs, err := e.store.Events(context.Background(), 0, 0)
	require.NoError(t, err)
	return evs
}

func (e env) register(t *testing.T, who testutil.TestIdentity, key ledger.PublicKey) *ledger.KeyRecord {
	t.Helper()
	ctx := testutil.SignedBy(context.Background(), who.ID)
	rec, _, err := e.ledger.RegisterKey(ctx, who.ID, who.ID, key)
	require.NoError(t, err)
	return rec
}

func TestRegisterKey(t *testing.T) {
	alice := testutil.NewTestIdentity(t, 1)
	bob := testutil.NewTestIdentity(t, 2)

	t.Run("first registration creates the record", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			ctx := testutil.SignedBy(context.Background(), alice.ID)
			now := e.clock.Now().Unix()

			rec, receipt, err := e.ledger.RegisterKey(ctx, alice.ID, alice.ID, testutil.TestKey(0xaa))
			require.NoError(t, err)

			assert.Equal(t, alice.ID, rec.Owner)
			assert.Equal(t, testutil.TestKey(0xaa), rec.EncryptionKey)
			assert.False(t, rec.IsRevoked)
			assert.Equal(t, now, rec.CreatedAt)
			assert.Equal(t, now, rec.UpdatedAt)
			assert.Equal(t, e.ledger.Deriver().KeyAddress(alice.ID), receipt.Address)

			stored, err := e.ledger.GetKey(context.Background(), alice.ID)
			require.NoError(t, err)
			assert.Equal(t, rec, stored)

			require.Len(t, receipt.Events, 1)
			ev := receipt.Events[0]
			assert.Equal(t, ledger.EventMessagingKeyRegistered, ev.Kind)
			assert.Equal(t, int64(1), ev.Seq)
			payload, err := ev.Decode()
			require.NoError(t, err)
			assert.Equal(t, &ledger.MessagingKeyRegistered{
				Owner:         alice.ID,
				EncryptionKey: testutil.TestKey(0xaa),
				Timestamp:     now,
			}, payload)
		})
	})

	t.Run("re-registration keeps created_at and replaces the key", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			first := e.register(t, alice, testutil.TestKey(0xaa))
			e.clock.Advance(time.Hour)

			ctx := testutil.SignedBy(context.Background(), alice.ID)
			rec, _, err := e.ledger.RegisterKey(ctx, alice.ID, alice.ID, testutil.TestKey(0xbb))
			require.NoError(t, err)

			assert.Equal(t, first.CreatedAt, rec.CreatedAt)
			assert.Equal(t, e.clock.Now().Unix(), rec.UpdatedAt)
			assert.Greater(t, rec.UpdatedAt, rec.CreatedAt)
			assert.Equal(t, testutil.TestKey(0xbb), rec.EncryptionKey)
			assert.Len(t, e.events(t), 2)
		})
	})

	t.Run("registering another identity's address is rejected", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			ctx := testutil.SignedBy(context.Background(), bob.ID)

			_, _, err := e.ledger.RegisterKey(ctx, alice.ID, bob.ID, testutil.TestKey(0xbb))
			require.ErrorIs(t, err, ledger.ErrUnauthorizedKeyUpdate)
			assert.Equal(t, "UnauthorizedKeyUpdate", ledger.Code(err))

			_, err = e.ledger.GetKey(context.Background(), alice.ID)
			assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
			assert.Empty(t, e.events(t))
		})
	})

	t.Run("overwriting an existing owner's key is rejected", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			orig := e.register(t, alice, testutil.TestKey(0xaa))

			ctx := testutil.SignedBy(context.Background(), bob.ID)
			_, _, err := e.ledger.RegisterKey(ctx, alice.ID, bob.ID, testutil.TestKey(0xbb))
			require.ErrorIs(t, err, ledger.ErrUnauthorizedKeyUpdate)

			stored, err := e.ledger.GetKey(context.Background(), alice.ID)
			require.NoError(t, err)
			assert.Equal(t, orig, stored)
			assert.Len(t, e.events(t), 1)
		})
	})

	t.Run("another identity cannot resurrect a revoked key", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			e.register(t, alice, testutil.TestKey(0xaa))
			_, _, err := e.ledger.RevokeKey(testutil.SignedBy(context.Background(), alice.ID), alice.ID, alice.ID)
			require.NoError(t, err)
			before := e.events(t)

			ctx := testutil.SignedBy(context.Background(), bob.ID)
			_, _, err = e.ledger.RegisterKey(ctx, alice.ID, bob.ID, testutil.TestKey(0xbb))
			require.ErrorIs(t, err, ledger.ErrUnauthorizedKeyUpdate)

			stored, err := e.ledger.GetKey(context.Background(), alice.ID)
			require.NoError(t, err)
			assert.True(t, stored.IsRevoked)
			assert.Equal(t, alice.ID, stored.Owner)
			assert.Equal(t, testutil.TestKey(0xaa), stored.EncryptionKey)
			assert.Len(t, e.events(t), len(before))
		})
	})

	t.Run("unverified signer is rejected", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			_, _, err := e.ledger.RegisterKey(context.Background(), alice.ID, alice.ID, testutil.TestKey(0xaa))
			require.ErrorIs(t, err, ledger.ErrSignerNotVerified)
			assert.Empty(t, ledger.Code(err))

			// Verified as someone else.
			ctx := testutil.SignedBy(context.Background(), bob.ID)
			_, _, err = e.ledger.RegisterKey(ctx, alice.ID, alice.ID, testutil.TestKey(0xaa))
			require.ErrorIs(t, err, ledger.ErrSignerNotVerified)
		})
	})
}

func TestRevokeKey(t *testing.T) {
	alice := testutil.NewTestIdentity(t, 1)
	bob := testutil.NewTestIdentity(t, 2)

	t.Run("owner revokes a live key", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			orig := e.register(t, alice, testutil.TestKey(0xaa))
			e.clock.Advance(time.Minute)

			ctx := testutil.SignedBy(context.Background(), alice.ID)
			rec, receipt, err := e.ledger.RevokeKey(ctx, alice.ID, alice.ID)
			require.NoError(t, err)

			assert.True(t, rec.IsRevoked)
			assert.Equal(t, orig.CreatedAt, rec.CreatedAt)
			assert.Equal(t, e.clock.Now().Unix(), rec.UpdatedAt)
			assert.Equal(t, orig.EncryptionKey, rec.EncryptionKey)

			require.Len(t, receipt.Events, 1)
			payload, err := receipt.Events[0].Decode()
			require.NoError(t, err)
			assert.Equal(t, &ledger.MessagingKeyRevoked{Owner: alice.ID, Timestamp: rec.UpdatedAt}, payload)
		})
	})

	t.Run("revoking twice fails", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			e.register(t, alice, testutil.TestKey(0xaa))
			ctx := testutil.SignedBy(context.Background(), alice.ID)

			_, _, err := e.ledger.RevokeKey(ctx, alice.ID, alice.ID)
			require.NoError(t, err)
			_, _, err = e.ledger.RevokeKey(ctx, alice.ID, alice.ID)
			require.ErrorIs(t, err, ledger.ErrKeyAlreadyRevoked)
			assert.Equal(t, "KeyAlreadyRevoked", ledger.Code(err))
			assert.Len(t, e.events(t), 2)
		})
	})

	t.Run("non-owner cannot revoke", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			e.register(t, alice, testutil.TestKey(0xaa))

			ctx := testutil.SignedBy(context.Background(), bob.ID)
			_, _, err := e.ledger.RevokeKey(ctx, alice.ID, bob.ID)
			require.ErrorIs(t, err, ledger.ErrUnauthorizedKeyRevoke)

			stored, err := e.ledger.GetKey(context.Background(), alice.ID)
			require.NoError(t, err)
			assert.False(t, stored.IsRevoked)
		})
	})

	t.Run("revoking a missing key fails", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			ctx := testutil.SignedBy(context.Background(), alice.ID)
			_, _, err := e.ledger.RevokeKey(ctx, alice.ID, alice.ID)
			require.ErrorIs(t, err, ledger.ErrRecordNotFound)
		})
	})

	t.Run("re-registering after revocation revives the key", func(t *testing.T) {
		eachStore(t, func(t *testing.T, e env) {
			orig := e.register(t, alice, testutil.TestKey(0xaa))
			ctx := testutil.SignedBy(context.Background(), alice.ID)
			_, _, err := e.ledger.RevokeKey(ctx, alice.ID, alice.ID)
			require.NoError(t, err)

			rec := e.register(t, alice, testutil.TestKey(0xcc))
			assert.False(t, rec.IsRevoked)
			assert.Equal(t, orig.CreatedAt, rec.CreatedAt)
			assert.Equal(t, testutil.TestKey(0xcc), rec.EncryptionKey)
		})
	})
}
