package host_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgledger/internal/host"
	"msgledger/internal/ledger"
	"msgledger/internal/testutil"
)

// recordingLogger keeps every message so tests can check what was logged.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf("%s %s", level, msg))
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

type fixture struct {
	d      *host.Dispatcher
	ledger *ledger.Ledger
	clock  *testutil.StubClock
	ids    *testutil.StubIDGenerator
	log    *recordingLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewTestStore(t, "memory")
	l, clock := testutil.NewTestLedger(t, store)
	log := &recordingLogger{}
	return &fixture{
		d:      host.NewDispatcher(l, log, clock),
		ledger: l,
		clock:  clock,
		ids:    testutil.NewPrefixedIDGenerator("nonce"),
		log:    log,
	}
}

func (f *fixture) signed(t *testing.T, who testutil.TestIdentity, kind host.RequestKind, body any) *host.SignedRequest {
	t.Helper()
	req, err := host.NewRequest(kind, who.ID, body, f.clock, f.ids)
	require.NoError(t, err)
	s, err := host.Sign(who.Priv, req)
	require.NoError(t, err)
	return s
}

func (f *fixture) submit(t *testing.T, who testutil.TestIdentity, kind host.RequestKind, body any) (*host.Outcome, error) {
	t.Helper()
	return f.d.Submit(context.Background(), f.signed(t, who, kind, body))
}

func TestDispatcher_FullFlow(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)
	bob := testutil.NewTestIdentity(t, 2)

	out, err := f.submit(t, bob, host.KindRegisterKey, host.RegisterKeyBody{Owner: bob.ID, EncryptionKey: testutil.TestKey(0xbb)})
	require.NoError(t, err)
	assert.Equal(t, bob.ID, out.Key.Owner)
	assert.Len(t, out.Receipt.Events, 1)

	out, err = f.submit(t, alice, host.KindPostMessage, host.PostMessageBody{
		Recipient:    bob.ID,
		Locator:      "bafy-locator",
		EphemeralKey: testutil.TestKey(0xee),
		TTL:          600,
		Sequence:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, out.Message.Sender)
	assert.Equal(t, f.ledger.Deriver().InboxAddress(bob.ID, 1), out.Receipt.Address)

	out, err = f.submit(t, bob, host.KindMarkRead, host.MarkReadBody{Recipient: bob.ID, Sequence: 1})
	require.NoError(t, err)
	assert.True(t, out.Message.IsRead)
	assert.Empty(t, out.Receipt.Events)

	out, err = f.submit(t, bob, host.KindRevokeKey, host.RevokeKeyBody{Owner: bob.ID})
	require.NoError(t, err)
	assert.True(t, out.Key.IsRevoked)

	_, err = f.submit(t, alice, host.KindPostMessage, host.PostMessageBody{Recipient: bob.ID, TTL: 600, Sequence: 2})
	require.ErrorIs(t, err, ledger.ErrRecipientKeyRevoked)
	assert.Contains(t, f.log.msgs, "WARN request rejected")
}

func TestDispatcher_SignerCannotActForOthers(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)
	bob := testutil.NewTestIdentity(t, 2)

	_, err := f.submit(t, bob, host.KindRegisterKey, host.RegisterKeyBody{Owner: bob.ID, EncryptionKey: testutil.TestKey(0xbb)})
	require.NoError(t, err)

	_, err = f.submit(t, alice, host.KindRevokeKey, host.RevokeKeyBody{Owner: bob.ID})
	assert.ErrorIs(t, err, ledger.ErrUnauthorizedKeyRevoke)

	_, err = f.submit(t, alice, host.KindRegisterKey, host.RegisterKeyBody{Owner: bob.ID, EncryptionKey: testutil.TestKey(0xaa)})
	assert.ErrorIs(t, err, ledger.ErrUnauthorizedKeyUpdate)
}

func TestDispatcher_RejectsTamperedRequests(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)
	mallory := testutil.NewTestIdentity(t, 9)

	t.Run("payload modified after signing", func(t *testing.T) {
		s := f.signed(t, alice, host.KindRegisterKey, host.RegisterKeyBody{Owner: alice.ID, EncryptionKey: testutil.TestKey(0xaa)})
		s.Payload[len(s.Payload)-1] ^= 0x01

		_, err := f.d.Submit(context.Background(), s)
		assert.Error(t, err)
	})

	t.Run("signed by a different key than named", func(t *testing.T) {
		req, err := host.NewRequest(host.KindRegisterKey, alice.ID,
			host.RegisterKeyBody{Owner: alice.ID, EncryptionKey: testutil.TestKey(0xaa)}, f.clock, f.ids)
		require.NoError(t, err)
		s, err := host.Sign(mallory.Priv, req)
		require.NoError(t, err)

		_, err = f.d.Submit(context.Background(), s)
		assert.ErrorIs(t, err, host.ErrBadSignature)
	})

	_, err := f.ledger.GetKey(context.Background(), alice.ID)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestDispatcher_ReplayAndFreshness(t *testing.T) {
	alice := testutil.NewTestIdentity(t, 1)
	body := host.RegisterKeyBody{Owner: alice.ID, EncryptionKey: testutil.TestKey(0xaa)}

	t.Run("replayed request is rejected", func(t *testing.T) {
		f := newFixture(t)
		s := f.signed(t, alice, host.KindRegisterKey, body)

		_, err := f.d.Submit(context.Background(), s)
		require.NoError(t, err)
		_, err = f.d.Submit(context.Background(), s)
		assert.ErrorIs(t, err, host.ErrReplayedNonce)
		assert.Equal(t, 1, f.ids.Issued())
	})

	t.Run("nonce is forgotten once the window has passed", func(t *testing.T) {
		f := newFixture(t)
		s := f.signed(t, alice, host.KindRegisterKey, body)
		_, err := f.d.Submit(context.Background(), s)
		require.NoError(t, err)

		// Past twice the skew the nonce is dropped, but the request itself
		// is now stale, so it is still refused.
		f.clock.Advance(2*host.DefaultMaxSkew + time.Second)
		_, err = f.d.Submit(context.Background(), s)
		assert.ErrorIs(t, err, host.ErrStaleRequest)
	})

	t.Run("clock set back still honours the window", func(t *testing.T) {
		f := newFixture(t)
		start := f.clock.Now()
		f.clock.Set(start.Add(-host.DefaultMaxSkew - time.Minute))
		s := f.signed(t, alice, host.KindRegisterKey, body)
		f.clock.Set(start)

		_, err := f.d.Submit(context.Background(), s)
		assert.ErrorIs(t, err, host.ErrStaleRequest)
	})

	t.Run("stale request is rejected", func(t *testing.T) {
		f := newFixture(t)
		s := f.signed(t, alice, host.KindRegisterKey, body)
		f.clock.Advance(host.DefaultMaxSkew + time.Second)

		_, err := f.d.Submit(context.Background(), s)
		assert.ErrorIs(t, err, host.ErrStaleRequest)
	})

	t.Run("request from the future is rejected", func(t *testing.T) {
		f := newFixture(t)
		future := testutil.NewStubClock(f.clock.Now().Add(host.DefaultMaxSkew + time.Minute))
		req, err := host.NewRequest(host.KindRegisterKey, alice.ID, body, future, f.ids)
		require.NoError(t, err)
		s, err := host.Sign(alice.Priv, req)
		require.NoError(t, err)

		_, err = f.d.Submit(context.Background(), s)
		assert.ErrorIs(t, err, host.ErrStaleRequest)
	})
}

func TestDispatcher_LogsResurrection(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)
	body := host.RegisterKeyBody{Owner: alice.ID, EncryptionKey: testutil.TestKey(0xaa)}

	_, err := f.submit(t, alice, host.KindRegisterKey, body)
	require.NoError(t, err)
	_, err = f.submit(t, alice, host.KindRevokeKey, host.RevokeKeyBody{Owner: alice.ID})
	require.NoError(t, err)
	assert.NotContains(t, f.log.msgs, "WARN key re-registered after revocation")

	out, err := f.submit(t, alice, host.KindRegisterKey, body)
	require.NoError(t, err)
	assert.False(t, out.Key.IsRevoked)
	assert.Contains(t, f.log.msgs, "WARN key re-registered after revocation")
}

func TestSignedRequest_WireRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)
	s := f.signed(t, alice, host.KindMarkRead, host.MarkReadBody{Recipient: alice.ID, Sequence: 4})

	data, err := s.Encode()
	require.NoError(t, err)
	decoded, err := host.DecodeSignedRequest(data)
	require.NoError(t, err)

	req, err := decoded.Open()
	require.NoError(t, err)
	assert.Equal(t, host.KindMarkRead, req.Kind)
	assert.Equal(t, alice.ID, req.Signer)

	body, err := req.DecodeBody()
	require.NoError(t, err)
	assert.Equal(t, &host.MarkReadBody{Recipient: alice.ID, Sequence: 4}, body)
}

func TestDispatcher_SubmitEncoded(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)

	data, err := f.signed(t, alice, host.KindRegisterKey,
		host.RegisterKeyBody{Owner: alice.ID, EncryptionKey: testutil.TestKey(0xaa)}).Encode()
	require.NoError(t, err)

	out, err := f.d.SubmitEncoded(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, out.Key.Owner)

	_, err = f.d.SubmitEncoded(context.Background(), data)
	assert.ErrorIs(t, err, host.ErrReplayedNonce)

	_, err = f.d.SubmitEncoded(context.Background(), []byte{0xff})
	assert.Error(t, err)
}

func TestRequest_UnknownKind(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewTestIdentity(t, 1)

	_, err := f.submit(t, alice, host.RequestKind("close_account"), host.RevokeKeyBody{Owner: alice.ID})
	assert.ErrorIs(t, err, host.ErrUnknownRequest)
}

func TestLocal_VerifySigner(t *testing.T) {
	h := host.NewLocal(testutil.NewTestStore(t, "memory"))
	alice := testutil.NewTestIdentity(t, 1)
	bob := testutil.NewTestIdentity(t, 2)

	ctx := context.Background()
	assert.False(t, h.VerifySigner(ctx, alice.ID))

	ctx = host.WithVerifiedSigner(ctx, alice.ID)
	assert.True(t, h.VerifySigner(ctx, alice.ID))
	assert.False(t, h.VerifySigner(ctx, bob.ID))
	assert.False(t, h.VerifySigner(host.WithVerifiedSigner(context.Background(), ledger.Identity{}), ledger.Identity{}))
}
