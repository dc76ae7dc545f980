// Package keystore keeps a user's signing key and messaging key on disk,
// encrypted under a passphrase with age's scrypt recipient.
package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/curve25519"

	"msgledger/internal/codec"
	"msgledger/internal/ledger"
)

// ErrExists is returned by Create when a keystore is already present.
var ErrExists = errors.New("keystore already exists")

// Keys is an unlocked keystore.
type Keys struct {
	// Signing authorizes requests; its public half is the ledger identity.
	Signing ed25519.PrivateKey

	// Messaging is the X25519 secret whose public half is registered in the
	// key registry for senders to encrypt to.
	Messaging [32]byte
}

// Identity returns the ledger identity of the signing key.
func (k *Keys) Identity() ledger.Identity {
	var id ledger.Identity
	copy(id[:], k.Signing.Public().(ed25519.PublicKey))
	return id
}

// MessagingPublic returns the X25519 public key for the messaging secret.
func (k *Keys) MessagingPublic() (ledger.PublicKey, error) {
	var pub ledger.PublicKey
	out, err := curve25519.X25519(k.Messaging[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("deriving messaging public key: %w", err)
	}
	copy(pub[:], out)
	return pub, nil
}

// Generate creates fresh keys from crypto/rand.
func Generate() (*Keys, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	k := &Keys{Signing: priv}
	if _, err := io.ReadFull(rand.Reader, k.Messaging[:]); err != nil {
		return nil, fmt.Errorf("generating messaging key: %w", err)
	}
	return k, nil
}

// stored is the plaintext inside the age file.
type stored struct {
	Version   int    `cbor:"version"`
	Seed      []byte `cbor:"seed"`
	Messaging []byte `cbor:"messaging"`
}

// Keystore is a passphrase-protected key file.
type Keystore struct {
	path       string
	workFactor int
}

// New returns a Keystore at path. workFactor is the log2 scrypt cost used
// when writing; zero keeps the age default.
func New(path string, workFactor int) *Keystore {
	return &Keystore{path: path, workFactor: workFactor}
}

// Path returns the keystore file location.
func (ks *Keystore) Path() string { return ks.path }

// Exists reports whether the key file is present.
func (ks *Keystore) Exists() bool {
	_, err := os.Stat(ks.path)
	return err == nil
}

// Create encrypts keys with passphrase and writes them. It refuses to
// overwrite an existing keystore.
func (ks *Keystore) Create(keys *Keys, passphrase string) error {
	if ks.Exists() {
		return fmt.Errorf("%w at %s", ErrExists, ks.path)
	}

	plain, err := codec.Marshal(stored{
		Version:   1,
		Seed:      keys.Signing.Seed(),
		Messaging: keys.Messaging[:],
	})
	if err != nil {
		return fmt.Errorf("encoding keys: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if ks.workFactor > 0 {
		recipient.SetWorkFactor(ks.workFactor)
	}

	if err := os.MkdirAll(filepath.Dir(ks.path), 0700); err != nil {
		return fmt.Errorf("creating keystore directory: %w", err)
	}

	f, err := os.OpenFile(ks.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating keystore file: %w", err)
	}
	defer f.Close()

	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("writing encrypted keys: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted keys: %w", err)
	}

	return ks.writePublic(keys)
}

// Public is the plaintext half of a keystore, readable without the
// passphrase.
type Public struct {
	Identity  ledger.Identity
	Messaging ledger.PublicKey
}

// PublicPath returns where the plaintext public keys are written.
func (ks *Keystore) PublicPath() string { return ks.path + ".pub" }

func (ks *Keystore) writePublic(keys *Keys) error {
	msgPub, err := keys.MessagingPublic()
	if err != nil {
		return err
	}
	data := fmt.Sprintf("identity %s\nmessaging %s\n", keys.Identity(), msgPub)
	if err := os.WriteFile(ks.PublicPath(), []byte(data), 0644); err != nil {
		return fmt.Errorf("writing public keys: %w", err)
	}
	return nil
}

// ReadPublic loads the public keys written alongside the keystore.
func (ks *Keystore) ReadPublic() (*Public, error) {
	data, err := os.ReadFile(ks.PublicPath())
	if err != nil {
		return nil, fmt.Errorf("reading public keys: %w", err)
	}

	f := strings.Fields(string(data))
	if len(f) != 4 || f[0] != "identity" || f[2] != "messaging" {
		return nil, fmt.Errorf("parsing public keys: unexpected format in %s", ks.PublicPath())
	}
	id, err := ledger.ParseIdentity(f[1])
	if err != nil {
		return nil, err
	}
	msg, err := ledger.ParsePublicKey(f[3])
	if err != nil {
		return nil, err
	}
	return &Public{Identity: id, Messaging: msg}, nil
}

// NewEphemeral returns the public half of a fresh one-time X25519 key, as
// attached to each posted message.
func NewEphemeral() (ledger.PublicKey, error) {
	var secret [32]byte
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return ledger.PublicKey{}, fmt.Errorf("generating ephemeral key: %w", err)
	}
	k := &Keys{Messaging: secret}
	return k.MessagingPublic()
}

// Unlock decrypts the keystore with passphrase.
func (ks *Keystore) Unlock(passphrase string) (*Keys, error) {
	data, err := os.ReadFile(ks.path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting keystore: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted keystore: %w", err)
	}

	var s stored
	if err := codec.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("decoding keys: %w", err)
	}
	if s.Version != 1 {
		return nil, fmt.Errorf("unsupported keystore version %d", s.Version)
	}
	if len(s.Seed) != ed25519.SeedSize || len(s.Messaging) != 32 {
		return nil, fmt.Errorf("keystore holds malformed keys")
	}

	k := &Keys{Signing: ed25519.NewKeyFromSeed(s.Seed)}
	copy(k.Messaging[:], s.Messaging)
	return k, nil
}
