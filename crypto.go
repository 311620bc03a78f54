package ringlink

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeyPair is the asymmetric Curve25519 keypair each user owns: the
// public half is disclosed during authorization, the private half never
// leaves the client.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// SymmetricKey is a 32-byte key used with nacl/secretbox, standing in for
// the call key and the per-packet nickname-encryption key.
type SymmetricKey [32]byte

// CryptoSurface is the collaborator interface the core consumes for every
// cryptographic operation. ringlink.DefaultCrypto is the real,
// runnable implementation; embedders may substitute their own.
type CryptoSurface interface {
	GenerateKeypair() (KeyPair, error)
	SerializePublicKey(pub [32]byte) string
	DeserializePublicKey(s string) ([32]byte, error)
	WrapSymmetricKey(pub [32]byte, key SymmetricKey) (string, error)
	UnwrapSymmetricKey(kp KeyPair, wrapped string) (SymmetricKey, error)
	EncryptSymmetric(key SymmetricKey, plain []byte) (string, error)
	DecryptSymmetric(key SymmetricKey, ciphertext string) ([]byte, error)
	GenerateSymmetricKey() (SymmetricKey, error)
	Hash(s string) string
	GenerateUID() string
}

// DefaultCrypto is the production CryptoSurface: NaCl sealed-box key
// wrap (asymmetric), NaCl secretbox (XSalsa20-Poly1305) for symmetric
// payloads, BLAKE2b-256 for nickname hashing, and UUIDv4 for ids.
type DefaultCrypto struct{}

var _ CryptoSurface = DefaultCrypto{}

func (DefaultCrypto) GenerateKeypair() (kp KeyPair, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return
	}
	kp.Public = *pub
	kp.Private = *priv
	return
}

func (DefaultCrypto) SerializePublicKey(pub [32]byte) string {
	return base64.StdEncoding.EncodeToString(pub[:])
}

func (DefaultCrypto) DeserializePublicKey(s string) (pub [32]byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return
	}
	if len(raw) != 32 {
		err = fmt.Errorf("ringlink: public key must be 32 bytes, got %d", len(raw))
		return
	}
	copy(pub[:], raw)
	return
}

// WrapSymmetricKey seals key under pub using an anonymous (sealed) box:
// an ephemeral keypair is generated per call, so only the holder of the
// matching private key can recover it. Call keys and packet keys never
// travel except wrapped this way under the recipient's public key.
func (DefaultCrypto) WrapSymmetricKey(pub [32]byte, key SymmetricKey) (string, error) {
	sealed, err := sealAnonymous(key[:], pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (DefaultCrypto) UnwrapSymmetricKey(kp KeyPair, wrapped string) (key SymmetricKey, err error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return
	}
	plain, err := openAnonymous(raw, kp.Public, kp.Private)
	if err != nil {
		return
	}
	if len(plain) != 32 {
		err = fmt.Errorf("ringlink: unwrapped key must be 32 bytes, got %d", len(plain))
		return
	}
	copy(key[:], plain)
	return
}

func (DefaultCrypto) EncryptSymmetric(key SymmetricKey, plain []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	k := [32]byte(key)
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &k)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (DefaultCrypto) DecryptSymmetric(key SymmetricKey, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(raw) < 24 {
		return nil, fmt.Errorf("ringlink: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	k := [32]byte(key)
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &k)
	if !ok {
		return nil, fmt.Errorf("ringlink: secretbox authentication failed")
	}
	return plain, nil
}

func (DefaultCrypto) GenerateSymmetricKey() (key SymmetricKey, err error) {
	_, err = rand.Read(key[:])
	return
}

// Hash returns the hex BLAKE2b-256 digest used as a user's routing key.
// Nicknames themselves travel encrypted; only hashes appear in routing
// fields and logs.
func (DefaultCrypto) Hash(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (DefaultCrypto) GenerateUID() string {
	id := uuid.NewV4()
	return id.String()
}

// sealAnonymous and openAnonymous implement libsodium's "sealed box"
// construction on top of golang.org/x/crypto/nacl/box: an ephemeral
// keypair is generated, the nonce is derived from
// blake2b(ephemeralPublic || recipientPublic), and the ciphertext is
// prefixed with the ephemeral public key so the recipient can open it
// with only its own static keypair. The construction is wire-compatible
// with libsodium's crypto_box_seal.
func sealAnonymous(message []byte, recipientPublic [32]byte) ([]byte, error) {
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	nonce := sealedBoxNonce(*ephPub, recipientPublic)
	sealed := box.Seal(nil, message, &nonce, &recipientPublic, ephPriv)
	out := make([]byte, 0, 32+len(sealed))
	out = append(out, ephPub[:]...)
	out = append(out, sealed...)
	return out, nil
}

func openAnonymous(sealed []byte, recipientPublic, recipientPrivate [32]byte) ([]byte, error) {
	if len(sealed) < 32 {
		return nil, fmt.Errorf("ringlink: sealed box too short")
	}
	var ephPub [32]byte
	copy(ephPub[:], sealed[:32])
	nonce := sealedBoxNonce(ephPub, recipientPublic)
	plain, ok := box.Open(nil, sealed[32:], &nonce, &ephPub, &recipientPrivate)
	if !ok {
		return nil, fmt.Errorf("ringlink: sealed box authentication failed")
	}
	return plain, nil
}

func sealedBoxNonce(ephemeralPublic, recipientPublic [32]byte) (nonce [24]byte) {
	h, _ := blake2b.New(24, nil)
	h.Write(ephemeralPublic[:])
	h.Write(recipientPublic[:])
	copy(nonce[:], h.Sum(nil))
	return
}
