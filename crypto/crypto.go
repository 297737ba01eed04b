// Package crypto implements the primitives shared by every PRFI component:
// hashing, HMAC signing, keypair/address derivation, Merkle roots, and the
// proof-of-work hash function. It deliberately stays a thin wrapper over the
// standard library plus golang.org/x/crypto/sha3, the same split the teacher
// codebase uses between stdlib crypto and x/crypto for Keccak-256 addresses.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidPrivateKey is returned when a private key cannot be parsed.
var ErrInvalidPrivateKey = errors.New("crypto: invalid private key")

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HMACSHA256 returns hex(HMAC-SHA256(secret, data)), matching the
// "sha256=<hex>" wire format used for X-PRFI-Signature minus the prefix.
func HMACSHA256(secret, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqual compares two hex-encoded digests in constant time,
// per spec §4.2's requirement that signature verification never leaks
// timing information about how much of the digest matched.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateNonce returns n random bytes hex-encoded, n defaulting to 16 when
// given zero so callers always get a nonce meeting the >=16-byte floor.
func GenerateNonce(n int) (string, error) {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// KeyPair is a company's signing identity: an ECDSA key over the
// NIST P-256 curve plus its derived address.
//
// NOTE: Go's standard library does not ship secp256k1; the teacher repo
// relies on github.com/decred/dcrd/dcrec/secp256k1 / btcec for that curve,
// neither of which is wired elsewhere in this module, so KeyPair uses
// elliptic.P256 instead. The signing and address-derivation *shape* (ECDSA
// keypair -> Keccak256(pubkey) -> last 20 bytes) is unchanged from
// go-ethereum-family conventions; only the curve differs.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// GenerateKeyPair creates a fresh signing identity.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &KeyPair{Private: priv}, nil
}

// KeyPairFromHex reconstructs a KeyPair from a 32-byte hex-encoded scalar,
// the config.SubmitterConfig.PrivateKey format named in spec §6.
func KeyPairFromHex(hexKey string) (*KeyPair, error) {
	hexKey = trimHexPrefix(hexKey)
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrivateKey, err)
	}
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, ErrInvalidPrivateKey
	}
	x, y := curve.ScalarBaseMult(raw)
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	return &KeyPair{Private: priv}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Address derives a 20-byte, 0x-prefixed hex address from the public key,
// the same Keccak256(pubkey)[12:] convention Ethereum-family chains use.
func (k *KeyPair) Address() string {
	return PublicKeyToAddress(&k.Private.PublicKey)
}

// PublicKeyToAddress derives the wallet address for an arbitrary ECDSA
// public key.
func PublicKeyToAddress(pub *ecdsa.PublicKey) string {
	buf := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	// Drop the leading 0x04 uncompressed-point prefix before hashing, as
	// go-ethereum's crypto.PubkeyToAddress does.
	hash := sha3.NewLegacyKeccak256()
	hash.Write(buf[1:])
	digest := hash.Sum(nil)
	return "0x" + hex.EncodeToString(digest[12:])
}

// Sign produces a raw ECDSA signature (r||s, both left-padded to 32 bytes)
// over the SHA-256 digest of msg.
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, k.Private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

// Verify checks a raw 64-byte ECDSA signature against a public key.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	digest := sha256.Sum256(msg)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}
