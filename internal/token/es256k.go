package token

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secp256k1ecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethodES256K implements the ES256K JOSE algorithm (RFC 8812):
// deterministic ECDSA over secp256k1 with SHA-256 and the raw 64-byte
// R||S signature encoding. golang-jwt ships no secp256k1 method, so the
// bridge registers its own.
var SigningMethodES256K *signingMethodES256K

var errES256KKeyType = errors.New("es256k: key must be a *secp256k1.PrivateKey or *secp256k1.PublicKey")

type signingMethodES256K struct{}

func init() {
	SigningMethodES256K = &signingMethodES256K{}
	jwt.RegisterSigningMethod(SigningMethodES256K.Alg(), func() jwt.SigningMethod {
		return SigningMethodES256K
	})
}

func (m *signingMethodES256K) Alg() string { return "ES256K" }

// Sign produces the 64-byte R||S signature over SHA-256(signingString).
// The key must be a *secp256k1.PrivateKey.
func (m *signingMethodES256K) Sign(signingString string, key interface{}) ([]byte, error) {
	priv, ok := key.(*secp256k1.PrivateKey)
	if !ok {
		return nil, errES256KKeyType
	}

	digest := sha256.Sum256([]byte(signingString))
	sig := secp256k1ecdsa.Sign(priv, digest[:])

	r := sig.R()
	s := sig.S()
	rBytes := r.Bytes()
	sBytes := s.Bytes()

	out := make([]byte, 64)
	copy(out[:32], rBytes[:])
	copy(out[32:], sBytes[:])
	return out, nil
}

// Verify checks a raw R||S signature against SHA-256(signingString).
// The key may be a *secp256k1.PublicKey or a *secp256k1.PrivateKey
// (convenient in tests).
func (m *signingMethodES256K) Verify(signingString string, sig []byte, key interface{}) error {
	var pub *secp256k1.PublicKey
	switch k := key.(type) {
	case *secp256k1.PublicKey:
		pub = k
	case *secp256k1.PrivateKey:
		pub = k.PubKey()
	default:
		return errES256KKeyType
	}

	if len(sig) != 64 {
		return jwt.ErrSignatureInvalid
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return jwt.ErrSignatureInvalid
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return jwt.ErrSignatureInvalid
	}

	digest := sha256.Sum256([]byte(signingString))
	if !secp256k1ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}
