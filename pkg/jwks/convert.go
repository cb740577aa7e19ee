package jwks

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/platinummonkey/consolesso/pkg/console"
)

// ErrUnsupportedKeyType is returned for any kty other than RSA
var ErrUnsupportedKeyType = errors.New("unsupported JWK key type")

// ToPublicKey converts an RSA JWK into an rsa.PublicKey
func ToPublicKey(jwk *console.JWK) (*rsa.PublicKey, error) {
	if jwk == nil {
		return nil, errors.New("nil JWK")
	}
	if jwk.Kty != "RSA" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, jwk.Kty)
	}

	nBytes, err := decodeSegment(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWK 'n' parameter: %w", err)
	}
	eBytes, err := decodeSegment(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWK 'e' parameter: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("JWK modulus and exponent are required")
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, errors.New("JWK exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// ToPEM converts an RSA JWK into a PEM encoded SubjectPublicKeyInfo
func ToPEM(jwk *console.JWK) ([]byte, error) {
	pub, err := ToPublicKey(jwk)
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RSA public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}), nil
}

// decodeSegment accepts base64url with or without padding
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// FromPublicKey encodes an RSA public key as a JWK with the given key id
func FromPublicKey(kid string, pub *rsa.PublicKey) console.JWK {
	return console.JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
