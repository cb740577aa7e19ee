package verifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/jwks"
)

// Reason classifies a verification failure
type Reason string

const (
	ReasonMalformed     Reason = "malformed"
	ReasonMissingKeyID  Reason = "missing_key_id"
	ReasonKeyNotFound   Reason = "key_not_found"
	ReasonSignature     Reason = "signature"
	ReasonExpired       Reason = "expired"
	ReasonNotYetValid   Reason = "not_yet_valid"
	ReasonInvalidClaims Reason = "invalid_claims"
)

// Error is a token verification failure
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	switch e.Reason {
	case ReasonMissingKeyID:
		return "missing key id"
	case ReasonKeyNotFound:
		return "key not found"
	}
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", e.Reason, e.Err)
	}
	return "token " + string(e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports the key id failures as provider authentication errors
func (e *Error) Is(target error) bool {
	return target == console.ErrAuth && (e.Reason == ReasonMissingKeyID || e.Reason == ReasonKeyNotFound)
}

// Claims is the normalized claim set of a verified token
type Claims struct {
	Subject  int64
	Email    string
	Name     string
	Audience string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// KeyProvider resolves a key id to a verification key; nil means unknown
type KeyProvider interface {
	PublicKey(ctx context.Context, kid string) (*jwks.Key, error)
}

// Verifier validates tokens
type Verifier struct {
	keys     KeyProvider
	audience string
	issuer   string
	now      func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithAudience requires the aud claim to contain audience
func WithAudience(audience string) Option {
	return func(v *Verifier) { v.audience = audience }
}

// WithIssuer requires the iss claim to equal issuer
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a Verifier
func New(keys KeyProvider, opts ...Option) *Verifier {
	v := &Verifier{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	return jwt.NewParser(opts...)
}

// Verify validates signature and time claims. Verification failures are
// returned as *Error; failures to reach the key store are returned as-is.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	var infraErr error
	keyfunc := func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, &Error{Reason: ReasonMissingKeyID}
		}
		key, err := v.keys.PublicKey(ctx, kid)
		if err != nil {
			infraErr = err
			return nil, err
		}
		if key == nil {
			return nil, &Error{Reason: ReasonKeyNotFound}
		}
		return key.Public, nil
	}

	var tc tokenClaims
	_, err := v.parser().ParseWithClaims(raw, &tc, keyfunc)
	if infraErr != nil {
		return nil, fmt.Errorf("resolve signing key: %w", infraErr)
	}
	if err != nil {
		return nil, classify(err)
	}

	sub, err := strconv.ParseInt(tc.Subject, 10, 64)
	if err != nil || sub <= 0 {
		return nil, &Error{Reason: ReasonInvalidClaims, Err: errors.New("subject is not a positive integer")}
	}

	claims := &Claims{
		Subject: sub,
		Email:   tc.Email,
		Name:    tc.Name,
	}
	if len(tc.Audience) > 0 {
		claims.Audience = tc.Audience[0]
	}
	return claims, nil
}

func classify(err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &Error{Reason: ReasonMalformed, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &Error{Reason: ReasonSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &Error{Reason: ReasonExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return &Error{Reason: ReasonNotYetValid, Err: err}
	default:
		return &Error{Reason: ReasonInvalidClaims, Err: err}
	}
}

// UnverifiedClaims decodes a token's claims WITHOUT verifying its signature.
// Never use the result for authorization decisions; it is only for tokens
// that were already verified or for diagnostics.
func UnverifiedClaims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, &Error{Reason: ReasonMalformed, Err: err}
	}
	return claims, nil
}
