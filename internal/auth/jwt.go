package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// DefaultTTL matches the lifetime the login service gives its tokens.
const DefaultTTL = 30 * 24 * time.Hour

// Options controls signing and verification.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512, HS256 when empty
	TTL    time.Duration // only used by Issue
}

// DefaultOptions returns HS256 options with the default TTL.
func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: DefaultTTL}
}

// JWTVerifier checks HMAC-signed JWTs carrying id, email and name claims.
type JWTVerifier struct {
	opts   Options
	method jwtlib.SigningMethod
}

// NewJWTVerifier validates opts and returns a verifier.
func NewJWTVerifier(opts Options) (*JWTVerifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	return &JWTVerifier{opts: opts, method: method}, nil
}

// Verify parses token and returns the identity it carries. The user id is
// taken from the "id" claim, falling back to "sub".
func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, errors.Wrap(err, "verify token")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNoToken
	}

	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return Identity{}, errors.Wrap(ErrInvalidToken, "claims type mismatch")
	}

	id := claimString(claims, "id")
	if id == "" {
		id = claimString(claims, "sub")
	}
	if id == "" {
		return Identity{}, errors.Wrap(ErrInvalidToken, "token has no subject")
	}
	return Identity{
		UserID: id,
		Email:  claimString(claims, "email"),
		Name:   claimString(claims, "name"),
	}, nil
}

// Issue signs a token for ident. The relay never calls it at runtime; it
// backs the devtoken command and tests.
func Issue(opts Options, ident Identity) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"id":    ident.UserID,
		"email": ident.Email,
		"name":  ident.Name,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

func claimString(claims jwtlib.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
