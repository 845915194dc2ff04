package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const tokenAlgorithm = jwa.HS256

var errTokenSubject = errors.New("auth: token subject is not a user id")

// accessTokens signs and verifies the bearer tokens handed to the mobile app.
// The subject is the decimal user id.
type accessTokens struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	skew     time.Duration
}

func (t accessTokens) sign(userID int64, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(t.ttl)
	tok, err := jwt.NewBuilder().
		Subject(strconv.FormatInt(userID, 10)).
		Issuer(t.issuer).
		Audience([]string{t.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-t.skew)).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(tokenAlgorithm, t.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// verify returns the user id carried by raw. The header algorithm is checked
// before the signature so a token cannot pick its own verification method.
func (t accessTokens) verify(raw string, now time.Time) (int64, error) {
	raw = strings.TrimSpace(raw)
	alg, err := headerAlgorithm(raw)
	if err != nil {
		return 0, err
	}
	if alg != tokenAlgorithm {
		return 0, fmt.Errorf("auth: unexpected token algorithm %s", alg)
	}
	tok, err := jwt.ParseString(raw, jwt.WithKey(tokenAlgorithm, t.secret), jwt.WithValidate(false))
	if err != nil {
		return 0, err
	}
	if tok.Expiration().IsZero() {
		return 0, errors.New("auth: token has no expiry")
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
	}
	if t.skew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(t.skew))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(tok.Subject(), 10, 64)
	if err != nil || id <= 0 {
		return 0, errTokenSubject
	}
	return id, nil
}

func headerAlgorithm(raw string) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(raw)
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return "", fmt.Errorf("auth: token carries %d signatures", len(sigs))
	}
	headers := sigs[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	switch alg := headers.Algorithm(); alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	default:
		return alg, nil
	}
}

// hashRefreshToken is the form refresh tokens are stored and looked up in.
func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
