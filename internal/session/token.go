package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidToken is returned for malformed, tampered or expired browser tokens
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the payload of the browser token. BackendToken lets a session be
// rebuilt from the backend profile after the cache entry has gone; it only
// travels sealed, in the "bt" claim.
type Claims struct {
	SessionID    string `json:"sid"`
	SealedToken  string `json:"bt,omitempty"`
	BackendToken string `json:"-"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 browser tokens
type Tokens struct {
	secret []byte
	aead   aeadCipher
	ttl    time.Duration
	now    func() time.Time
}

type aeadCipher interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewTokens creates a token issuer signing with secret. The key sealing the
// backend token is derived from the same secret.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("triage-console backend token"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		panic(fmt.Sprintf("derive token key: %v", err))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		panic(fmt.Sprintf("token cipher: %v", err))
	}
	return &Tokens{secret: []byte(secret), aead: aead, ttl: ttl, now: time.Now}
}

// Issue signs a token for s
func (t *Tokens) Issue(s *Session) (string, error) {
	sealed, err := t.seal(s.BackendToken, s.ID)
	if err != nil {
		return "", err
	}

	now := t.now()
	claims := Claims{
		SessionID:   s.ID,
		SealedToken: sealed,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims with the backend token
// unsealed
func (t *Tokens) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" {
		return nil, ErrInvalidToken
	}

	claims.BackendToken, err = t.open(claims.SealedToken, claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// seal encrypts the backend token, bound to the session id
func (t *Tokens) seal(plain, sessionID string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, t.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal backend token: %w", err)
	}
	out := t.aead.Seal(nonce, nonce, []byte(plain), []byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (t *Tokens) open(sealed, sessionID string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	n := t.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("sealed token too short")
	}
	plain, err := t.aead.Open(nil, raw[:n], raw[n:], []byte(sessionID))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
