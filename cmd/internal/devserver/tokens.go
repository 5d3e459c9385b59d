package devserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// accessClaims is the identity carried by an access token.
type accessClaims struct {
	UserID    string
	ExpiresAt time.Time
}

// accessTokens issues and verifies PASETO v4.public access tokens.
type accessTokens struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func newAccessTokens(cfg Config) (*accessTokens, error) {
	var secret paseto.V4AsymmetricSecretKey
	if cfg.PasetoSecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		s, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoSecretKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: paseto secret key: %v", ErrConfig, err)
		}
		secret = s
	}
	return &accessTokens{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *accessTokens) Issue(userID string, now time.Time) (string, time.Time) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	// A per-token id keeps two tokens issued in the same second distinct.
	tok.SetJti(newMessageID(now))
	_ = tok.Set("uid", userID)

	return tok.V4Sign(m.secret, nil), exp
}

func (m *accessTokens) Verify(token string, now time.Time) (accessClaims, error) {
	// Expiry is judged against the injected clock, not the wall clock.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return accessClaims{}, ErrInvalidToken
	}
	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return accessClaims{}, ErrInvalidToken
	}
	exp, _ := parsed.GetExpiration()
	return accessClaims{UserID: uid, ExpiresAt: exp}, nil
}

// refreshTokens stores opaque refresh tokens by keyed hash. A token is
// single-use: Rotate consumes it and issues a successor.
type refreshTokens struct {
	key []byte
	ttl time.Duration

	mu     sync.Mutex
	byHash map[string]refreshEntry
}

type refreshEntry struct {
	userID  string
	expires time.Time
}

func newRefreshTokens(cfg Config) (*refreshTokens, error) {
	key := []byte(cfg.RefreshHMACKey)
	if len(key) == 0 {
		raw, err := newOpaqueToken(32)
		if err != nil {
			return nil, err
		}
		key = []byte(raw)
	}
	return &refreshTokens{key: key, ttl: cfg.RefreshTTL, byHash: map[string]refreshEntry{}}, nil
}

func (s *refreshTokens) hash(raw string) string {
	m := hmac.New(sha256.New, s.key)
	_, _ = m.Write([]byte(raw))
	return hex.EncodeToString(m.Sum(nil))
}

// Issue creates a refresh token for userID.
func (s *refreshTokens) Issue(userID string, now time.Time) (string, time.Time, error) {
	raw, err := newOpaqueToken(32)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.ttl)

	s.mu.Lock()
	s.byHash[s.hash(raw)] = refreshEntry{userID: userID, expires: exp}
	s.mu.Unlock()
	return raw, exp, nil
}

// Rotate consumes raw and issues its successor for the same user.
func (s *refreshTokens) Rotate(raw string, now time.Time) (userID, next string, exp time.Time, err error) {
	h := s.hash(raw)

	s.mu.Lock()
	e, ok := s.byHash[h]
	delete(s.byHash, h)
	s.mu.Unlock()

	if !ok || !now.Before(e.expires) {
		return "", "", time.Time{}, ErrInvalidToken
	}
	next, exp, err = s.Issue(e.userID, now)
	return e.userID, next, exp, err
}

// Revoke deletes raw if present.
func (s *refreshTokens) Revoke(raw string) {
	s.mu.Lock()
	delete(s.byHash, s.hash(raw))
	s.mu.Unlock()
}

// RevokeUser deletes every refresh token of userID.
func (s *refreshTokens) RevokeUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, e := range s.byHash {
		if e.userID == userID {
			delete(s.byHash, h)
		}
	}
}
