// Package oidc resolves RSA signing keys for tokens issued by an external
// OpenID Connect provider.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultKeyTTL = time.Hour

var ErrUnknownKey = errors.New("oidc: unknown signing key")

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet caches the issuer's JWKS and refreshes it when stale or when a token
// names a kid it has not seen.
type KeySet struct {
	issuer     string
	ttl        time.Duration
	httpClient *http.Client

	mu      sync.RWMutex
	cache   map[string]*rsa.PublicKey
	fetched time.Time
	now     func() time.Time
}

func NewKeySet(issuer string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{
		issuer:     strings.TrimRight(issuer, "/"),
		ttl:        defaultKeyTTL,
		httpClient: client,
		cache:      make(map[string]*rsa.PublicKey),
		now:        time.Now,
	}
}

// Issuer reports the configured issuer URL.
func (k *KeySet) Issuer() string { return k.issuer }

// Keyfunc satisfies jwt.Keyfunc for RS256 tokens.
func (k *KeySet) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	return k.Key(context.Background(), kid)
}

// Key returns the public key for kid, refreshing the set at most once.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if err := k.ensureKeys(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.keyFor(kid); ok {
		return key, nil
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.keyFor(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKey, kid)
}

func (k *KeySet) ensureKeys(ctx context.Context) error {
	k.mu.RLock()
	fresh := k.now().Sub(k.fetched) < k.ttl && len(k.cache) > 0
	k.mu.RUnlock()
	if fresh {
		return nil
	}
	return k.refresh(ctx)
}

func (k *KeySet) refresh(ctx context.Context) error {
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := k.getJSON(ctx, k.issuer+"/.well-known/openid-configuration", &discovery); err != nil {
		return fmt.Errorf("oidc: discovery: %w", err)
	}
	if discovery.JWKSURI == "" {
		return errors.New("oidc: discovery document has no jwks_uri")
	}
	var set jwks
	if err := k.getJSON(ctx, discovery.JWKSURI, &set); err != nil {
		return fmt.Errorf("oidc: jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for _, key := range set.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("oidc: no rsa keys fetched")
	}
	k.mu.Lock()
	k.cache = keys
	k.fetched = k.now()
	k.mu.Unlock()
	return nil
}

func (k *KeySet) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (k *KeySet) keyFor(kid string) (*rsa.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.cache[kid]
	return pk, ok
}

func rsaKeyFromJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
