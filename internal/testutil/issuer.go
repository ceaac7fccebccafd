package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/require"
)

// SigningKey is a private key plus the metadata published for it.
type SigningKey struct {
	KID     string
	Alg     jwa.SignatureAlgorithm
	Private crypto.Signer
}

// Issuer is an in-process identity provider. It publishes a JWKS at
// /.well-known/jwks.json on an httptest server and signs tokens with any of
// its keys.
type Issuer struct {
	Server *httptest.Server

	mu        sync.Mutex
	keys      []*SigningKey
	published map[string]bool
	status    int
	hang      bool

	fetches atomic.Int64
	release chan struct{}
}

// NewIssuer starts an issuer with a single RS256 key "test-key-1".
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()

	iss := &Issuer{
		published: map[string]bool{},
		release:   make(chan struct{}),
	}
	iss.Server = httptest.NewServer(http.HandlerFunc(iss.serveJWKS))
	t.Cleanup(func() {
		close(iss.release)
		iss.Server.Close()
	})

	iss.AddKey(t, "test-key-1", jwa.RS256)
	return iss
}

// URL is the issuer identifier (the server base URL).
func (i *Issuer) URL() string {
	return i.Server.URL
}

// Fetches counts JWKS requests served, including failed ones.
func (i *Issuer) Fetches() int64 {
	return i.fetches.Load()
}

// AddKey generates and publishes a key. RS* and PS* get RSA keys, ES256 a
// P-256 key.
func (i *Issuer) AddKey(t *testing.T, kid string, alg jwa.SignatureAlgorithm) *SigningKey {
	t.Helper()

	var priv crypto.Signer
	var err error
	switch alg {
	case jwa.ES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	require.NoError(t, err)

	key := &SigningKey{KID: kid, Alg: alg, Private: priv}
	i.mu.Lock()
	i.keys = append(i.keys, key)
	i.published[kid] = true
	i.mu.Unlock()
	return key
}

// Key returns the key with kid, failing the test if absent.
func (i *Issuer) Key(t *testing.T, kid string) *SigningKey {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, k := range i.keys {
		if k.KID == kid {
			return k
		}
	}
	t.Fatalf("issuer has no key %q", kid)
	return nil
}

// Unpublish keeps the key for signing but drops it from the JWKS.
func (i *Issuer) Unpublish(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.published[kid] = false
}

// SetStatus makes the JWKS endpoint answer with code and no body. Zero
// restores normal behaviour.
func (i *Issuer) SetStatus(code int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = code
}

// Hang makes the JWKS endpoint stop responding until the client gives up.
func (i *Issuer) Hang(on bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hang = on
}

// PublicSet builds the JWKS document currently served.
func (i *Issuer) PublicSet(t *testing.T) jwk.Set {
	t.Helper()
	set, err := i.publicSet()
	require.NoError(t, err)
	return set
}

func (i *Issuer) publicSet() (jwk.Set, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	set := jwk.NewSet()
	for _, k := range i.keys {
		if !i.published[k.KID] {
			continue
		}
		pub, err := jwk.FromRaw(k.Private.Public())
		if err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.KeyIDKey, k.KID); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.AlgorithmKey, k.Alg); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(pub); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/.well-known/jwks.json" {
		http.NotFound(w, r)
		return
	}
	i.fetches.Add(1)

	i.mu.Lock()
	status, hang := i.status, i.hang
	i.mu.Unlock()

	if hang {
		select {
		case <-r.Context().Done():
		case <-i.release:
		}
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	set, err := i.publicSet()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

// Claims returns a valid claim set for sub issued by this issuer.
func (i *Issuer) Claims(sub string) map[string]any {
	now := time.Now()
	return map[string]any{
		"iss":   i.URL(),
		"sub":   sub,
		"iat":   now.Unix(),
		"nbf":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(15 * time.Minute).Unix(),
		"email": sub + "@example.com",
		"metadata": map[string]any{
			"plan": "pro",
		},
	}
}

// Sign signs claims with the issuer's first key.
func (i *Issuer) Sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	i.mu.Lock()
	key := i.keys[0]
	i.mu.Unlock()
	return SignToken(t, key.Private, key.Alg, key.KID, claims)
}

// SignWith signs claims with the named key.
func (i *Issuer) SignWith(t *testing.T, kid string, claims map[string]any) string {
	t.Helper()
	key := i.Key(t, kid)
	return SignToken(t, key.Private, key.Alg, key.KID, claims)
}

// SignToken produces a compact JWS over the JSON encoding of claims. kid is
// omitted from the header when empty.
func SignToken(t *testing.T, priv crypto.Signer, alg jwa.SignatureAlgorithm, kid string, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.TypeKey, "JWT"))
	if kid != "" {
		require.NoError(t, hdrs.Set(jws.KeyIDKey, kid))
	}

	signed, err := jws.Sign(payload, jws.WithKey(alg, priv, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}
