package tokenverify

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/testutil"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func newVerifier(iss *testutil.Issuer, audience string, options ...Option) *Verifier {
	return NewVerifier(Options{Issuer: iss.URL(), Audience: audience}, options...)
}

// payloadOf decodes the middle segment of a compact token.
func payloadOf(t *testing.T, token string) Claims {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var c Claims
	require.NoError(t, dec.Decode(&c))
	return c
}

func tamperSignature(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[len(sig)/2] ^= 0xFF
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func assertReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	var ve *Error
	require.True(t, errors.As(err, &ve), "expected *Error, got %T: %v", err, err)
	assert.Equal(t, want, ve.Reason, "error: %v", err)
}

// --- success path ---

func TestVerify_Success_ReturnsPayloadUnmodified(t *testing.T) {
	iss := testutil.NewIssuer(t)
	token := iss.Sign(t, iss.Claims("user_2abc"))

	claims, err := newVerifier(iss, "").Verify(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, payloadOf(t, token), claims)
	assert.Equal(t, "user_2abc", claims.Subject())
	assert.Equal(t, iss.URL(), claims.Issuer())
	assert.Equal(t, map[string]any{"plan": "pro"}, claims["metadata"])
}

func TestVerify_LargeIntegerClaimIsPreserved(t *testing.T) {
	iss := testutil.NewIssuer(t)
	claims := iss.Claims("user_big")
	claims["big"] = json.Number("9007199254740993")
	token := iss.Sign(t, claims)

	got, err := newVerifier(iss, "").Verify(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, json.Number("9007199254740993"), got["big"])
	assert.Equal(t, claims["exp"], mustInt64(t, got["exp"]))

	out, err := json.Marshal(map[string]any{"big": got["big"]})
	require.NoError(t, err)
	assert.JSONEq(t, `{"big":9007199254740993}`, string(out))
}

func mustInt64(t *testing.T, v any) int64 {
	t.Helper()
	n, ok := v.(json.Number)
	require.True(t, ok, "expected json.Number, got %T", v)
	i, err := n.Int64()
	require.NoError(t, err)
	return i
}

func TestVerify_UndecodableKeyDoesNotSpoilSet(t *testing.T) {
	iss := testutil.NewIssuer(t)

	published, err := json.Marshal(iss.PublicSet(t))
	require.NoError(t, err)
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(published, &doc))
	doc.Keys = append(doc.Keys, json.RawMessage(`{"kty":"XYZ","kid":"odd"}`))
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	fetcher := FetcherFunc(func(ctx context.Context, _ string) (jwk.Set, error) {
		return NewHTTPFetcher(time.Second).Fetch(ctx, srv.URL)
	})
	claims, err := newVerifier(iss, "", WithFetcher(fetcher)).Verify(context.Background(), iss.Sign(t, iss.Claims("user_mixed")))
	require.NoError(t, err)
	assert.Equal(t, "user_mixed", claims.Subject())
}

func TestVerify_ES256Key(t *testing.T) {
	iss := testutil.NewIssuer(t)
	iss.AddKey(t, "ec-1", jwa.ES256)
	token := iss.SignWith(t, "ec-1", iss.Claims("user_ec"))

	claims, err := newVerifier(iss, "").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_ec", claims.Subject())
}

func TestVerify_ClerkScenario_SeededCache(t *testing.T) {
	const issuer = "https://example.clerk.accounts.dev"

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "abc123"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	var calls atomic.Int64
	fetcher := FetcherFunc(func(context.Context, string) (jwk.Set, error) {
		calls.Add(1)
		return nil, errors.New("network must not be used")
	})
	v := NewVerifier(Options{Issuer: issuer}, WithFetcher(fetcher))
	assert.Equal(t, issuer+"/.well-known/jwks.json", v.Cache().URL())
	v.Cache().Seed(set, time.Now())

	token := testutil.SignToken(t, priv, jwa.RS256, "abc123", map[string]any{
		"iss": issuer,
		"sub": "user_29w83sxmDNGwOuEthce5gg56FcC",
		"aud": "something-unchecked",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_29w83sxmDNGwOuEthce5gg56FcC", claims.Subject())
	assert.Zero(t, calls.Load())
}

// --- signature and claims ---

func TestVerify_TamperedSignature(t *testing.T) {
	iss := testutil.NewIssuer(t)
	token := tamperSignature(t, iss.Sign(t, iss.Claims("user_1")))

	_, err := newVerifier(iss, "").Verify(context.Background(), token)
	assertReason(t, err, ReasonTokenInvalid)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_WrongIssuer(t *testing.T) {
	iss := testutil.NewIssuer(t)
	claims := iss.Claims("user_1")
	claims["iss"] = "https://evil.example.com"

	_, err := newVerifier(iss, "").Verify(context.Background(), iss.Sign(t, claims))
	assertReason(t, err, ReasonTokenInvalid)
}

func TestVerify_IssuerMustMatchExactly(t *testing.T) {
	iss := testutil.NewIssuer(t)
	claims := iss.Claims("user_1")
	claims["iss"] = iss.URL() + "/"

	_, err := newVerifier(iss, "").Verify(context.Background(), iss.Sign(t, claims))
	assertReason(t, err, ReasonTokenInvalid)
}

func TestVerify_Audience(t *testing.T) {
	iss := testutil.NewIssuer(t)

	withAud := func(aud any) string {
		c := iss.Claims("user_1")
		if aud != nil {
			c["aud"] = aud
		}
		return iss.Sign(t, c)
	}

	tests := []struct {
		name     string
		audience string
		token    string
		wantErr  bool
	}{
		{"configured and matching", "wheelcheck", withAud("wheelcheck"), false},
		{"configured and in array", "wheelcheck", withAud([]string{"other", "wheelcheck"}), false},
		{"configured and mismatching", "wheelcheck", withAud("other"), true},
		{"configured and absent", "wheelcheck", withAud(nil), true},
		{"unconfigured ignores aud", "", withAud("anything"), false},
		{"unconfigured without aud", "", withAud(nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newVerifier(iss, tt.audience).Verify(context.Background(), tt.token)
			if tt.wantErr {
				assertReason(t, err, ReasonTokenInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	iss := testutil.NewIssuer(t)
	claims := iss.Claims("user_1")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := newVerifier(iss, "").Verify(context.Background(), iss.Sign(t, claims))
	assertReason(t, err, ReasonTokenInvalid)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerify_NotYetValid(t *testing.T) {
	iss := testutil.NewIssuer(t)
	claims := iss.Claims("user_1")
	claims["nbf"] = time.Now().Add(time.Hour).Unix()

	_, err := newVerifier(iss, "").Verify(context.Background(), iss.Sign(t, claims))
	assertReason(t, err, ReasonTokenInvalid)
}

func TestVerify_ClockSkewTolerance(t *testing.T) {
	iss := testutil.NewIssuer(t)
	claims := iss.Claims("user_1")
	claims["exp"] = time.Now().Add(-10 * time.Second).Unix()
	token := iss.Sign(t, claims)

	v := NewVerifier(Options{Issuer: iss.URL(), ClockSkew: time.Minute})
	_, err := v.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerify_HeaderAlgorithmMustMatchKey(t *testing.T) {
	iss := testutil.NewIssuer(t)
	key := iss.Key(t, "test-key-1")
	// Same RSA key, but the header claims RS384 while the JWKS says RS256.
	token := testutil.SignToken(t, key.Private, jwa.RS384, key.KID, iss.Claims("user_1"))

	_, err := newVerifier(iss, "").Verify(context.Background(), token)
	assertReason(t, err, ReasonTokenInvalid)
	assert.Contains(t, err.Error(), "algorithm")
}

func TestVerify_KeyWithoutAlgDefaultsToRS256(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "no-alg"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	const issuer = "https://issuer.example"
	v := NewVerifier(Options{Issuer: issuer}, WithFetcher(FetcherFunc(func(context.Context, string) (jwk.Set, error) {
		return set, nil
	})))

	claims := map[string]any{"iss": issuer, "sub": "u", "exp": time.Now().Add(time.Hour).Unix()}

	_, err = v.Verify(context.Background(), testutil.SignToken(t, priv, jwa.RS256, "no-alg", claims))
	assert.NoError(t, err)

	_, err = v.Verify(context.Background(), testutil.SignToken(t, priv, jwa.PS256, "no-alg", claims))
	assertReason(t, err, ReasonTokenInvalid)
}

// --- input errors ---

func TestVerify_ConfigurationError(t *testing.T) {
	v := NewVerifier(Options{})
	_, err := v.Verify(context.Background(), "a.b.c")
	assertReason(t, err, ReasonConfiguration)
	assert.False(t, IsClientError(err))
	assert.False(t, v.Configured())
}

func TestVerify_MissingCredential(t *testing.T) {
	iss := testutil.NewIssuer(t)
	v := newVerifier(iss, "")

	for _, tok := range []string{"", "   "} {
		_, err := v.Verify(context.Background(), tok)
		assertReason(t, err, ReasonMissingCredential)
		assert.True(t, IsClientError(err))
	}
	assert.Zero(t, iss.Fetches())
}

func TestVerify_MalformedToken(t *testing.T) {
	iss := testutil.NewIssuer(t)
	v := newVerifier(iss, "")

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	noKid := testutil.SignToken(t, priv, jwa.ES256, "", iss.Claims("user_1"))

	cases := map[string]string{
		"garbage":       "not-a-token",
		"two segments":  "abc.def",
		"bad header":    "!!!.e30.sig",
		"missing kid":   noKid,
		"five segments": "a.b.c.d.e",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tok)
			assertReason(t, err, ReasonMalformedToken)
		})
	}
	assert.Zero(t, iss.Fetches(), "malformed tokens must not trigger a fetch")
}

// --- key set retrieval ---

func TestVerify_FetchesOnceWithinTTL(t *testing.T) {
	iss := testutil.NewIssuer(t)
	v := newVerifier(iss, "")
	token := iss.Sign(t, iss.Claims("user_1"))

	for i := 0; i < 5; i++ {
		_, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), iss.Fetches())
	assert.Equal(t, int64(1), v.Cache().Stats().Fetches)
}

func TestVerify_RefetchesAfterTTL(t *testing.T) {
	iss := testutil.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newVerifier(iss, "", WithClock(clock.Now))

	claims := iss.Claims("user_1")
	claims["iat"] = time.Now().Add(-time.Minute).Unix()
	claims["exp"] = time.Now().Add(48 * time.Hour).Unix()
	token := iss.Sign(t, claims)

	_, err := v.Verify(context.Background(), token)
	require.NoError(t, err)

	clock.Advance(11 * time.Hour)
	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), iss.Fetches())

	clock.Advance(2 * time.Hour)
	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), iss.Fetches())
}

func TestVerify_UnknownKidForcesExactlyOneRefresh(t *testing.T) {
	iss := testutil.NewIssuer(t)
	v := newVerifier(iss, "")
	// A fresh cache that predates the key rotation.
	v.Cache().Seed(jwk.NewSet(), time.Now())

	claims, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("user_rotated")))
	require.NoError(t, err)
	assert.Equal(t, "user_rotated", claims.Subject())
	assert.Equal(t, int64(1), iss.Fetches())

	_, err = v.Verify(context.Background(), iss.Sign(t, iss.Claims("user_rotated")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), iss.Fetches())
}

func TestVerify_UnknownKidAfterRefresh(t *testing.T) {
	iss := testutil.NewIssuer(t)
	iss.AddKey(t, "never-published", jwa.RS256)
	iss.Unpublish("never-published")

	v := newVerifier(iss, "")
	token := iss.SignWith(t, "never-published", iss.Claims("user_1"))

	_, err := v.Verify(context.Background(), token)
	assertReason(t, err, ReasonUnknownSigningKey)
	// one regular fetch (empty cache) plus one forced refresh
	assert.Equal(t, int64(2), iss.Fetches())

	_, err = v.Verify(context.Background(), token)
	assertReason(t, err, ReasonUnknownSigningKey)
	// cached set is fresh, so only the forced refresh happens
	assert.Equal(t, int64(3), iss.Fetches())
}

func TestVerify_KeySetNon2xx(t *testing.T) {
	iss := testutil.NewIssuer(t)
	iss.SetStatus(http.StatusServiceUnavailable)

	_, err := newVerifier(iss, "").Verify(context.Background(), iss.Sign(t, iss.Claims("user_1")))
	assertReason(t, err, ReasonKeySetUnavailable)
	assert.NotContains(t, err.Error(), "503", "cause must not leak into the message")
	assert.Error(t, errors.Unwrap(err))
}

func TestVerify_KeySetTimeout(t *testing.T) {
	iss := testutil.NewIssuer(t)
	iss.Hang(true)

	v := NewVerifier(Options{Issuer: iss.URL(), FetchTimeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("user_1")))
	elapsed := time.Since(start)

	assertReason(t, err, ReasonKeySetUnavailable)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestVerify_StaleSetNotServedWhenRefreshFails(t *testing.T) {
	iss := testutil.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newVerifier(iss, "", WithClock(clock.Now))
	v.Cache().Seed(iss.PublicSet(t), clock.Now().Add(-13*time.Hour))
	iss.SetStatus(http.StatusInternalServerError)

	_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("user_1")))
	assertReason(t, err, ReasonKeySetUnavailable)
}

func TestVerify_ObserverSeesOutcomes(t *testing.T) {
	iss := testutil.NewIssuer(t)
	obs := &recordingObserver{}
	v := newVerifier(iss, "", WithObserver(obs))

	_, _ = v.Verify(context.Background(), iss.Sign(t, iss.Claims("user_1")))
	_, _ = v.Verify(context.Background(), "")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []Reason{"", ReasonMissingCredential}, obs.reasons)
	assert.Equal(t, 1, obs.fetches)
}

type recordingObserver struct {
	mu      sync.Mutex
	reasons []Reason
	fetches int
}

func (o *recordingObserver) ObserveFetch(time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
}

func (o *recordingObserver) ObserveVerification(r Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, r)
}
