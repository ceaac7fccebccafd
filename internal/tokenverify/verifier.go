package tokenverify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// jwksPath is appended to the issuer to find its key set.
const jwksPath = "/.well-known/jwks.json"

// Observer receives verifier events. The metrics package implements it.
type Observer interface {
	ObserveFetch(d time.Duration, err error)
	// ObserveVerification is called once per Verify; reason is "" on success.
	ObserveVerification(reason Reason)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(time.Duration, error) {}
func (nopObserver) ObserveVerification(Reason)        {}

// Options configures a Verifier.
type Options struct {
	// Issuer is the exact "iss" value expected and the base of the JWKS URL.
	Issuer string
	// Audience, when set, must appear in "aud". Empty disables the check.
	Audience     string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	// ClockSkew is tolerated on exp and nbf.
	ClockSkew time.Duration
}

type settings struct {
	fetcher  Fetcher
	cache    *KeyCache
	observer Observer
	now      func() time.Time
}

// Option customises collaborators of a Verifier.
type Option func(*settings)

// WithFetcher replaces the HTTP key set fetcher.
func WithFetcher(f Fetcher) Option {
	return func(s *settings) { s.fetcher = f }
}

// WithKeyCache supplies a pre-built cache, for sharing or seeding.
func WithKeyCache(c *KeyCache) Option {
	return func(s *settings) { s.cache = c }
}

// WithObserver installs an event observer.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// WithClock overrides the time source for cache age and token validity.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Verifier checks bearer tokens against the issuer's published keys.
type Verifier struct {
	issuer   string
	audience string
	skew     time.Duration
	cache    *KeyCache
	observer Observer
	now      func() time.Time
}

// JWKSURL derives the key set location from an issuer base URL.
func JWKSURL(issuer string) string {
	if issuer == "" {
		return ""
	}
	return strings.TrimRight(issuer, "/") + jwksPath
}

// NewVerifier builds a Verifier. An empty issuer is accepted here and
// reported by Verify as a configuration error.
func NewVerifier(opts Options, options ...Option) *Verifier {
	s := settings{observer: nopObserver{}, now: time.Now}
	for _, o := range options {
		o(&s)
	}

	cache := s.cache
	if cache == nil {
		cache = NewKeyCache(JWKSURL(opts.Issuer), opts.CacheTTL, opts.FetchTimeout, s.fetcher)
	}
	cache.observer = s.observer
	cache.now = s.now

	return &Verifier{
		issuer:   opts.Issuer,
		audience: opts.Audience,
		skew:     opts.ClockSkew,
		cache:    cache,
		observer: s.observer,
		now:      s.now,
	}
}

// Issuer returns the configured issuer.
func (v *Verifier) Issuer() string { return v.issuer }

// Audience returns the configured audience, "" when unchecked.
func (v *Verifier) Audience() string { return v.audience }

// Configured reports whether an issuer is set.
func (v *Verifier) Configured() bool { return v.issuer != "" }

// Cache exposes the key cache for stats and warm-up.
func (v *Verifier) Cache() *KeyCache { return v.cache }

// Verify validates token and returns its claims. Every failure is an *Error.
func (v *Verifier) Verify(ctx context.Context, token string) (claims Claims, err error) {
	defer func() { v.observer.ObserveVerification(ReasonOf(err)) }()

	if v.issuer == "" {
		return nil, reject(ReasonConfiguration, "issuer is not configured", nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, reject(ReasonMissingCredential, "no bearer token", nil)
	}

	msg, headerAlg, kid, rerr := parseHeader(token)
	if rerr != nil {
		return nil, rerr
	}

	key, rerr := v.signingKey(ctx, kid)
	if rerr != nil {
		return nil, rerr
	}

	alg, aerr := keyAlgorithm(key)
	if aerr != nil {
		return nil, reject(ReasonTokenInvalid, "signing key is not usable", aerr)
	}
	// The header alg is only trusted once it agrees with the published key.
	if headerAlg != alg {
		return nil, reject(ReasonTokenInvalid, "token algorithm does not match signing key", nil)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKey(alg, key),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}
	if _, perr := jwt.ParseString(token, parseOpts...); perr != nil {
		return nil, classify(perr)
	}

	claims, derr := decodeClaims(msg.Payload())
	if derr != nil {
		return nil, reject(ReasonTokenInvalid, "payload is not a JSON object", derr)
	}
	return claims, nil
}

// parseHeader reads the protected header without verifying anything.
func parseHeader(token string) (*jws.Message, jwa.SignatureAlgorithm, string, *Error) {
	if strings.Count(token, ".") != 2 {
		return nil, "", "", reject(ReasonMalformedToken, "not a compact JWS", nil)
	}
	msg, err := jws.ParseString(token)
	if err != nil {
		return nil, "", "", reject(ReasonMalformedToken, "token header could not be parsed", err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, "", "", reject(ReasonMalformedToken, "expected exactly one signature", nil)
	}
	hdr := sigs[0].ProtectedHeaders()
	kid := hdr.KeyID()
	if kid == "" {
		return nil, "", "", reject(ReasonMalformedToken, "token header has no kid", nil)
	}
	return msg, hdr.Algorithm(), kid, nil
}

// signingKey finds kid in the cached set, forcing one refresh on a miss.
func (v *Verifier) signingKey(ctx context.Context, kid string) (jwk.Key, *Error) {
	snap, err := v.cache.get(ctx)
	if err != nil {
		return nil, reject(ReasonKeySetUnavailable, "signing keys could not be retrieved", err)
	}
	if key, ok := snap.set.LookupKeyID(kid); ok {
		return key, nil
	}

	set, err := v.cache.refreshAfter(ctx, snap.gen)
	if err != nil {
		return nil, reject(ReasonKeySetUnavailable, "signing keys could not be retrieved", err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, reject(ReasonUnknownSigningKey, "no published key matches the token kid", nil)
}

// keyAlgorithm returns the signature algorithm declared by the published key,
// RS256 when the key declares none.
func keyAlgorithm(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	if key.KeyType() == jwa.OctetSeq {
		return "", errors.New("symmetric keys are not accepted from a key set")
	}
	if use := key.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
		return "", errors.New("key is not published for signatures")
	}

	var name string
	if a := key.Algorithm(); a != nil {
		name = a.String()
	}
	if name == "" {
		return jwa.RS256, nil
	}

	var alg jwa.SignatureAlgorithm
	if err := alg.Accept(name); err != nil {
		return "", err
	}
	if alg == jwa.NoSignature {
		return "", errors.New("unsigned tokens are not accepted")
	}
	return alg, nil
}

func classify(err error) *Error {
	var detail string
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		detail = "token has expired"
	case errors.Is(err, jwt.ErrTokenNotYetValid()):
		detail = "token is not yet valid"
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		detail = "issuer mismatch"
	case errors.Is(err, jwt.ErrInvalidAudience()):
		detail = "audience mismatch"
	case jwt.IsValidationError(err):
		detail = "claim validation failed"
	default:
		detail = "signature verification failed"
	}
	return reject(ReasonTokenInvalid, detail, err)
}
