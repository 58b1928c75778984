// Package jwtauth implements stateless HTTP authentication with signed
// HS256 tokens.
//
// Use it when a service issues its own credentials: the issuer signs a
// short-lived token naming a subject and its roles, handlers verify the
// signature and expiry on every request, and no session store is needed.
// The verified identity travels as a Principal in the request context, so
// handlers never touch the token again.
//
// The shape to copy is the split between Verify and the middleware.
// Verify is pure token-in, principal-out and owns every security decision:
// the allowed algorithm is pinned so an attacker cannot downgrade to
// "none", the issuer is matched, and expiry uses the configured clock.
// The middleware only moves bytes between HTTP and Verify, which keeps it
// trivial to test and reuse. RequireRole runs after it as a second
// gorilla/mux middleware reading the Principal, the same layering any
// route-level authorization check should follow.
//
// Skill metadata:
//
//	name: jwt-auth
//	category: auth
//	tags: jwt, authentication, middleware, http, roles
//	level: intermediate
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// MinSecretLen is the shortest accepted signing secret. HS256 secrets
// below the hash width make brute force cheaper than the hash itself.
const MinSecretLen = 32

var (
	// ErrInvalidToken reports a token that failed verification for any
	// reason other than expiry.
	ErrInvalidToken = errors.New("jwtauth: invalid token")

	// ErrExpired reports a token past its expiry.
	ErrExpired = errors.New("jwtauth: token expired")
)

// Principal is the verified identity of a request.
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Claims is the token payload: registered claims plus roles.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens for one issuer name and secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration

	now func() time.Time
}

// NewIssuer builds an Issuer. The secret must be at least MinSecretLen
// bytes and the TTL positive.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("jwtauth: secret shorter than %d bytes", MinSecretLen)
	}
	if issuer == "" {
		return nil, errors.New("jwtauth: empty issuer name")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("jwtauth: non-positive ttl %v", ttl)
	}
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for subject carrying roles, valid for the
// configured TTL.
func (i *Issuer) Issue(subject string, roles ...string) (string, error) {
	if subject == "" {
		return "", errors.New("jwtauth: empty subject")
	}
	now := i.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature, algorithm, issuer and expiry, and returns the
// token's principal. Expired tokens report ErrExpired, everything else
// ErrInvalidToken.
func (i *Issuer) Verify(token string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return Principal{Subject: claims.Subject, Roles: claims.Roles}, nil
}

type ctxKey struct{}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Middleware verifies the bearer token and stores the principal in the
// request context. It satisfies mux.MiddlewareFunc:
//
//	r := mux.NewRouter()
//	r.Use(issuer.Middleware)
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "Bearer")
			return
		}
		p, err := i.Verify(token)
		if err != nil {
			unauthorized(w, `Bearer error="invalid_token"`)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), p)))
	})
}

// RequireRole gates a route subtree on a role. It must run after the
// Issuer middleware; a request with no principal is rejected outright.
func RequireRole(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				unauthorized(w, "Bearer")
				return
			}
			if !p.HasRole(role) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
