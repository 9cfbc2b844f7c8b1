package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/elixir-ega/dataedge/internal/logctx"
)

// Verified assertions are cached shorter than file metadata: entitlement
// changes should propagate within the hour.
const assertionCacheSize = 4096

// Source records where an identity's dataset entitlements came from.
type Source string

const (
	// SourceGrants means the datasets were present as authorities on the
	// caller's access token.
	SourceGrants Source = "grants"
	// SourceAssertion means the datasets were taken from a verified
	// X-Permissions assertion (federated access without direct grants).
	SourceAssertion Source = "assertion"
)

// Identity is the resolved caller: who they are and which datasets they
// may access. It is immutable once resolved for a request.
type Identity struct {
	Email    string
	Datasets map[string]struct{}
	Source   Source
}

// Authorized reports whether the identity carries the given dataset.
func (id *Identity) Authorized(datasetID string) bool {
	_, ok := id.Datasets[datasetID]
	return ok
}

// Resolver turns token grants or a permissions assertion into an Identity.
// Exactly one source is consulted per request: grants win; the assertion
// is only looked at when the grant list is empty.
type Resolver struct {
	assertionSecret []byte
	verified        *expirable.LRU[string, []string]
}

// NewResolver creates a Resolver. secret verifies X-Permissions assertions;
// when empty, assertion-based access is disabled. cacheTTL bounds how long
// a verified assertion's dataset list is reused without re-verification.
func NewResolver(secret string, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		assertionSecret: []byte(secret),
		verified:        expirable.NewLRU[string, []string](assertionCacheSize, nil, cacheTTL),
	}
}

// Resolve builds the caller identity with a defined precedence. A caller
// with neither grants nor a verifiable assertion still resolves, with an
// empty dataset set; every access decision downstream then denies.
func (r *Resolver) Resolve(ctx context.Context, email string, grants []string, assertion string) *Identity {
	id := &Identity{
		Email:    email,
		Datasets: make(map[string]struct{}, len(grants)),
		Source:   SourceGrants,
	}

	if len(grants) > 0 {
		for _, g := range grants {
			if g != "" {
				id.Datasets[g] = struct{}{}
			}
		}

		return id
	}

	if assertion == "" || len(r.assertionSecret) == 0 {
		return id
	}

	datasets, ok := r.verified.Get(assertion)
	if !ok {
		var err error

		datasets, err = r.verifyAssertion(assertion)
		if err != nil {
			// An unverifiable assertion grants nothing; the request proceeds
			// and is denied at permission resolution.
			logctx.LoggerFromContext(ctx).Debug("permissions assertion rejected", "email", email, "err", err)

			return id
		}

		r.verified.Add(assertion, datasets)
	}

	id.Source = SourceAssertion
	for _, ds := range datasets {
		if ds != "" {
			id.Datasets[ds] = struct{}{}
		}
	}

	return id
}

type assertionClaims struct {
	Datasets []string `json:"datasets"`
	jwt.RegisteredClaims
}

func (r *Resolver) verifyAssertion(token string) ([]string, error) {
	var claims assertionClaims

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return r.assertionSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify permissions assertion: %w", err)
	}

	if !parsed.Valid {
		return nil, fmt.Errorf("permissions assertion is not valid")
	}

	return claims.Datasets, nil
}
