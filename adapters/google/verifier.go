// Package google verifies Google ID tokens for federated sign-in.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lborres/kasal/core"
	"google.golang.org/api/idtoken"
)

var (
	ErrWrongIssuer    = errors.New("token not issued by google")
	ErrMissingSubject = errors.New("token has no subject")
)

var issuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

type validateFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Verifier checks the signature, audience and expiry of Google ID tokens
// issued to one OAuth client.
type Verifier struct {
	clientID string
	validate validateFunc
}

var _ core.TokenVerifier = (*Verifier)(nil)

func NewVerifier(clientID string) *Verifier {
	return &Verifier{clientID: clientID, validate: idtoken.Validate}
}

func (v *Verifier) Verify(ctx context.Context, idToken string) (*core.FederatedClaims, error) {
	payload, err := v.validate(ctx, idToken, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to validate google id token: %w", err)
	}
	return claimsFromPayload(payload)
}

func claimsFromPayload(p *idtoken.Payload) (*core.FederatedClaims, error) {
	if !issuers[p.Issuer] {
		return nil, fmt.Errorf("%w: %q", ErrWrongIssuer, p.Issuer)
	}
	if p.Subject == "" {
		return nil, ErrMissingSubject
	}

	claims := &core.FederatedClaims{
		Provider:      core.ProviderGoogle,
		Subject:       p.Subject,
		Email:         strings.ToLower(stringClaim(p.Claims, "email")),
		EmailVerified: boolClaim(p.Claims, "email_verified"),
		Name:          stringClaim(p.Claims, "name"),
	}
	if picture := stringClaim(p.Claims, "picture"); picture != "" {
		claims.Picture = &picture
	}
	return claims, nil
}

func stringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// boolClaim accepts both JSON booleans and the "true" strings some tokens carry.
func boolClaim(claims map[string]any, name string) bool {
	switch v := claims[name].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
