// Package auth verifies bearer tokens on the commanding endpoint.
//
// Tokens carry a subject, roles ("observer", "operator") and scopes
// ("read", "control", "telemetry"). Read-only commands need the read scope,
// every other command needs control.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Roles.
const (
	RoleObserver = "observer"
	RoleOperator = "operator"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// Claims are the verified token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// VerifierConfig selects HS256 (Secret) or RS256 (PublicKeyPEM).
type VerifierConfig struct {
	Secret       string
	PublicKeyPEM string
}

// Verifier checks token signatures and claims.
type Verifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier. Exactly one of Secret or PublicKeyPEM must be set.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	switch {
	case cfg.Secret != "" && cfg.PublicKeyPEM != "":
		return nil, fmt.Errorf("configure either a secret or a public key, not both")
	case cfg.Secret != "":
		return &Verifier{secret: []byte(cfg.Secret)}, nil
	case cfg.PublicKeyPEM != "":
		key, err := parsePublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		return &Verifier{publicKey: key}, nil
	default:
		return nil, fmt.Errorf("no token key configured")
	}
}

// NewVerifierFromFiles builds a verifier from a secret or a PEM file path.
func NewVerifierFromFiles(secret, publicKeyFile string) (*Verifier, error) {
	cfg := VerifierConfig{Secret: secret}
	if publicKeyFile != "" {
		data, err := os.ReadFile(publicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		cfg.PublicKeyPEM = string(data)
	}
	return NewVerifier(cfg)
}

// VerifyToken verifies tokenString and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	method := "HS256"
	if v.publicKey != nil {
		method = "RS256"
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{method}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return extractClaims(claims)
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}
	roles, err := stringSlice(claims, "roles")
	if err != nil {
		return nil, err
	}
	scopes, err := stringSlice(claims, "scopes")
	if err != nil {
		return nil, err
	}
	if !allValid(roles, RoleObserver, RoleOperator) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !allValid(scopes, ScopeRead, ScopeControl, ScopeTelemetry) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}
	return &Claims{Subject: sub, Roles: roles, Scopes: scopes}, nil
}

func stringSlice(claims jwt.MapClaims, key string) ([]string, error) {
	value, ok := claims[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("invalid %s claim: not a string", key)
		}
		out[i] = s
	}
	return out, nil
}

func allValid(values []string, allowed ...string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		found := false
		for _, a := range allowed {
			if v == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return key, nil
}
