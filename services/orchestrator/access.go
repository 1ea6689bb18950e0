package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"confio/config"
)

// Operator is the human (or automation) running an action. Operator
// authority is separate from signer custody: holding the KMS permission does
// not grant any action.
type Operator struct {
	Name  string
	Roles []string
}

// OperatorClaims is the JWT payload accepted by the access layer.
type OperatorClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Access identifies operators and authorizes actions against the role
// policy.
type Access struct {
	policy  config.AccessPolicy
	secret  []byte
	issuer  string
	devName string
	now     func() time.Time
}

// NewAccess builds the access layer. A JWT secret enables token identities;
// a dev name enables the local operator listed in the policy.
func NewAccess(policy config.AccessPolicy, op config.Operator) *Access {
	return &Access{
		policy:  policy,
		secret:  []byte(op.JWTSecret),
		issuer:  strings.TrimSpace(op.JWTIssuer),
		devName: strings.TrimSpace(op.DevName),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock used to validate token expiry.
func (a *Access) SetNowFunc(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Identify resolves the operator behind token. With no token the local dev
// operator is used when configured.
func (a *Access) Identify(token string) (Operator, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		if a.devName == "" {
			return Operator{}, ErrUnauthenticated
		}
		roles, ok := a.policy.Operators[a.devName]
		if !ok {
			return Operator{}, fmt.Errorf("%w: dev operator %q not in policy", ErrUnauthenticated, a.devName)
		}
		return Operator{Name: a.devName, Roles: roles}, nil
	}
	if len(a.secret) == 0 {
		return Operator{}, fmt.Errorf("%w: operator tokens are not enabled", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Operator{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Operator{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Operator{Name: claims.Subject, Roles: claims.Roles}, nil
}

// Authorize checks that op may run action.
func (a *Access) Authorize(op Operator, action string) error {
	if op.Name == "" {
		return ErrUnauthenticated
	}
	if !a.policy.Allowed(action, op.Roles) {
		return &AccessError{Operator: op.Name, Action: action, Roles: op.Roles}
	}
	return nil
}

// IssueToken signs an operator token valid for ttl.
func (a *Access) IssueToken(op Operator, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("orchestrator: jwt secret not configured")
	}
	now := a.now()
	claims := OperatorClaims{
		Roles: op.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.Name,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
