package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"confio/config"
)

func newTestAccess(t *testing.T) *Access {
	t.Helper()
	policy := config.DefaultAccess()
	policy.Operators = map[string][]string{"local": {config.RolePresale}}
	a := NewAccess(policy, config.Operator{JWTSecret: "s3cret", JWTIssuer: "confio-ops", DevName: "local"})
	a.SetNowFunc(func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) })
	return a
}

func TestTokenIdentity(t *testing.T) {
	a := newTestAccess(t)
	token, err := a.IssueToken(Operator{Name: "maria", Roles: []string{config.RoleTreasury}}, time.Hour)
	require.NoError(t, err)

	op, err := a.Identify(token)
	require.NoError(t, err)
	require.Equal(t, "maria", op.Name)
	require.Equal(t, []string{config.RoleTreasury}, op.Roles)

	require.NoError(t, a.Authorize(op, "presale.withdraw-unsold"))
	var denied *AccessError
	require.ErrorAs(t, a.Authorize(op, "stablecoin.freeze"), &denied)

	a.SetNowFunc(func() time.Time { return time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC) })
	_, err = a.Identify(token)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestTokenRejections(t *testing.T) {
	a := newTestAccess(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sign := func(claims OperatorClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "maria",
		Issuer:    "confio-ops",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	cases := map[string]string{
		"wrong secret": sign(OperatorClaims{RegisteredClaims: valid}, "other"),
		"wrong issuer": sign(OperatorClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "maria", Issuer: "elsewhere", ExpiresAt: valid.ExpiresAt,
		}}, "s3cret"),
		"no expiry":  sign(OperatorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "maria", Issuer: "confio-ops"}}, "s3cret"),
		"no subject": sign(OperatorClaims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "confio-ops", ExpiresAt: valid.ExpiresAt}}, "s3cret"),
		"garbage":    "not.a.token",
	}
	for name, token := range cases {
		if _, err := a.Identify(token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestDevOperator(t *testing.T) {
	a := newTestAccess(t)
	op, err := a.Identify("")
	require.NoError(t, err)
	require.Equal(t, Operator{Name: "local", Roles: []string{config.RolePresale}}, op)
	require.NoError(t, a.Authorize(op, "presale.start-round"))
	require.Error(t, a.Authorize(op, "presale.withdraw-unsold"))

	none := NewAccess(config.DefaultAccess(), config.Operator{})
	if _, err := none.Identify(""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := none.IssueToken(op, time.Minute); err == nil {
		t.Fatalf("expected error without a secret")
	}
}
