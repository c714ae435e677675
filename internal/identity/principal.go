package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Principal is what a bearer token proves about the caller.
type Principal struct {
	Email string
	Role  string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

var ErrInvalidToken = errors.New("invalid or expired token")

// JWTResolver validates HS256 tokens whose "sub" claim is the member email.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(strings.TrimSpace(secret))}
}

func (r *JWTResolver) Resolve(token string) (Principal, error) {
	if len(r.secret) == 0 {
		return Principal{}, fmt.Errorf("jwt secret not configured: %w", ErrInvalidToken)
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || parsed == nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	email, _ := claims["sub"].(string)
	if email == "" {
		return Principal{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	if role != RoleAdmin {
		role = RoleUser
	}
	return Principal{Email: email, Role: role}, nil
}

// Issue signs a token for p. Used by tests and local tooling.
func (r *JWTResolver) Issue(p Principal, claims jwt.MapClaims) (string, error) {
	c := jwt.MapClaims{"sub": p.Email, "role": p.Role}
	for k, v := range claims {
		c[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(r.secret)
}

type Member struct {
	ID    string
	Email string
	Role  string
}

// Members resolves identities to member records.
type Members interface {
	FindByEmail(ctx context.Context, email string) (Member, error)
	FindByID(ctx context.Context, id string) (Member, error)
}

type PGMembers struct{ DB *pgxpool.Pool }

func (m *PGMembers) FindByEmail(ctx context.Context, email string) (Member, error) {
	return m.find(ctx, `SELECT id, email, role FROM members WHERE email=$1`, email)
}

func (m *PGMembers) FindByID(ctx context.Context, id string) (Member, error) {
	return m.find(ctx, `SELECT id, email, role FROM members WHERE id=$1`, id)
}

func (m *PGMembers) find(ctx context.Context, q, arg string) (Member, error) {
	var out Member
	err := m.DB.QueryRow(ctx, q, arg).Scan(&out.ID, &out.Email, &out.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, fmt.Errorf("member %s: %w", arg, apperr.ErrNotFound)
	}
	if err != nil {
		return Member{}, fmt.Errorf("member %s: %v: %w", arg, err, apperr.ErrUnavailable)
	}
	return out, nil
}
