package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Identity headers as injected by the gateway in front of this service.
const (
	HeaderUserID    = "X-Auth-User-Id"
	HeaderUserRole  = "X-Auth-User-Role"
	HeaderCompanyID = "X-Auth-Company-Id"
)

// Resolver turns an inbound request into a verified Identity.
// (nil, nil) means the request carries no credentials at all: the caller
// proceeds on the unauthenticated path only.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// HeaderResolver trusts the identity headers as-is. Meant for local runs and
// for deployments where a gateway has already verified the credential and
// forwards the result.
type HeaderResolver struct{}

func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{}
}

func (hr *HeaderResolver) Resolve(r *http.Request) (*Identity, error) {
	uid := r.Header.Get(HeaderUserID)
	rawRole := r.Header.Get(HeaderUserRole)
	if uid == "" && rawRole == "" {
		return nil, nil
	}
	if uid == "" {
		return nil, errors.New("identity role header without user id")
	}

	role := ParseRole(rawRole)
	if role == RoleUnknown {
		slog.Warn("unknown role header", "user_id", uid, "role", rawRole)
	}

	return &Identity{
		SubjectID: uid,
		CompanyID: r.Header.Get(HeaderCompanyID),
		Role:      role,
	}, nil
}

// JWTResolver verifies an HMAC-signed bearer token. Claims: sub (subject id),
// role, company_id.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

type identityClaims struct {
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

func (jr *JWTResolver) Resolve(r *http.Request) (*Identity, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return nil, nil
	}
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return nil, errors.New("authorization header is not a bearer token")
	}

	var claims identityClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return jr.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "verify token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	role := ParseRole(claims.Role)
	if role == RoleUnknown {
		slog.Warn("unknown role claim", "user_id", claims.Subject, "role", claims.Role)
	}

	return &Identity{
		SubjectID: claims.Subject,
		CompanyID: claims.CompanyID,
		Role:      role,
	}, nil
}
