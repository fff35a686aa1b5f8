package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marmos91/dittodrive/pkg/fileerr"
)

// MemberHeader carries the member id when no JWT secret is configured,
// typically set by an authenticating proxy in front of the server.
const MemberHeader = "X-Member-Id"

// Claims is the bearer token payload.
type Claims struct {
	jwt.RegisteredClaims
	MemberID int64 `json:"member_id"`
}

// GenerateToken signs an HS256 token for memberID valid for ttl.
func GenerateToken(memberID int64, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(memberID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		MemberID: memberID,
	})
	return token.SignedString(secret)
}

// memberFromToken validates an HS256 token and returns its member id.
func memberFromToken(tokenString string, secret []byte) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}
	if !token.Valid || claims.MemberID <= 0 {
		return 0, errors.New("token carries no member")
	}
	return claims.MemberID, nil
}

// identify resolves the calling member.
//
// With a JWT secret only a valid bearer token is accepted. Without one the
// id comes from MemberHeader, then the userId or memberId query parameter.
func (a *RESTAdapter) identify(r *http.Request) (int64, error) {
	const op = "identify"

	if a.config.JWTSecret != "" {
		auth := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || tokenString == "" {
			return 0, fileerr.New(fileerr.Unauthenticated, op, "bearer token required")
		}
		id, err := memberFromToken(tokenString, []byte(a.config.JWTSecret))
		if err != nil {
			return 0, &fileerr.Error{Kind: fileerr.Unauthenticated, Op: op, Message: "invalid token", Err: err}
		}
		return id, nil
	}

	raw := r.Header.Get(MemberHeader)
	if raw == "" {
		raw = r.URL.Query().Get("userId")
	}
	if raw == "" {
		raw = r.URL.Query().Get("memberId")
	}
	if raw == "" {
		return 0, fileerr.New(fileerr.Unauthenticated, op, "member identity required")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fileerr.New(fileerr.InvalidArgument, op, "member id must be a positive integer")
	}
	return id, nil
}

type memberKey struct{}

func withMember(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, memberKey{}, id)
}

// memberFrom returns the member set by the identity middleware.
func memberFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(memberKey{}).(int64)
	return id
}
