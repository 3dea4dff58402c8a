package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type reviewerKey struct{}

// ReviewerFromContext returns the authenticated reviewer, if any.
func ReviewerFromContext(ctx context.Context) (string, bool) {
	reviewer, ok := ctx.Value(reviewerKey{}).(string)
	return reviewer, ok && reviewer != ""
}

// ReviewerClaims are the claims carried by reviewer tokens.
type ReviewerClaims struct {
	jwt.RegisteredClaims
}

// ReviewerAuth verifies HS256 reviewer tokens on review calls.
type ReviewerAuth struct {
	secret []byte
	issuer string
}

// NewReviewerAuth returns nil when secret is empty, disabling verification.
func NewReviewerAuth(secret, issuer string) *ReviewerAuth {
	if secret == "" {
		return nil
	}
	return &ReviewerAuth{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a reviewer token for subject.
func (a *ReviewerAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	now := time.Now().UTC()
	claims := ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken validates a token and returns its subject.
func (a *ReviewerAuth) ParseToken(tokenStr string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &ReviewerClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*ReviewerClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// UnaryInterceptor requires a bearer token on ReviewArtifact and stores its subject in
// the request context. Other methods pass through.
func (a *ReviewerAuth) UnaryInterceptor() grpc.UnaryServerInterceptor {
	reviewMethod := fullMethod("ReviewArtifact")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod != reviewMethod {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		raw, ok := strings.CutPrefix(values[0], "Bearer ")
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "authorization must use the Bearer scheme")
		}
		subject, err := a.ParseToken(strings.TrimSpace(raw))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, fmt.Sprintf("invalid token: %v", err))
		}
		return handler(context.WithValue(ctx, reviewerKey{}, subject), req)
	}
}

// WithBearer attaches a reviewer token to outgoing calls.
func WithBearer(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
