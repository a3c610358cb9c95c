//go:generate go run go.uber.org/mock/mockgen -source=resolver.go -destination=../mocks/mock_identity_resolver.go -package=mocks
package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IIdentityResolver maps an opaque credential to an identity.
// Every failure wraps errors.ErrInvalidCredential.
type IIdentityResolver interface {
	Resolve(ctx context.Context, credential string) (domain.Identity, error)
}

type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver checks HS256 tokens signed with secret.
// An empty issuer accepts any issuer.
func NewJWTResolver(secret []byte, issuer string) *JWTResolver {
	return &JWTResolver{secret: secret, issuer: issuer}
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty credential", errors.ErrInvalidCredential)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing user id", errors.ErrInvalidCredential)
	}
	return domain.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
