package access

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/basebone/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret tokens are signed with. This is mandatory.
	Secret []byte
	// Issuer is the accepted issuer for the token. Empty accepts any issuer.
	Issuer string
}

// NewJwtMiddleware returns a middleware handler to validate HMAC signed JWT bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as "Basebone-JWT" cookie.
// The subject of the token is the id of the user instance, further claims are
// "roles", "is_staff", "is_superuser" and "email".
//
// Requests without token pass unauthorized. Requests with an invalid token are
// answered with http.StatusUnauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware requires a secret")
	}
	cache := NewAuthorizationCache()

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}
			rlog := logger.FromContext(r.Context())

			auth := cache.Read(tokenString)
			if auth == nil {
				token, err := jwt.Parse(tokenString, keyFunc)
				if err != nil || !token.Valid {
					rlog.WithError(err).Debugln("rejected bearer token")
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				claims, _ := token.Claims.(jwt.MapClaims)
				auth, err = authorizationFromClaims(claims, jmb.Issuer)
				if err != nil {
					rlog.WithError(err).Debugln("rejected bearer token")
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				if _, hasExpiry := claims["exp"]; !hasExpiry {
					cache.Write(tokenString, auth)
				}
			}

			ctx := ContextWithAuthorization(r.Context(), auth)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Identity)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authorizationFromClaims(claims jwt.MapClaims, issuer string) (*Authorization, error) {
	if claims == nil {
		return nil, fmt.Errorf("no claims")
	}
	if issuer != "" && !claims.VerifyIssuer(issuer, true) {
		return nil, fmt.Errorf("wrong issuer")
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("subject is not a user id: %w", err)
	}
	auth := &Authorization{UserID: userID, Identity: sub}
	if email, ok := claims["email"].(string); ok && email != "" {
		auth.Identity = email
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, role := range roles {
			if s, ok := role.(string); ok {
				auth.Roles = append(auth.Roles, s)
			}
		}
	}
	auth.Staff, _ = claims["is_staff"].(bool)
	auth.Superuser, _ = claims["is_superuser"].(bool)
	return auth, nil
}

// NewToken issues an HMAC signed token for the authorization. A zero ttl issues a
// token without expiry.
func NewToken(secret []byte, issuer string, auth *Authorization, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":          auth.UserID.String(),
		"roles":        auth.Roles,
		"is_staff":     auth.Staff,
		"is_superuser": auth.Superuser,
	}
	if auth.Identity != "" {
		claims["email"] = auth.Identity
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
