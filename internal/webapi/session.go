package webapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errNoSession = errors.New("no session")

type sessionClaims struct {
	jwt.RegisteredClaims
}

func (server *Server) issueSessionToken(username string, now time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    server.cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(server.cfg.SessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(server.cfg.SessionSigningKey))
}

// sessionUsername extracts and verifies the session cookie. Only the player
// name is carried in the token; role and budget always come fresh from the
// directory so hand edits apply to live sessions.
func (server *Server) sessionUsername(ctx *gin.Context) (string, error) {
	cookie, err := ctx.Cookie(server.cfg.SessionCookieName)
	if err != nil {
		return "", errNoSession
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie, claims, func(*jwt.Token) (any, error) {
		return []byte(server.cfg.SessionSigningKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(server.cfg.SessionIssuer))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", errNoSession
	}
	return claims.Subject, nil
}

func (server *Server) setSessionCookie(ctx *gin.Context, token string, maxAge int) {
	http.SetCookie(ctx.Writer, &http.Cookie{
		Name:     server.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (server *Server) clearSessionCookie(ctx *gin.Context) {
	server.setSessionCookie(ctx, "", -1)
}
