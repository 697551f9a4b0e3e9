package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// TokenQueryParam carries the access token on WebSocket upgrades, where
// browsers cannot set an Authorization header.
const TokenQueryParam = "access_token"

// JWTAuth returns an Echo middleware that validates an HS256 access token
// and puts its subject into the context as "user_id".  The token is read
// from the Authorization header and, for WebSocket upgrades only, from the
// access_token query parameter.  Tokens are issued elsewhere; this service
// only verifies them.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c)
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }

            tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
                return []byte(secret), nil
            }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            claims, ok := tok.Claims.(jwt.MapClaims)
            if !ok || claims["sub"] == nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
            }
            // Handlers convert the subject with getUserID.
            c.Set("user_id", claims["sub"])
            return next(c)
        }
    }
}

func bearerToken(c echo.Context) string {
    if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
        return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
    }
    if websocketUpgrade(c.Request()) {
        return c.QueryParam(TokenQueryParam)
    }
    return ""
}

func websocketUpgrade(r *http.Request) bool {
    return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
