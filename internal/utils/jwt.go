package utils // package utils provides token and hashing helpers

import (
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// NewAccessToken signs an HS256 token whose subject is userID and which
// expires after ttl.  Tokens are normally issued by the account service;
// this helper serves local tooling and tests of the verifying middleware.
func NewAccessToken(secret string, userID uint64, ttl time.Duration) (string, error) {
    now := time.Now().UTC()
    claims := jwt.MapClaims{
        "sub": strconv.FormatUint(userID, 10),
        "exp": now.Add(ttl).Unix(),
        "iat": now.Unix(),
    }
    return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
