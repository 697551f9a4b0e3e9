package middleware

import (
    "fmt"

    "github.com/labstack/echo/v4"
)

// userID returns the authenticated subject placed in the context by
// JWTAuth as a string, or "anon" before authentication.  JSON numeric
// claims arrive as float64 and are printed without an exponent.
func userID(c echo.Context) string {
    switch v := c.Get("user_id").(type) {
    case nil:
        return "anon"
    case string:
        if v != "" {
            return v
        }
        return "anon"
    case float64:
        return fmt.Sprintf("%.0f", v)
    default:
        return fmt.Sprint(v)
    }
}
