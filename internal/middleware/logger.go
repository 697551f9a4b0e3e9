package middleware

import (
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
)

// RequestLogger writes one zerolog line per request.  Server errors log at
// error level, client errors at warn and everything else at info.
func RequestLogger() echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogMethod:    true,
        LogURIPath:   true,
        LogRoutePath: true,
        LogStatus:    true,
        LogLatency:   true,
        LogRemoteIP:  true,
        LogError:     true,
        HandleError:  true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            var ev *zerolog.Event
            switch {
            case v.Status >= 500 || v.Error != nil:
                ev = log.Error().Err(v.Error)
            case v.Status >= 400:
                ev = log.Warn()
            default:
                ev = log.Info()
            }
            ev.Str("module", "http").
                Str("method", v.Method).
                Str("path", v.URIPath).
                Str("route", v.RoutePath).
                Int("status", v.Status).
                Dur("latency", v.Latency).
                Str("ip", v.RemoteIP).
                Str("user", userID(c)).
                Msg("request")
            return nil
        },
    })
}
