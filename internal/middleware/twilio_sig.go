// Package middleware holds echo middleware for third-party webhooks.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
)

// TwilioParamsKey is the context key holding the verified form parameters.
const TwilioParamsKey = "twilioParams"

// TwilioSignature rejects webhook requests whose X-Twilio-Signature does not
// sign the request URL and form body with authToken. publicURL is the
// externally visible base URL; when empty it is derived from forwarding
// headers or the Host header.
func TwilioSignature(authToken, publicURL string) echo.MiddlewareFunc {
	validator := client.NewRequestValidator(authToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authToken == "" {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "twilio not configured")
			}
			r := c.Request()
			if err := r.ParseForm(); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to parse form data")
			}
			params := make(map[string]string, len(r.PostForm))
			for key, values := range r.PostForm {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}
			signature := r.Header.Get("X-Twilio-Signature")
			if signature == "" || !validator.Validate(SignedURL(r, publicURL), params, signature) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid twilio signature")
			}
			c.Set(TwilioParamsKey, params)
			return next(c)
		}
	}
}

// SignedURL rebuilds the absolute URL Twilio computed its signature over.
// Priority: publicURL, then X-Forwarded-Proto/Host, then the Host header.
func SignedURL(r *http.Request, publicURL string) string {
	base := strings.TrimRight(publicURL, "/")
	if base == "" {
		proto := r.Header.Get("X-Forwarded-Proto")
		host := r.Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			base = proto + "://" + host
		}
	}
	if base == "" {
		proto := "https"
		if strings.HasPrefix(r.Host, "localhost:") || strings.HasPrefix(r.Host, "127.0.0.1:") {
			proto = "http"
		}
		base = proto + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}
