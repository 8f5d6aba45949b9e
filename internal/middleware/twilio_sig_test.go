package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func serve(token, publicURL string, r *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	e := echo.New()
	var got map[string]string
	e.POST("/twilio/sms-status", func(c echo.Context) error {
		got, _ = c.Get(TwilioParamsKey).(map[string]string)
		return c.NoContent(http.StatusNoContent)
	}, TwilioSignature(token, publicURL))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)
	return w, got
}

func statusRequest(form url.Values, signature string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/twilio/sms-status", strings.NewReader(form.Encode()))
	r.Host = "medibot.example"
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		r.Header.Set("X-Twilio-Signature", signature)
	}
	return r
}

func TestTwilioSignature(t *testing.T) {
	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}
	const signedURL = "https://medibot.example/twilio/sms-status"

	w, params := serve("tok", "", statusRequest(form, sign("tok", signedURL, form)))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "delivered", params["MessageStatus"])

	w, _ = serve("tok", "", statusRequest(form, sign("other", signedURL, form)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve("tok", "", statusRequest(form, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve("", "", statusRequest(form, sign("", signedURL, form)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTwilioSignature_PublicURL(t *testing.T) {
	form := url.Values{"MessageStatus": {"failed"}, "ErrorCode": {"30003"}}
	sig := sign("tok", "https://public.example/twilio/sms-status", form)
	w, params := serve("tok", "https://public.example/", statusRequest(form, sig))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "30003", params["ErrorCode"])
}

func TestSignedURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/twilio/sms-status?x=1", nil)
	r.Host = "localhost:8080"
	assert.Equal(t, "http://localhost:8080/twilio/sms-status?x=1", SignedURL(r, ""))

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "tunnel.example")
	assert.Equal(t, "https://tunnel.example/twilio/sms-status?x=1", SignedURL(r, ""))
	assert.Equal(t, "https://base.example/twilio/sms-status?x=1", SignedURL(r, "https://base.example"))
}
