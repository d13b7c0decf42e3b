package httpapi

import (
	"net/http"

	"ccbridge/internal/platform/twilio"
)

// callbackURL reconstructs the public URL Twilio signed. Behind a proxy the
// forwarded headers win over what the local listener saw.
func callbackURL(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	host := r.Host
	if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
		host = fh
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func twilioSignatureValid(authToken, url string, r *http.Request, signature string) bool {
	return twilio.ValidateSignature(authToken, url, r.PostForm, signature)
}
