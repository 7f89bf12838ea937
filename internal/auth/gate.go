package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/cgpacalc/cgpacalc/internal/model"
)

// RedirectFieldName is the query parameter carrying the post-login target.
const RedirectFieldName = "next"

// Decision is the outcome of the login-required gate.
// A zero RedirectTo means the request may continue.
type Decision struct {
	RedirectTo string
}

// Continue reports whether the handler may run.
func (d Decision) Continue() bool {
	return d.RedirectTo == ""
}

// RequireLogin decides whether a request may reach a protected handler.
// Anonymous requests are sent to loginURL with the original request URI
// preserved in the "next" parameter.
func RequireLogin(r *http.Request, sess *model.Session, loginURL string) Decision {
	if sess != nil {
		return Decision{}
	}
	return Decision{RedirectTo: LoginRedirectURL(loginURL, r.URL.RequestURI())}
}

// LoginRedirectURL builds loginURL?next=<target>.
func LoginRedirectURL(loginURL, target string) string {
	if target == "" {
		return loginURL
	}
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return loginURL + sep + RedirectFieldName + "=" + url.QueryEscape(target)
}

// SafeRedirect returns target if it is a local absolute path that cannot
// be interpreted as another host, otherwise fallback.
func SafeRedirect(target, fallback string) string {
	if target == "" || target[0] != '/' {
		return fallback
	}
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return fallback
	}
	if strings.ContainsAny(target, "\r\n") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}
