package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cgpacalc/cgpacalc/internal/audit"
	"github.com/cgpacalc/cgpacalc/internal/cache"
	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/config"
	"github.com/cgpacalc/cgpacalc/internal/handler"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
	"github.com/cgpacalc/cgpacalc/internal/middleware"
	"github.com/cgpacalc/cgpacalc/internal/render"
	"github.com/cgpacalc/cgpacalc/internal/service"
	"github.com/cgpacalc/cgpacalc/internal/session"
)

const (
	testUser     = "ada"
	testPassword = "correct horse battery"
	cookieName   = "cgpa_session"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type nopSink struct {
	mu    sync.Mutex
	count int
}

func (s *nopSink) PublishAsync(audit.EventPayload) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
}

type fixture struct {
	router   *chi.Mux
	clock    *clock.Fixed
	recorder *metrics.InMemoryRecorder
	accounts *service.AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                "development",
		SessionTTL:            time.Hour,
		LoginRedirectURL:      "/",
		RateLimitLoginEnabled: true,
		RateLimitLoginRPS:     1,
		RateLimitLoginBurst:   3,
		MaxRequestBodySize:    65536,
	}

	clk := clock.NewFixed(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := metrics.NewInMemory()

	users := service.NewMemoryUserStore()
	svc := service.NewAuthService(users, clk, logger)
	if _, err := svc.CreateUser(context.Background(), testUser, testPassword); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	manager := session.NewManager(session.NewMemoryStore(clk), clk, session.Options{
		CookieName: cookieName,
		TTL:        cfg.SessionTTL,
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
		Users:      users,
	})

	renderer, err := render.New(URL, rec, render.DefaultProcessors()...)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	r := New(Deps{
		Config:   cfg,
		Logger:   logger,
		Clock:    clk,
		Metrics:  rec,
		Renderer: renderer,
		Sessions: manager,
		Auth:     svc,
		Limiter:  cache.NewLocalRateLimiter(clk),
		Audit:    &nopSink{},
	})

	return &fixture{router: r, clock: clk, recorder: rec, accounts: svc}
}

// browser keeps cookies between requests.
type browser struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func (f *fixture) browser(t *testing.T) *browser {
	return &browser{t: t, h: f.router, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.RemoteAddr = "198.51.100.20:5000"
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.h.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

// post submits form with the CSRF token, fetching the login page first
// when no token cookie exists yet.
func (b *browser) post(target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	if _, ok := b.cookies[middleware.CSRFCookieName]; !ok {
		b.do(http.MethodGet, URL(NameLogin), nil)
	}
	form.Set(middleware.CSRFFormField, b.cookies[middleware.CSRFCookieName].Value)
	return b.do(http.MethodPost, target, form)
}

func (b *browser) login(username, password, next string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.post(URL(NameLogin), url.Values{
		"username": {username},
		"password": {password},
		"next":     {next},
	})
}

func (b *browser) mustLogin() {
	b.t.Helper()
	rec := b.login(testUser, testPassword, "")
	if rec.Code != http.StatusFound {
		b.t.Fatalf("login: expected status 302, got %d", rec.Code)
	}
}

func timestampOf(body string) string {
	const marker = `data-timestamp="`
	i := strings.Index(body, marker)
	if i < 0 {
		return ""
	}
	rest := body[i+len(marker):]
	return rest[:strings.IndexByte(rest, '"')]
}

func TestURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		NameCalculator: "/",
		NameLogin:      "/login/",
		NameLogout:     "/logout/",
		"admin":        "",
	}
	for name, want := range tests {
		if got := URL(name); got != want {
			t.Errorf("URL(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRouter_ExactlyThreeRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	routes := Routes(f.router)
	slices.Sort(routes)

	want := []string{"/", "/login/", "/logout/"}
	if !slices.Equal(routes, want) {
		t.Errorf("routes = %v, want %v", routes, want)
	}
}

func TestRouter_UnknownPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)

	for _, path := range []string{"/admin/", "/login", "/logout", "/static/app.js", "/healthz", "/metrics"} {
		rec := b.do(http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected status 404, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "The requested resource was not found on this server.") {
			t.Errorf("GET %s: expected HTML 404 page", path)
		}
	}

	// POST to an unknown path is a 404, not a CSRF failure.
	rec := b.do(http.MethodPost, "/nowhere/", url.Values{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST /nowhere/: expected status 404, got %d", rec.Code)
	}
}

func TestRouter_LoginMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodHead, http.StatusOK},
		{http.MethodPut, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
		{http.MethodPatch, http.StatusMethodNotAllowed},
	}

	f := newFixture(t)
	for _, tt := range tests {
		tt := tt
		rec := f.browser(t).do(tt.method, URL(NameLogin), nil)
		if rec.Code != tt.want {
			t.Errorf("%s /login/: expected status %d, got %d", tt.method, tt.want, rec.Code)
		}
	}
}

func TestRouter_AnonymousRedirectedToLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)

	tests := []struct {
		method   string
		target   string
		location string
	}{
		{http.MethodGet, "/", "/login/?next=%2F"},
		{http.MethodGet, "/?term=fall", "/login/?next=%2F%3Fterm%3Dfall"},
		{http.MethodHead, "/", "/login/?next=%2F"},
	}

	for _, tt := range tests {
		tt := tt
		rec := b.do(tt.method, tt.target, nil)
		if rec.Code != http.StatusFound {
			t.Errorf("%s %s: expected status 302, got %d", tt.method, tt.target, rec.Code)
			continue
		}
		if loc := rec.Header().Get("Location"); loc != tt.location {
			t.Errorf("%s %s: Location = %q, want %q", tt.method, tt.target, loc, tt.location)
		}
		if strings.Contains(rec.Body.String(), "CGPA Calculator") {
			t.Errorf("%s %s: calculator must not render for anonymous users", tt.method, tt.target)
		}
	}

	if f.recorder.Snapshot().PageRenders != 0 {
		t.Error("no page should have been rendered")
	}
}

func TestRouter_LoginPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.browser(t).do(http.MethodGet, "/login/?next=%2F", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`name="username"`, `name="password"`, `name="csrfmiddlewaretoken"`, `name="next" value="/"`} {
		if !strings.Contains(body, want) {
			t.Errorf("login page missing %q", want)
		}
	}
}

func TestRouter_AuthenticatedRender(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.mustLogin()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		var rec *httptest.ResponseRecorder
		if method == http.MethodPost {
			rec = b.post("/", url.Values{})
		} else {
			rec = b.do(method, "/", nil)
		}

		if rec.Code != http.StatusOK {
			t.Fatalf("%s /: expected status 200, got %d", method, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s /: unexpected Content-Type %s", method, ct)
		}
		if got, want := timestampOf(rec.Body.String()), fmt.Sprintf("%.6f", clock.UnixSeconds(start)); got != want {
			t.Errorf("%s /: timestamp = %q, want %q", method, got, want)
		}
	}
}

func TestRouter_TimestampFreshPerRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.mustLogin()

	first := timestampOf(b.do(http.MethodGet, "/", nil).Body.String())
	f.clock.Advance(1500 * time.Millisecond)
	second := timestampOf(b.do(http.MethodGet, "/", nil).Body.String())

	a, err := strconv.ParseFloat(first, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", first, err)
	}
	c, err := strconv.ParseFloat(second, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", second, err)
	}
	if diff := c - a; diff < 1.4999 || diff > 1.5001 {
		t.Errorf("timestamps %v then %v, want 1.5s apart", a, c)
	}
}

func TestRouter_LoginRedirectsToSafeNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		next     string
		location string
	}{
		{"", "/"},
		{"/?term=fall", "/?term=fall"},
		{"//evil.example", "/"},
		{"https://evil.example/", "/"},
		{"javascript:alert(1)", "/"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.next, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			b := f.browser(t)
			rec := b.login(testUser, testPassword, tt.next)

			if rec.Code != http.StatusFound {
				t.Fatalf("expected status 302, got %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != tt.location {
				t.Errorf("Location = %q, want %q", loc, tt.location)
			}
			if _, ok := b.cookies[cookieName]; !ok {
				t.Error("expected session cookie after login")
			}
		})
	}
}

func TestRouter_InvalidCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	rec := b.login(testUser, "wrong password", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Please enter a correct username and password.") {
		t.Error("expected invalid credentials message")
	}
	if _, ok := b.cookies[cookieName]; ok {
		t.Error("failed login must not set a session cookie")
	}
	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusFound {
		t.Errorf("still anonymous: expected 302, got %d", rec.Code)
	}
}

func TestRouter_CSRFRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.do(http.MethodGet, URL(NameLogin), nil)

	rec := b.do(http.MethodPost, URL(NameLogin), url.Values{
		"username": {testUser},
		"password": {testPassword},
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
	if _, ok := b.cookies[cookieName]; ok {
		t.Error("rejected request must not log in")
	}
	if f.recorder.Snapshot().CSRFRejected != 1 {
		t.Error("expected CSRF rejection to be counted")
	}
}

func TestRouter_LoginRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)

	for i := 0; i < 3; i++ {
		if rec := b.login(testUser, "wrong", ""); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected status 200, got %d", i+1, rec.Code)
		}
	}

	rec := b.login(testUser, testPassword, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if _, ok := b.cookies[cookieName]; ok {
		t.Error("limited request must not log in")
	}

	// Showing the form is never limited.
	if rec := b.do(http.MethodGet, URL(NameLogin), nil); rec.Code != http.StatusOK {
		t.Errorf("GET /login/: expected status 200, got %d", rec.Code)
	}

	// Tokens refill with time.
	f.clock.Advance(2 * time.Second)
	if rec := b.login(testUser, testPassword, ""); rec.Code != http.StatusFound {
		t.Errorf("after refill: expected status 302, got %d", rec.Code)
	}
}

func TestRouter_LogoutInvalidatesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.mustLogin()

	stale := b.cookies[cookieName]

	rec := b.do(http.MethodGet, URL(NameLogout), nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login/" {
		t.Errorf("Location = %q, want /login/", loc)
	}

	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusFound {
		t.Errorf("after logout: expected status 302, got %d", rec.Code)
	}

	// Replaying the old cookie does not bring the session back.
	b.cookies[cookieName] = stale
	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusFound {
		t.Errorf("replayed cookie: expected status 302, got %d", rec.Code)
	}
}

func TestRouter_LogoutAnonymous(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.browser(t).do(http.MethodGet, URL(NameLogout), nil)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login/" {
		t.Errorf("expected 302 to /login/, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestRouter_DeactivatedUserLosesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.mustLogin()

	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusOK {
		t.Fatalf("active user: expected status 200, got %d", rec.Code)
	}

	ctx := context.Background()
	if err := f.accounts.SetActive(ctx, testUser, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusFound {
		t.Errorf("deactivated user: expected status 302, got %d", rec.Code)
	}

	// Reactivation does not revive the dropped session.
	if err := f.accounts.SetActive(ctx, testUser, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusFound {
		t.Errorf("reactivated user, old session: expected status 302, got %d", rec.Code)
	}
}

func TestRouter_PasswordChangeEndsSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.browser(t)
	first.mustLogin()
	second := f.browser(t)
	second.mustLogin()

	const newPassword = "brand new password"
	if err := f.accounts.SetPassword(context.Background(), testUser, newPassword); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	for i, b := range []*browser{first, second} {
		if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusFound {
			t.Errorf("browser %d after password change: expected status 302, got %d", i+1, rec.Code)
		}
	}

	// The new password opens a fresh session.
	if rec := first.login(testUser, newPassword, ""); rec.Code != http.StatusFound {
		t.Fatalf("login with new password: expected status 302, got %d", rec.Code)
	}
	if rec := first.do(http.MethodGet, "/", nil); rec.Code != http.StatusOK {
		t.Errorf("new session: expected status 200, got %d", rec.Code)
	}
}

func TestRouter_ExpiredSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.mustLogin()

	if rec := b.do(http.MethodGet, "/", nil); rec.Code != http.StatusOK {
		t.Fatalf("fresh session: expected status 200, got %d", rec.Code)
	}

	f.clock.Advance(time.Hour + time.Second)

	rec := b.do(http.MethodGet, "/", nil)
	if rec.Code != http.StatusFound {
		t.Errorf("expired session: expected status 302, got %d", rec.Code)
	}
}

func TestRouter_TamperedSessionCookie(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.browser(t)
	b.mustLogin()

	c := *b.cookies[cookieName]
	c.Value += "x"
	b.cookies[cookieName] = &c

	rec := b.do(http.MethodGet, "/", nil)
	if rec.Code != http.StatusFound {
		t.Errorf("tampered cookie: expected status 302, got %d", rec.Code)
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.browser(t).do(http.MethodGet, URL(NameLogin), nil)

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "X-Request-ID"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s header", h)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must be off in development")
	}
}

func TestOpsRouter(t *testing.T) {
	t.Parallel()

	rec := metrics.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ops := NewOps(logger, handler.NewHealthHandler(nil, nil), handler.NewMetricsHandler(rec))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		ops.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected status 200, got %d", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	ops.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("ops router must not serve the calculator, got %d", w.Code)
	}
}
