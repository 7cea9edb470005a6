package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/server/pagesession"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "a@b.com"
	testPassword = "x"
	testOrigin   = "http://app.test"
)

// testFixture holds a running server and the collaborators behind it
type testFixture struct {
	srv      *httptest.Server
	repo     *pagesession.InMemoryRepo
	registry *prometheus.Registry
}

func setupTestFixture(t *testing.T, storeOptions ...auth.StoreOption) *testFixture {
	t.Helper()
	return setupTestFixtureWithRepo(t, nil, storeOptions...)
}

func setupTestFixtureWithRepo(t *testing.T, repoOptions []pagesession.InMemoryOption, storeOptions ...auth.StoreOption) *testFixture {
	t.Helper()

	t.Setenv("ENV", "TEST")
	t.Setenv("ALLOWED_ORIGINS", testOrigin)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	options := append([]auth.StoreOption{
		auth.WithLoginDelay(0),
		auth.WithLogoutDelay(0),
		auth.WithRecorder(collector),
	}, storeOptions...)
	repoOptions = append([]pagesession.InMemoryOption{
		pagesession.WithOnDelete(collector.ForgetSession),
		pagesession.WithOnCountChange(collector.SetPageSessions),
	}, repoOptions...)
	repo := pagesession.NewInMemoryRepo(func() *auth.Store {
		return auth.NewStore(options...)
	}, repoOptions...)

	s, err := server.New(config.New(), server.Deps{
		PageSessions: repo,
		Gatherer:     reg,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	return &testFixture{srv: srv, repo: repo, registry: reg}
}

// newClient returns a client with its own cookie jar, i.e. its own page session
func (f *testFixture) newClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (f *testFixture) endSession(t *testing.T, c *http.Client) {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+server.RouteSession, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func (f *testFixture) getSession(t *testing.T, c *http.Client) sessions.Session {
	t.Helper()

	resp, err := c.Get(f.srv.URL + server.RouteSession)
	require.NoError(t, err)
	return decodeSession(t, resp)
}

func (f *testFixture) login(t *testing.T, c *http.Client, email, password string) sessions.Session {
	t.Helper()

	body, err := json.Marshal(server.LoginRequest{Email: email, Password: password})
	require.NoError(t, err)
	resp, err := c.Post(f.srv.URL+server.RouteAuthLogin, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return decodeSession(t, resp)
}

func (f *testFixture) logout(t *testing.T, c *http.Client) sessions.Session {
	t.Helper()

	resp, err := c.Post(f.srv.URL+server.RouteAuthLogout, "application/json", nil)
	require.NoError(t, err)
	return decodeSession(t, resp)
}

func decodeSession(t *testing.T, resp *http.Response) sessions.Session {
	t.Helper()
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var session sessions.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	return session
}

func TestNew_RequiresPageSessions(t *testing.T) {
	_, err := server.New(config.New(), server.Deps{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "page session repo is required")
}

func TestHealth(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := http.Get(f.srv.URL + server.RouteHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestSession_InitialStateSetsCookie(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := http.Get(f.srv.URL + server.RouteSession)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"user":null,"isAuthenticated":false}`, string(body))

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "auth_page_session", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, 1, f.repo.Len())
}

func TestLoginLogoutScenario(t *testing.T) {
	f := setupTestFixture(t)
	c := f.newClient(t)

	require.Equal(t, sessions.LoggedOut(), f.getSession(t, c))

	session := f.login(t, c, "a@b.com", "x")
	require.Equal(t, sessions.Session{
		User:            &users.User{ID: "1", Email: "a@b.com", Name: "John Doe"},
		IsAuthenticated: true,
	}, session)
	require.Equal(t, session, f.getSession(t, c))

	require.Equal(t, sessions.LoggedOut(), f.logout(t, c))
	require.Equal(t, sessions.LoggedOut(), f.logout(t, c))
	require.Equal(t, sessions.LoggedOut(), f.getSession(t, c))
	require.Equal(t, 1, f.repo.Len())
}

func TestLogin_AcceptsAnything(t *testing.T) {
	f := setupTestFixture(t)
	c := f.newClient(t)

	session := f.login(t, c, "", "")
	require.True(t, session.IsAuthenticated)
	require.NotNil(t, session.User)
	require.Equal(t, "", session.User.Email)
}

func TestPageSessionsAreIsolated(t *testing.T) {
	f := setupTestFixture(t)
	alice := f.newClient(t)
	bob := f.newClient(t)

	f.login(t, alice, "alice@b.com", testPassword)

	require.True(t, f.getSession(t, alice).IsAuthenticated)
	require.False(t, f.getSession(t, bob).IsAuthenticated)
	require.Equal(t, 2, f.repo.Len())
}

func TestLogin_MalformedBody(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := http.Post(f.srv.URL+server.RouteAuthLogin, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body["error_description"], "invalid request")
	require.Equal(t, 0, f.repo.Len())
}

func TestLogin_WaitsForStoreDelay(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := setupTestFixture(t, auth.WithClock(fc), auth.WithLoginDelay(auth.DefaultLoginDelay))
	c := f.newClient(t)

	type result struct {
		session sessions.Session
		err     error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := c.Post(f.srv.URL+server.RouteAuthLogin, "application/json", strings.NewReader(`{"email":"a@b.com","password":"x"}`))
		if err != nil {
			results <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var session sessions.Session
		err = json.NewDecoder(resp.Body).Decode(&session)
		results <- result{session: session, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	fc.Advance(auth.DefaultLoginDelay - time.Millisecond)
	select {
	case <-results:
		t.Fatal("login responded before its delay elapsed")
	default:
	}

	fc.Advance(time.Millisecond)
	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.True(t, res.session.IsAuthenticated)
		require.Equal(t, sessions.LoggedIn(users.Mock(testEmail)), res.session)
	case <-time.After(5 * time.Second):
		t.Fatal("login did not respond")
	}
}

func TestEndSession(t *testing.T) {
	f := setupTestFixture(t)
	c := f.newClient(t)

	f.login(t, c, testEmail, testPassword)
	require.Equal(t, 1, f.repo.Len())

	f.endSession(t, c)
	require.Equal(t, 0, f.repo.Len())
	require.Equal(t, 0.0, gaugeValue(t, f.registry, "authstore_authenticated_sessions"))
	require.Equal(t, 0.0, gaugeValue(t, f.registry, "authstore_page_sessions"))

	// Cookie was cleared so the next request starts a fresh, logged out page session
	require.False(t, f.getSession(t, c).IsAuthenticated)
	require.Equal(t, 1, f.repo.Len())
}

func TestEndSession_DuringPendingLogin(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := setupTestFixture(t, auth.WithClock(fc), auth.WithLoginDelay(200*time.Millisecond))
	c := f.newClient(t)
	f.getSession(t, c)

	loggedIn := make(chan sessions.Session, 1)
	go func() {
		resp, err := c.Post(f.srv.URL+server.RouteAuthLogin, "application/json", strings.NewReader(`{"email":"a@b.com","password":"x"}`))
		if err != nil {
			close(loggedIn)
			return
		}
		defer resp.Body.Close()
		var session sessions.Session
		_ = json.NewDecoder(resp.Body).Decode(&session)
		loggedIn <- session
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	f.endSession(t, c)
	fc.Advance(200 * time.Millisecond)

	select {
	case session, ok := <-loggedIn:
		require.True(t, ok, "login request failed")
		require.True(t, session.IsAuthenticated)
	case <-ctx.Done():
		t.Fatal("login did not respond")
	}

	// The discarded store's late login must not count
	require.Equal(t, 0, f.repo.Len())
	require.Equal(t, 0.0, gaugeValue(t, f.registry, "authstore_page_sessions"))
	require.Equal(t, 0.0, gaugeValue(t, f.registry, "authstore_authenticated_sessions"))
	require.Equal(t, 1.0, counterValue(t, f.registry, "authstore_login_total"))
}

func TestIdlePageSessionsAreSwept(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := setupTestFixtureWithRepo(t, []pagesession.InMemoryOption{
		pagesession.WithClock(fc),
		pagesession.WithIdleTTL(time.Minute),
	})

	for i := 0; i < 50; i++ {
		resp, err := http.Get(f.srv.URL + server.RouteSession)
		require.NoError(t, err)
		resp.Body.Close()
	}
	kept := f.newClient(t)
	f.login(t, kept, testEmail, testPassword)
	require.Equal(t, 51, f.repo.Len())
	require.Equal(t, 51.0, gaugeValue(t, f.registry, "authstore_page_sessions"))

	fc.Advance(30 * time.Second)
	require.True(t, f.getSession(t, kept).IsAuthenticated)
	fc.Advance(30 * time.Second)

	require.Equal(t, 50, f.repo.Sweep())
	require.Equal(t, 1, f.repo.Len())
	require.Equal(t, 1.0, gaugeValue(t, f.registry, "authstore_page_sessions"))
	require.Equal(t, 1.0, gaugeValue(t, f.registry, "authstore_authenticated_sessions"))

	fc.Advance(time.Minute)
	require.Equal(t, 1, f.repo.Sweep())
	require.Equal(t, 0.0, gaugeValue(t, f.registry, "authstore_authenticated_sessions"))
}

func TestCors(t *testing.T) {
	f := setupTestFixture(t)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, f.srv.URL+server.RouteAuthLogin, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	t.Run("allowed origin", func(t *testing.T) {
		resp := preflight(testOrigin)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
		require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("unknown origin", func(t *testing.T) {
		resp := preflight("http://evil.test")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.srv.URL+server.RouteSession, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", testOrigin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupTestFixture(t)
	c := f.newClient(t)

	f.login(t, c, testEmail, testPassword)

	resp, err := http.Get(f.srv.URL + server.RouteMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "authstore_login_total 1")
	require.Contains(t, string(body), "authstore_authenticated_sessions 1")
	require.Contains(t, string(body), "authstore_page_sessions 1")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Setenv("ENV", "TEST")
	s, err := server.New(config.New(), server.Deps{PageSessions: pagesession.NewInMemoryRepo(nil)})
	require.NoError(t, err)

	h := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}, s.RecoverMiddleware)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal error")
}

type clientConn struct {
	io.Reader
	io.Writer
}

func (f *testFixture) dialEvents(t *testing.T, c *http.Client) (clientConn, error) {
	t.Helper()

	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)

	header := http.Header{}
	for _, cookie := range c.Jar.Cookies(u) {
		header.Add("Cookie", cookie.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}
	conn, br, _, err := dialer.Dial(ctx, "ws://"+u.Host+server.RouteSessionEvents)
	if err != nil {
		return clientConn{}, err
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	rw := clientConn{Reader: conn, Writer: conn}
	if br != nil {
		rw.Reader = br
	}
	return rw, nil
}

func readEvent(t *testing.T, rw clientConn) sessions.Session {
	t.Helper()

	data, op, err := wsutil.ReadServerData(rw)
	require.NoError(t, err)
	require.Equal(t, ws.OpText, op)
	var session sessions.Session
	require.NoError(t, json.Unmarshal(data, &session))
	return session
}

func TestSessionEvents(t *testing.T) {
	f := setupTestFixture(t)
	c := f.newClient(t)

	// Start the page session so the websocket and the HTTP calls share it
	f.getSession(t, c)
	rw, err := f.dialEvents(t, c)
	require.NoError(t, err)

	require.Equal(t, sessions.LoggedOut(), readEvent(t, rw))

	f.login(t, c, testEmail, testPassword)
	require.Equal(t, sessions.LoggedIn(users.Mock(testEmail)), readEvent(t, rw))

	f.logout(t, c)
	require.Equal(t, sessions.LoggedOut(), readEvent(t, rw))
	require.Equal(t, 1, f.repo.Len())
}

func TestSessionEvents_RequiresPageSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.dialEvents(t, f.newClient(t))
	require.Error(t, err)
	require.Equal(t, 0, f.repo.Len())

	resp, err := http.Get(f.srv.URL + server.RouteSessionEvents)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, 0, f.repo.Len())
}

func TestSessionEvents_ClosedWhenSessionEnds(t *testing.T) {
	f := setupTestFixture(t)
	c := f.newClient(t)

	f.getSession(t, c)
	rw, err := f.dialEvents(t, c)
	require.NoError(t, err)
	require.Equal(t, sessions.LoggedOut(), readEvent(t, rw))

	f.endSession(t, c)

	_, _, err = wsutil.ReadServerData(rw)
	require.Error(t, err)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
