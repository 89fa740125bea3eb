// Package portal talks to the IPTV portal: it fetches the login page,
// submits the login form and reads the authenticated dashboard.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	ncerr "autologin/internal/errors"
	"autologin/util"
)

const (
	LoginPath     = "/public/login"
	DashboardPath = "/dashboard"

	SessionCookie = "iptv_session"
	PortalCookie  = "iptv_portal"

	// DefaultBaseURL is the production portal.
	DefaultBaseURL = "https://iptv.nak.org"

	maxBody   = 8 << 20
	userAgent = "Mozilla/5.0 (compatible; autologin)"
)

// Credentials is a session pair issued by the portal on login.
type Credentials struct {
	SessionID string
	Portal    string
}

// Valid reports whether both values are present.
func (c Credentials) Valid() bool { return c.SessionID != "" && c.Portal != "" }

// Client performs portal requests.  It is safe for concurrent use;
// every login gets its own cookie jar.
type Client struct {
	base    string
	timeout time.Duration
	logger  *util.Logger

	// Transport is used for all requests; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// New creates a Client for the portal at baseURL.
func New(baseURL string, timeout time.Duration, logger *util.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// LoginURL returns the login endpoint.
func (c *Client) LoginURL() string { return c.base + LoginPath }

// DashboardURL returns the dashboard endpoint.
func (c *Client) DashboardURL() string { return c.base + DashboardPath }

// httpClient returns a client with a fresh cookie jar.  When follow is
// false redirects are returned to the caller unfollowed.
func (c *Client) httpClient(follow bool) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	hc := &http.Client{
		Jar:       jar,
		Timeout:   c.timeout,
		Transport: c.Transport,
	}
	if !follow {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return hc
}

// ── Steps ────────────────────────────────────────────────────────────

// CSRFToken fetches the login page with hc and extracts its token.
func (c *Client) CSRFToken(ctx context.Context, hc *http.Client) (string, error) {
	c.logger.Verbose("fetching login page %s", c.LoginURL())
	resp, err := c.do(ctx, hc, http.MethodGet, c.LoginURL(), nil, nil)
	if err != nil {
		return "", ncerr.Upstream("login-page", c.LoginURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", ncerr.Upstream("login-page", c.LoginURL(), fmt.Errorf("status %d", resp.StatusCode))
	}

	token, err := ExtractCSRF(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", ncerr.Upstream("login-page", c.LoginURL(), err)
	}
	c.logger.Debug("found csrf token (%d chars)", len(token))
	return token, nil
}

// CheckLoginPage fetches the login page and its token with a
// throwaway client.  It is used as a liveness check before spending
// broker credentials.
func (c *Client) CheckLoginPage(ctx context.Context) error {
	_, err := c.CSRFToken(ctx, c.httpClient(true))
	return err
}

func (c *Client) submitLogin(ctx context.Context, hc *http.Client, username, password, token string) (*http.Response, error) {
	form := url.Values{
		"credential": {username},
		"password":   {password},
		"csrf_token": {token},
	}
	hdr := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	c.logger.Verbose("submitting login form as %q", username)
	resp, err := c.do(ctx, hc, http.MethodPost, c.LoginURL(), strings.NewReader(form.Encode()), hdr)
	if err != nil {
		return nil, ncerr.Upstream("login", c.LoginURL(), err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, ncerr.Upstream("login", c.LoginURL(), fmt.Errorf("status %d", resp.StatusCode))
	}
	return resp, nil
}

// ── Flows ────────────────────────────────────────────────────────────

// Login submits the login form without following redirects and reads
// the credential pair from the Set-Cookie headers of the response.
func (c *Client) Login(ctx context.Context, username, password string) (Credentials, error) {
	hc := c.httpClient(false)

	token, err := c.CSRFToken(ctx, hc)
	if err != nil {
		return Credentials{}, err
	}
	resp, err := c.submitLogin(ctx, hc, username, password, token)
	if err != nil {
		return Credentials{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	var creds Credentials
	for _, ck := range resp.Cookies() {
		c.logger.Debug("Set-Cookie: %s", ck.Name)
		switch ck.Name {
		case SessionCookie:
			creds.SessionID = ck.Value
		case PortalCookie:
			creds.Portal = ck.Value
		}
	}
	if !creds.Valid() {
		return Credentials{}, ncerr.ErrNoCredentials
	}
	return creds, nil
}

// DashboardWithLogin logs in with a cookie jar, follows the redirect
// chain and returns the dashboard markup.  If the chain does not end
// on the dashboard it is requested explicitly with the same jar.
func (c *Client) DashboardWithLogin(ctx context.Context, username, password string) (string, error) {
	hc := c.httpClient(true)

	token, err := c.CSRFToken(ctx, hc)
	if err != nil {
		return "", err
	}
	resp, err := c.submitLogin(ctx, hc, username, password, token)
	if err != nil {
		return "", err
	}
	onDashboard := resp.Request != nil && resp.Request.URL.Path == DashboardPath
	body, err := readBody(resp)
	if err != nil {
		return "", ncerr.Upstream("login", c.LoginURL(), err)
	}
	if onDashboard {
		return body, nil
	}
	return c.fetchDashboard(ctx, hc, nil)
}

// DashboardWithCredentials requests the dashboard presenting a
// credential pair obtained elsewhere.
func (c *Client) DashboardWithCredentials(ctx context.Context, creds Credentials) (string, error) {
	cookies := []*http.Cookie{
		{Name: SessionCookie, Value: creds.SessionID},
		{Name: PortalCookie, Value: creds.Portal},
	}
	return c.fetchDashboard(ctx, c.httpClient(true), cookies)
}

func (c *Client) fetchDashboard(ctx context.Context, hc *http.Client, cookies []*http.Cookie) (string, error) {
	c.logger.Verbose("fetching dashboard %s", c.DashboardURL())
	req, err := c.newRequest(ctx, http.MethodGet, c.DashboardURL(), nil, nil)
	if err != nil {
		return "", ncerr.Upstream("dashboard", c.DashboardURL(), err)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", ncerr.Upstream("dashboard", c.DashboardURL(), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return "", ncerr.Upstream("dashboard", c.DashboardURL(), fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := readBody(resp)
	if err != nil {
		return "", ncerr.Upstream("dashboard", c.DashboardURL(), err)
	}
	return body, nil
}

// ── HTTP plumbing ────────────────────────────────────────────────────

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader, hdr http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, target string, body io.Reader, hdr http.Header) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, target, body, hdr)
	if err != nil {
		return nil, err
	}
	return hc.Do(req)
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
