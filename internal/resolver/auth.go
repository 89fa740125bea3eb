package resolver

import (
	"context"

	ncerr "autologin/internal/errors"
	"autologin/internal/portal"
)

// Authenticator produces the authenticated dashboard markup.
type Authenticator interface {
	Name() string
	Dashboard(ctx context.Context) (string, error)
}

// CredentialSource hands out portal credential pairs.  The broker
// client implements it.
type CredentialSource interface {
	Credentials(ctx context.Context) (portal.Credentials, error)
}

// DirectAuth logs in to the portal with a username and password.
type DirectAuth struct {
	Portal   *portal.Client
	Username string
	Password string
}

func (a *DirectAuth) Name() string { return "direct" }

func (a *DirectAuth) Dashboard(ctx context.Context) (string, error) {
	return a.Portal.DashboardWithLogin(ctx, a.Username, a.Password)
}

// BrokerAuth presents a credential pair obtained from the broker.  The
// login page is still fetched first so a portal outage is detected
// before a pair is spent.
type BrokerAuth struct {
	Portal *portal.Client
	Broker CredentialSource
}

func (a *BrokerAuth) Name() string { return "broker" }

func (a *BrokerAuth) Dashboard(ctx context.Context) (string, error) {
	if err := a.Portal.CheckLoginPage(ctx); err != nil {
		return "", err
	}
	creds, err := a.Broker.Credentials(ctx)
	if err != nil {
		return "", ncerr.Upstream("broker", "", err)
	}
	return a.Portal.DashboardWithCredentials(ctx, creds)
}
