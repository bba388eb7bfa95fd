package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// DefaultExchangeTimeout bounds the code exchange plus userinfo fetch.
const DefaultExchangeTimeout = 15 * time.Second

// OAuth2Adapter implements the adapter contract for OAuth2 providers.
type OAuth2Adapter struct {
	config          *ProviderConfig
	oauth2Config    *oauth2.Config
	exchangeTimeout time.Duration
}

// NewOAuth2Adapter creates an OAuth2 adapter from the provider config.
func NewOAuth2Adapter(config *ProviderConfig) (*OAuth2Adapter, error) {
	if config.OAuth2 == nil {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("oauth2 config is required"))
	}

	oauth2Cfg := &oauth2.Config{
		ClientID:     config.OAuth2.ClientID,
		ClientSecret: config.OAuth2.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  config.OAuth2.AuthURL,
			TokenURL: config.OAuth2.TokenURL,
		},
		RedirectURL: config.OAuth2.RedirectURL,
		Scopes:      config.OAuth2.Scopes,
	}

	return &OAuth2Adapter{
		config:          config,
		oauth2Config:    oauth2Cfg,
		exchangeTimeout: DefaultExchangeTimeout,
	}, nil
}

// SetExchangeTimeout overrides the IdP call timeout.
func (a *OAuth2Adapter) SetExchangeTimeout(d time.Duration) {
	if d > 0 {
		a.exchangeTimeout = d
	}
}

func (a *OAuth2Adapter) Type() Protocol { return ProtocolOAuth2 }

func (a *OAuth2Adapter) Name() string { return a.config.Name }

// StartFlow builds the authorization URL. The state parameter is the flow
// token the callback must return.
func (a *OAuth2Adapter) StartFlow(ctx context.Context, opts StartOptions) (*RedirectDirective, error) {
	flowToken := uuid.NewString()

	var authOpts []oauth2.AuthCodeOption
	if opts.AccountHint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("login_hint", opts.AccountHint))
	}

	return &RedirectDirective{
		RedirectURL: a.oauth2Config.AuthCodeURL(flowToken, authOpts...),
		FlowToken:   flowToken,
	}, nil
}

// CompleteFlow exchanges the authorization code, fetches userinfo, and maps
// the claims to a FederatedIdentity. The exchange runs under its own
// timeout; a timeout or network failure is transient and never retried
// here.
func (a *OAuth2Adapter) CompleteFlow(ctx context.Context, payload CallbackPayload) (*FederatedIdentity, error) {
	if payload.Error != "" {
		reason := payload.Error
		if payload.ErrorDescription != "" {
			reason = fmt.Sprintf("%s: %s", payload.Error, payload.ErrorDescription)
		}
		return nil, &autherr.AuthenticationError{Reason: "provider returned " + reason}
	}
	if payload.Code == "" {
		return nil, autherr.NewValidation("code", "required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.exchangeTimeout)
	defer cancel()

	token, err := a.oauth2Config.Exchange(ctx, payload.Code)
	if err != nil {
		if isNetworkErr(err) {
			return nil, &autherr.TransientError{Op: "oauth2 code exchange", Err: err}
		}
		return nil, &autherr.AuthenticationError{Reason: "code exchange rejected", Err: err}
	}

	claims, err := a.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	return a.mapIdentity(claims)
}

func (a *OAuth2Adapter) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	client := a.oauth2Config.Client(ctx, token)

	resp, err := client.Get(a.config.OAuth2.UserInfoURL)
	if err != nil {
		return nil, &autherr.TransientError{Op: "oauth2 userinfo fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &autherr.AuthenticationError{
			Reason: fmt.Sprintf("userinfo returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, &autherr.AuthenticationError{Reason: "userinfo response malformed", Err: err}
	}
	return claims, nil
}

func (a *OAuth2Adapter) mapIdentity(claims map[string]interface{}) (*FederatedIdentity, error) {
	identity := &FederatedIdentity{
		Protocol:     ProtocolOAuth2,
		ProviderName: a.config.Name,
		RawClaims:    make(map[string]string, len(claims)),
	}

	for k, v := range claims {
		if str, ok := v.(string); ok {
			identity.RawClaims[k] = str
		} else {
			raw, _ := json.Marshal(v)
			identity.RawClaims[k] = string(raw)
		}
	}

	mapping := a.config.AttributeMap
	identity.ExternalID = claimString(claims, mapping.ExternalID)
	identity.Email = claimString(claims, mapping.Email)
	identity.DisplayName = claimString(claims, mapping.DisplayName)
	identity.ExternalRoles = claimStrings(claims, mapping.Roles)
	identity.ExternalGroups = claimStrings(claims, mapping.Groups)

	if identity.ExternalID == "" {
		return nil, autherr.NewValidation("external_id", "missing from userinfo response")
	}
	if identity.Email == "" {
		return nil, autherr.NewValidation("email", "missing from userinfo response")
	}
	return identity, nil
}

// ValidateConfig checks the OAuth2 settings.
func (a *OAuth2Adapter) ValidateConfig() error {
	cfg := a.config.OAuth2
	if cfg == nil {
		return autherr.NewConfiguration("provider", fmt.Errorf("oauth2 config is required"))
	}

	check := func(field, value string) error {
		if value == "" {
			return autherr.NewConfiguration("provider",
				fmt.Errorf("provider %s: %s is required", a.config.Name, field))
		}
		return nil
	}
	if err := check("client_id", cfg.ClientID); err != nil {
		return err
	}
	if err := check("client_secret", cfg.ClientSecret); err != nil {
		return err
	}
	if err := check("auth_url", cfg.AuthURL); err != nil {
		return err
	}
	if err := check("token_url", cfg.TokenURL); err != nil {
		return err
	}
	if err := check("user_info_url", cfg.UserInfoURL); err != nil {
		return err
	}
	if err := check("redirect_url", cfg.RedirectURL); err != nil {
		return err
	}
	if len(cfg.Scopes) == 0 {
		return autherr.NewConfiguration("provider",
			fmt.Errorf("provider %s: scopes are required", a.config.Name))
	}
	return nil
}

func isNetworkErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func claimString(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := claims[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func claimStrings(claims map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	v, ok := claims[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
