// Package provider unifies OAuth2 and SAML identity providers behind one
// adapter contract. Adapters validate callbacks and produce a normalized
// FederatedIdentity; they never create sessions or issue tokens.
package provider

import (
	"context"
	"fmt"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// Protocol identifies the federation protocol an adapter speaks.
type Protocol string

const (
	ProtocolOAuth2 Protocol = "oauth2"
	ProtocolSAML   Protocol = "saml"
)

// StartOptions carries per-flow inputs from the caller.
type StartOptions struct {
	// ReturnTo is where the client should land after authentication.
	ReturnTo string
	// AccountHint is the login hint, when the client knows who is signing
	// in. It keys the lockout pre-gate for flows that fail before the
	// identity is known.
	AccountHint string
}

// RedirectDirective tells the client where to send the user agent.
type RedirectDirective struct {
	RedirectURL string `json:"redirect_url"`
	FlowToken   string `json:"flow_token"`
}

// CallbackPayload is the raw callback material. OAuth2 flows populate
// Code/State/Error; SAML flows populate SAMLResponse/RelayState.
type CallbackPayload struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	SAMLResponse     string
	RelayState       string
}

// FederatedIdentity is the normalized identity an adapter extracts from a
// validated callback. It is a value; callers must not mutate shared copies.
type FederatedIdentity struct {
	ExternalID     string            `json:"external_id"`
	Email          string            `json:"email"`
	DisplayName    string            `json:"display_name,omitempty"`
	ExternalRoles  []string          `json:"external_roles,omitempty"`
	ExternalGroups []string          `json:"external_groups,omitempty"`
	Protocol       Protocol          `json:"protocol"`
	ProviderName   string            `json:"provider_name"`
	RawClaims      map[string]string `json:"raw_claims,omitempty"`
}

// Adapter is the protocol-specific half of an authentication flow.
type Adapter interface {
	// Type returns the protocol this adapter speaks.
	Type() Protocol

	// Name returns the configured provider instance name.
	Name() string

	// StartFlow builds the IdP redirect for a new flow. The flow token in
	// the directive doubles as OAuth2 state / SAML RelayState.
	StartFlow(ctx context.Context, opts StartOptions) (*RedirectDirective, error)

	// CompleteFlow validates the callback and extracts the identity.
	CompleteFlow(ctx context.Context, payload CallbackPayload) (*FederatedIdentity, error)

	// ValidateConfig checks the adapter configuration. Called at startup.
	ValidateConfig() error
}

// ProviderConfig is one configured identity provider instance.
type ProviderConfig struct {
	Name         string        `yaml:"name" json:"name"`
	Type         Protocol      `yaml:"type" json:"type"`
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	OAuth2       *OAuth2Config `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
	SAML         *SAMLConfig   `yaml:"saml,omitempty" json:"saml,omitempty"`
	AttributeMap AttributeMap  `yaml:"attribute_map" json:"attribute_map"`
}

// OAuth2Config holds OAuth2 provider settings.
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	AuthURL      string   `yaml:"auth_url" json:"auth_url"`
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	UserInfoURL  string   `yaml:"user_info_url" json:"user_info_url"`
	RedirectURL  string   `yaml:"redirect_url" json:"redirect_url"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// SAMLConfig holds SAML 2.0 provider settings.
type SAMLConfig struct {
	EntityID     string `yaml:"entity_id" json:"entity_id"`
	SSOURL       string `yaml:"sso_url" json:"sso_url"`
	SLOURL       string `yaml:"slo_url,omitempty" json:"slo_url,omitempty"`
	Certificate  string `yaml:"certificate" json:"certificate"`
	PrivateKey   string `yaml:"private_key,omitempty" json:"-"`
	SignRequests bool   `yaml:"sign_requests" json:"sign_requests"`
	NameIDFormat string `yaml:"name_id_format,omitempty" json:"name_id_format,omitempty"`
}

// AttributeMap names the provider claims/attributes that carry each
// identity field.
type AttributeMap struct {
	ExternalID  string `yaml:"external_id" json:"external_id"`
	Email       string `yaml:"email" json:"email"`
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Roles       string `yaml:"roles,omitempty" json:"roles,omitempty"`
	Groups      string `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// NewAdapter builds the adapter for the configured provider type.
func NewAdapter(config *ProviderConfig, baseURL string) (Adapter, error) {
	if !config.Enabled {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("provider %s is disabled", config.Name))
	}

	switch config.Type {
	case ProtocolOAuth2:
		if config.OAuth2 == nil {
			return nil, autherr.NewConfiguration("provider", fmt.Errorf("oauth2 config is required for provider %s", config.Name))
		}
		return NewOAuth2Adapter(config)

	case ProtocolSAML:
		if config.SAML == nil {
			return nil, autherr.NewConfiguration("provider", fmt.Errorf("saml config is required for provider %s", config.Name))
		}
		return NewSAMLAdapter(config, baseURL)

	default:
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("unsupported provider type: %s", config.Type))
	}
}
