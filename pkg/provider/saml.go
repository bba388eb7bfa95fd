package provider

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// SAMLAdapter implements the adapter contract for SAML 2.0 providers.
type SAMLAdapter struct {
	config  *ProviderConfig
	sp      *saml2.SAMLServiceProvider
	baseURL string
}

// NewSAMLAdapter creates a SAML adapter from the provider config.
func NewSAMLAdapter(config *ProviderConfig, baseURL string) (*SAMLAdapter, error) {
	if config.SAML == nil {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("saml config is required"))
	}

	certBlock, _ := pem.Decode([]byte(config.SAML.Certificate))
	if certBlock == nil {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("provider %s: certificate is not valid PEM", config.Name))
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("provider %s: parse certificate: %w", config.Name, err))
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	var keyStore dsig.X509KeyStore
	if config.SAML.PrivateKey != "" {
		keyStore, err = parseKeyStore(config.SAML)
		if err != nil {
			return nil, autherr.NewConfiguration("provider", fmt.Errorf("provider %s: %w", config.Name, err))
		}
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      config.SAML.SSOURL,
		IdentityProviderIssuer:      config.SAML.EntityID,
		ServiceProviderIssuer:       baseURL + "/auth/saml/" + config.Name + "/metadata",
		AssertionConsumerServiceURL: baseURL + "/auth/" + config.Name + "/callback",
		SignAuthnRequests:           config.SAML.SignRequests,
		AudienceURI:                 baseURL,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}
	if config.SAML.NameIDFormat != "" {
		sp.NameIdFormat = config.SAML.NameIDFormat
	}

	return &SAMLAdapter{
		config:  config,
		sp:      sp,
		baseURL: baseURL,
	}, nil
}

func parseKeyStore(cfg *SAMLConfig) (dsig.X509KeyStore, error) {
	keyBlock, _ := pem.Decode([]byte(cfg.PrivateKey))
	if keyBlock == nil {
		return nil, fmt.Errorf("private key is not valid PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}

	return &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{[]byte(cfg.Certificate)},
	}, nil
}

func (a *SAMLAdapter) Type() Protocol { return ProtocolSAML }

func (a *SAMLAdapter) Name() string { return a.config.Name }

// StartFlow builds the AuthnRequest redirect URL with RelayState set to the
// flow token.
func (a *SAMLAdapter) StartFlow(ctx context.Context, opts StartOptions) (*RedirectDirective, error) {
	flowToken := samlRequestID()

	authURL, err := a.sp.BuildAuthURL(flowToken)
	if err != nil {
		return nil, fmt.Errorf("build auth url: %w", err)
	}

	return &RedirectDirective{
		RedirectURL: authURL,
		FlowToken:   flowToken,
	}, nil
}

// CompleteFlow validates the SAML response and extracts the identity.
// Signature, time-window, and audience failures are authentication
// failures; malformed base64 is a validation failure.
func (a *SAMLAdapter) CompleteFlow(ctx context.Context, payload CallbackPayload) (*FederatedIdentity, error) {
	if payload.SAMLResponse == "" {
		return nil, autherr.NewValidation("SAMLResponse", "required")
	}
	if _, err := base64.StdEncoding.DecodeString(payload.SAMLResponse); err != nil {
		return nil, autherr.NewValidation("SAMLResponse", "not valid base64")
	}

	assertionInfo, err := a.sp.RetrieveAssertionInfo(payload.SAMLResponse)
	if err != nil {
		return nil, &autherr.AuthenticationError{Reason: "assertion validation failed", Err: err}
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, &autherr.AuthenticationError{Reason: "assertion outside its validity window"}
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, &autherr.AuthenticationError{Reason: "assertion not for this audience"}
		}
	}

	return a.mapIdentity(assertionInfo)
}

func (a *SAMLAdapter) mapIdentity(info *saml2.AssertionInfo) (*FederatedIdentity, error) {
	identity := &FederatedIdentity{
		Protocol:     ProtocolSAML,
		ProviderName: a.config.Name,
		RawClaims:    make(map[string]string),
	}

	mapping := a.config.AttributeMap
	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		identity.RawClaims[attr.Name] = attr.Values[0].Value

		switch attr.Name {
		case mapping.ExternalID:
			identity.ExternalID = attr.Values[0].Value
		case mapping.Email:
			identity.Email = attr.Values[0].Value
		case mapping.DisplayName:
			identity.DisplayName = attr.Values[0].Value
		case mapping.Roles:
			for _, v := range attr.Values {
				identity.ExternalRoles = append(identity.ExternalRoles, v.Value)
			}
		case mapping.Groups:
			for _, v := range attr.Values {
				identity.ExternalGroups = append(identity.ExternalGroups, v.Value)
			}
		}
	}

	// NameID backs the external id when no mapped attribute carries it
	if identity.ExternalID == "" {
		identity.ExternalID = info.NameID
	}

	if identity.ExternalID == "" {
		return nil, autherr.NewValidation("external_id", "missing from assertion")
	}
	if identity.Email == "" {
		return nil, autherr.NewValidation("email", "missing from assertion")
	}
	return identity, nil
}

// LogoutURL builds the deflate+base64 LogoutRequest redirect for single
// logout. An empty URL means the provider has no SLO endpoint.
func (a *SAMLAdapter) LogoutURL(nameID string) (string, error) {
	if a.config.SAML.SLOURL == "" {
		return "", nil
	}

	logoutRequest := fmt.Sprintf(`<?xml version="1.0"?>
<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
                     xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
                     ID="_%s"
                     Version="2.0"
                     IssueInstant="%s"
                     Destination="%s">
  <saml:Issuer>%s</saml:Issuer>
  <saml:NameID Format="urn:oasis:names:tc:SAML:2.0:nameid-format:emailAddress">%s</saml:NameID>
</samlp:LogoutRequest>`,
		samlRequestID(),
		time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		a.config.SAML.SLOURL,
		a.sp.ServiceProviderIssuer,
		nameID)

	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("compress logout request: %w", err)
	}
	if _, err := writer.Write([]byte(logoutRequest)); err != nil {
		return "", fmt.Errorf("compress logout request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("compress logout request: %w", err)
	}

	sloURL, err := url.Parse(a.config.SAML.SLOURL)
	if err != nil {
		return "", autherr.NewConfiguration("provider", fmt.Errorf("invalid slo_url: %w", err))
	}
	query := sloURL.Query()
	query.Set("SAMLRequest", base64.StdEncoding.EncodeToString(buf.Bytes()))
	sloURL.RawQuery = query.Encode()
	return sloURL.String(), nil
}

// Metadata returns the service provider metadata XML.
func (a *SAMLAdapter) Metadata() ([]byte, error) {
	descriptor, err := a.sp.Metadata()
	if err != nil {
		return nil, fmt.Errorf("build metadata: %w", err)
	}

	out, err := xml.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// ValidateConfig checks the SAML settings, including that the certificate
// parses.
func (a *SAMLAdapter) ValidateConfig() error {
	cfg := a.config.SAML
	if cfg == nil {
		return autherr.NewConfiguration("provider", fmt.Errorf("saml config is required"))
	}

	if cfg.EntityID == "" {
		return autherr.NewConfiguration("provider",
			fmt.Errorf("provider %s: entity_id is required", a.config.Name))
	}
	if cfg.SSOURL == "" {
		return autherr.NewConfiguration("provider",
			fmt.Errorf("provider %s: sso_url is required", a.config.Name))
	}
	if cfg.Certificate == "" {
		return autherr.NewConfiguration("provider",
			fmt.Errorf("provider %s: certificate is required", a.config.Name))
	}

	block, _ := pem.Decode([]byte(cfg.Certificate))
	if block == nil {
		return autherr.NewConfiguration("provider",
			fmt.Errorf("provider %s: certificate is not valid PEM", a.config.Name))
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return autherr.NewConfiguration("provider",
			fmt.Errorf("provider %s: invalid certificate: %w", a.config.Name, err))
	}

	if cfg.PrivateKey != "" {
		if keyBlock, _ := pem.Decode([]byte(cfg.PrivateKey)); keyBlock == nil {
			return autherr.NewConfiguration("provider",
				fmt.Errorf("provider %s: private key is not valid PEM", a.config.Name))
		}
	}
	return nil
}

func samlRequestID() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}
