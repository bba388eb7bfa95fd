package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// selfSignedCert generates a throwaway IdP certificate for adapter tests.
func selfSignedCert(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func samlTestConfig(t *testing.T) *ProviderConfig {
	return &ProviderConfig{
		Name:    "hospital-idp",
		Type:    ProtocolSAML,
		Enabled: true,
		SAML: &SAMLConfig{
			EntityID:    "https://idp.hospital.example.org",
			SSOURL:      "https://idp.hospital.example.org/sso",
			SLOURL:      "https://idp.hospital.example.org/slo",
			Certificate: selfSignedCert(t),
		},
		AttributeMap: AttributeMap{
			ExternalID: "employeeNumber",
			Email:      "mail",
			Roles:      "eduPersonAffiliation",
			Groups:     "memberOf",
		},
	}
}

func TestSAMLStartFlow(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)

	directive, err := adapter.StartFlow(context.Background(), StartOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, directive.FlowToken)
	assert.Contains(t, directive.RedirectURL, "https://idp.hospital.example.org/sso")
	assert.Contains(t, directive.RedirectURL, "SAMLRequest=")
	assert.Contains(t, directive.RedirectURL, "RelayState="+directive.FlowToken)
}

func TestSAMLCompleteFlowMissingResponse(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)

	_, err = adapter.CompleteFlow(context.Background(), CallbackPayload{})
	var ve *autherr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "SAMLResponse", ve.Field)
}

func TestSAMLCompleteFlowMalformedBase64(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)

	_, err = adapter.CompleteFlow(context.Background(), CallbackPayload{SAMLResponse: "not%%%base64"})
	var ve *autherr.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestSAMLCompleteFlowUnsignedAssertionRejected(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)

	// Well-formed base64 carrying an unsigned response must fail signature
	// validation, not crash.
	fake := base64.StdEncoding.EncodeToString([]byte(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"></samlp:Response>`))
	_, err = adapter.CompleteFlow(context.Background(), CallbackPayload{SAMLResponse: fake})
	var authErr *autherr.AuthenticationError
	assert.True(t, errors.As(err, &authErr))
}

// signingKeyStore returns a throwaway IdP signing key with its certificate
// PEM-encoded for the adapter's trust store.
func signingKeyStore(t *testing.T) (dsig.X509KeyStore, string) {
	t.Helper()

	ks := dsig.RandomKeyStoreForTest()
	_, certDer, err := ks.GetKeyPair()
	require.NoError(t, err)

	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDer}))
	return ks, certPEM
}

// signedResponse builds a signed SAML response whose assertion conditions
// carry the given validity window.
func signedResponse(t *testing.T, ks dsig.X509KeyStore, notBefore, notOnOrAfter time.Time) string {
	t.Helper()
	now := time.Now().UTC()

	doc := etree.NewDocument()
	resp := doc.CreateElement("samlp:Response")
	resp.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	resp.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	resp.CreateAttr("ID", "_"+samlRequestID())
	resp.CreateAttr("Version", "2.0")
	resp.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	resp.CreateAttr("Destination", "https://app.example.org/auth/hospital-idp/callback")
	resp.CreateElement("saml:Issuer").SetText("https://idp.hospital.example.org")

	status := resp.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").
		CreateAttr("Value", "urn:oasis:names:tc:SAML:2.0:status:Success")

	assertion := resp.CreateElement("saml:Assertion")
	assertion.CreateAttr("ID", "_"+samlRequestID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	assertion.CreateElement("saml:Issuer").SetText("https://idp.hospital.example.org")

	subject := assertion.CreateElement("saml:Subject")
	subject.CreateElement("saml:NameID").SetText("emp-7001")

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", notBefore.Format(time.RFC3339))
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))
	conditions.CreateElement("saml:AudienceRestriction").
		CreateElement("saml:Audience").SetText("https://app.example.org")

	attrs := assertion.CreateElement("saml:AttributeStatement")
	for name, value := range map[string]string{
		"employeeNumber": "emp-7001",
		"mail":           "dr.chen@example.org",
	} {
		attr := attrs.CreateElement("saml:Attribute")
		attr.CreateAttr("Name", name)
		attr.CreateElement("saml:AttributeValue").SetText(value)
	}

	signed, err := dsig.NewDefaultSigningContext(ks).SignEnveloped(resp)
	require.NoError(t, err)

	signedDoc := etree.NewDocument()
	signedDoc.SetRoot(signed)
	raw, err := signedDoc.WriteToBytes()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSAMLCompleteFlowExpiredAssertion(t *testing.T) {
	ks, certPEM := signingKeyStore(t)
	config := samlTestConfig(t)
	config.SAML.Certificate = certPEM

	adapter, err := NewSAMLAdapter(config, "https://app.example.org")
	require.NoError(t, err)

	// Signature is valid; only the validity window has passed.
	now := time.Now().UTC()
	response := signedResponse(t, ks, now.Add(-2*time.Hour), now.Add(-time.Hour))

	_, err = adapter.CompleteFlow(context.Background(), CallbackPayload{SAMLResponse: response})
	var authErr *autherr.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "assertion outside its validity window", authErr.Reason)
}

func TestSAMLCompleteFlowValidWindowAccepted(t *testing.T) {
	ks, certPEM := signingKeyStore(t)
	config := samlTestConfig(t)
	config.SAML.Certificate = certPEM

	adapter, err := NewSAMLAdapter(config, "https://app.example.org")
	require.NoError(t, err)

	now := time.Now().UTC()
	response := signedResponse(t, ks, now.Add(-time.Minute), now.Add(5*time.Minute))

	identity, err := adapter.CompleteFlow(context.Background(), CallbackPayload{SAMLResponse: response})
	require.NoError(t, err)
	assert.Equal(t, "emp-7001", identity.ExternalID)
	assert.Equal(t, "dr.chen@example.org", identity.Email)
}

func TestSAMLValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
	}{
		{"missing entity_id", func(c *ProviderConfig) { c.SAML.EntityID = "" }},
		{"missing sso_url", func(c *ProviderConfig) { c.SAML.SSOURL = "" }},
		{"missing certificate", func(c *ProviderConfig) { c.SAML.Certificate = "" }},
		{"garbage certificate", func(c *ProviderConfig) { c.SAML.Certificate = "not a pem" }},
		{"garbage private key", func(c *ProviderConfig) { c.SAML.PrivateKey = "not a pem" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := samlTestConfig(t)
			tt.mutate(config)

			adapter := &SAMLAdapter{config: config}
			var confErr *autherr.ConfigurationError
			assert.True(t, errors.As(adapter.ValidateConfig(), &confErr))
		})
	}
}

func TestSAMLValidateConfigAccepts(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)
	assert.NoError(t, adapter.ValidateConfig())
}

func TestSAMLAdapterRejectsGarbageCertificate(t *testing.T) {
	config := samlTestConfig(t)
	config.SAML.Certificate = "not a pem"

	_, err := NewSAMLAdapter(config, "https://app.example.org")
	var confErr *autherr.ConfigurationError
	assert.True(t, errors.As(err, &confErr))
}

func TestSAMLMetadata(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)

	metadata, err := adapter.Metadata()
	require.NoError(t, err)
	assert.Contains(t, string(metadata), "EntityDescriptor")
	assert.Contains(t, string(metadata), "https://app.example.org/auth/hospital-idp/callback")
}

func TestSAMLLogoutURL(t *testing.T) {
	adapter, err := NewSAMLAdapter(samlTestConfig(t), "https://app.example.org")
	require.NoError(t, err)

	logoutURL, err := adapter.LogoutURL("dr.chen@example.org")
	require.NoError(t, err)
	assert.Contains(t, logoutURL, "https://idp.hospital.example.org/slo")
	assert.Contains(t, logoutURL, "SAMLRequest=")
}

func TestSAMLLogoutURLWithoutSLO(t *testing.T) {
	config := samlTestConfig(t)
	config.SAML.SLOURL = ""
	adapter, err := NewSAMLAdapter(config, "https://app.example.org")
	require.NoError(t, err)

	logoutURL, err := adapter.LogoutURL("dr.chen@example.org")
	require.NoError(t, err)
	assert.Empty(t, logoutURL)
}
