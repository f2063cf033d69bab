package transport

import (
	"strings"
	"testing"

	"github.com/cloudflare/cfamp/amp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrap(t *testing.T) {
	doc := `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <dp:GetDomainListResponse xmlns:dp="ns"><dp:Domain>default</dp:Domain></dp:GetDomainListResponse>
  </soap:Body>
</soap:Envelope>`
	body, fault, err := Unwrap([]byte(doc))
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, `<dp:GetDomainListResponse xmlns:dp="ns"><dp:Domain>default</dp:Domain></dp:GetDomainListResponse>`, string(body))
}

func TestUnwrapLegacyCharset(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
		"<Envelope><Body><R><Comment>caf\xe9</Comment></R></Body></Envelope>"
	body, _, err := Unwrap([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "<R><Comment>café</Comment></R>", string(body))
}

func TestClassifyFault(t *testing.T) {
	tests := []struct {
		code   string
		str    string
		expect amp.FaultKind
	}{
		{code: "SOAP-ENV:Client", str: "Authentication Failure", expect: amp.FaultAuthentication},
		{code: "env:Server", str: "Authentication failure for user admin", expect: amp.FaultAuthentication},
		{code: "env:Client", str: "bad request", expect: amp.FaultClient},
		{code: "Server", str: "internal", expect: amp.FaultServer},
		{code: "dp:Other", str: "?", expect: amp.FaultUnknown},
	}
	for _, test := range tests {
		t.Run(test.code+"/"+test.str, func(t *testing.T) {
			assert.Equal(t, test.expect, classifyFault(&soapFault{Code: test.code, String: test.str}).Kind)
		})
	}
}

func TestEnvelopeParts(t *testing.T) {
	header, footer := EnvelopeParts([]byte("<A><B>"), []byte("</B></A>"))
	assert.Equal(t, string(Wrap([]byte("<A><B>xyz</B></A>"))), string(header)+"xyz"+string(footer))
	assert.True(t, strings.HasSuffix(string(header), "<soapenv:Body><A><B>"))
}
