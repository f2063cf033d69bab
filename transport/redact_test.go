package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "nothing to hide",
			input:  `<a><Domain>default</Domain></a>`,
			expect: `<a><Domain>default</Domain></a>`,
		},
		{
			name:   "several elements",
			input:  `<a x="1"><Password>hunter2</Password> <b>keep</b><dp:File name="f">QUJD</dp:File></a>`,
			expect: `<a x="1"><Password>[redacted]</Password> <b>keep</b><dp:File name="f">[redacted]</dp:File></a>`,
		},
		{
			name:   "nested structure inside blob",
			input:  `<r><PolicyConfiguration><x><Password>p</Password></x>tail</PolicyConfiguration><s/></r>`,
			expect: `<r><PolicyConfiguration>[redacted]</PolicyConfiguration><s/></r>`,
		},
		{
			name:   "empty elements untouched",
			input:  `<r><Password/><Settings></Settings></r>`,
			expect: `<r><Password/><Settings></Settings></r>`,
		},
		{
			name:   "cdata",
			input:  `<r><ErrorReport><![CDATA[secret <stuff>]]></ErrorReport></r>`,
			expect: `<r><ErrorReport>[redacted]</ErrorReport></r>`,
		},
		{
			name:   "envelope preserved",
			input:  string(Wrap([]byte(`<dp:SetFirmwareRequest xmlns:dp="ns"><dp:Firmware>AAAA</dp:Firmware></dp:SetFirmwareRequest>`))),
			expect: string(Wrap([]byte(`<dp:SetFirmwareRequest xmlns:dp="ns"><dp:Firmware>[redacted]</dp:Firmware></dp:SetFirmwareRequest>`))),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			once := string(Redact([]byte(test.input)))
			assert.Equal(t, test.expect, once)
			assert.Equal(t, once, string(Redact([]byte(once))))
		})
	}
}

func TestRedactNeverLeaks(t *testing.T) {
	secret := "c2VjcmV0LWZpcm13YXJlLWltYWdl"
	for _, doc := range []string{
		`<r><Firmware>` + secret + `</Firmware>`,
		`<r><Firmware>` + secret,
		`<<<` + secret,
	} {
		assert.False(t, strings.Contains(string(Redact([]byte(doc))), secret), doc)
	}
}
