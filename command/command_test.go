package command

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/internal/testutil/appliance"
	"github.com/cloudflare/cfamp/internal/testutil/tlstest"
	"github.com/cloudflare/cfamp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newClient(t *testing.T, v amp.ProtocolVersion, handler appliance.Handler) (*Client, *appliance.Device) {
	t.Helper()
	dev := appliance.New(t, handler)
	c, err := NewForVersion(v, transport.New(dev.Trust, nil), Options{})
	require.NoError(t, err)
	return c, dev
}

// reply answers every request with the same response document body.
func reply(v amp.ProtocolVersion, element string, inner string) appliance.Handler {
	desc := amp.MustDescriptor(v)
	return func(*appliance.Request) appliance.Reply {
		return appliance.Respond(desc, element, inner)
	}
}

func kindOf(t *testing.T, err error) amp.ErrorKind {
	t.Helper()
	require.Error(t, err)
	kind, ok := amp.KindOf(err)
	require.True(t, ok, "not an amp error: %v", err)
	return kind
}

func TestSubscribeEncodesTopics(t *testing.T) {
	tests := []struct {
		name   string
		topics []string
		expect string
	}{
		{
			name:   "single",
			topics: []string{"configuration"},
			expect: "<Topics><Topic>configuration</Topic></Topics>",
		},
		{
			name:   "caller order and case",
			topics: []string{"Operational", "FIRMWARE"},
			expect: "<Topics><Topic>operational</Topic><Topic>firmware</Topic></Topics>",
		},
		{
			name:   "every topic",
			topics: []string{"all", "configuration", "firmware", "operational"},
			expect: "<Topics><Topic>all</Topic><Topic>configuration</Topic><Topic>firmware</Topic><Topic>operational</Topic></Topics>",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, dev := newClient(t, amp.V3, reply(amp.V3, "SubscribeResponse", "<dp:SubscriptionState>active</dp:SubscriptionState>"))
			state, err := c.SubscribeToDevice(context.Background(), dev.Endpoint(), "mgr-1", test.topics, "https://10.0.0.1:5555/")
			require.NoError(t, err)
			assert.Equal(t, amp.SubscriptionActive, state.Kind())

			reqs := dev.Requests()
			require.Len(t, reqs, 1)
			assert.Contains(t, string(reqs[0].Envelope), test.expect)
			assert.Contains(t, string(reqs[0].Envelope), `xmlns="`+c.Descriptor().Namespace+`"`)
		})
	}
}

func TestSubscribeEncodesEveryTopicSubset(t *testing.T) {
	vocabulary := []string{"configuration", "firmware", "operational", "all"}
	rng := rand.New(rand.NewSource(1))
	c, dev := newClient(t, amp.V3, reply(amp.V3, "SubscribeResponse", "<dp:SubscriptionState>active</dp:SubscriptionState>"))

	for mask := 1; mask < 1<<len(vocabulary); mask++ {
		var subset []string
		for i, topic := range vocabulary {
			if mask&(1<<i) != 0 {
				subset = append(subset, topic)
			}
		}
		rng.Shuffle(len(subset), func(i, j int) { subset[i], subset[j] = subset[j], subset[i] })

		requested := make([]string, len(subset))
		expect := "<Topics>"
		for i, topic := range subset {
			switch rng.Intn(3) {
			case 0:
				requested[i] = strings.ToUpper(topic)
			case 1:
				requested[i] = strings.ToUpper(topic[:1]) + topic[1:]
			default:
				requested[i] = topic
			}
			expect += "<Topic>" + topic + "</Topic>"
		}
		expect += "</Topics>"

		t.Run(strings.Join(requested, ","), func(t *testing.T) {
			before := dev.Calls()
			_, err := c.SubscribeToDevice(context.Background(), dev.Endpoint(), "mgr-1", requested, "https://10.0.0.1:5555/")
			require.NoError(t, err)

			reqs := dev.Requests()
			require.Len(t, reqs, before+1)
			envelope := string(reqs[before].Envelope)
			start := strings.Index(envelope, "<Topics>")
			end := strings.Index(envelope, "</Topics>")
			require.True(t, start >= 0 && end > start, envelope)
			assert.Equal(t, expect, envelope[start:end+len("</Topics>")])
		})
	}
}

func TestSubscribeRejectsTopicsLocally(t *testing.T) {
	for _, topics := range [][]string{nil, {"configuration", "weather"}, {""}} {
		c, dev := newClient(t, amp.V3, reply(amp.V3, "SubscribeResponse", "<dp:SubscriptionState>active</dp:SubscriptionState>"))
		_, err := c.SubscribeToDevice(context.Background(), dev.Endpoint(), "mgr-1", topics, "https://10.0.0.1:5555/")
		var verr *amp.ValidationError
		assert.True(t, errors.As(err, &verr), "%v", topics)
		assert.Zero(t, dev.Calls())
	}
}

func TestSubscribeDuplicate(t *testing.T) {
	c, dev := newClient(t, amp.V2, reply(amp.V2, "SubscribeResponse",
		"<dp:SubscriptionState>duplicate</dp:SubscriptionState><dp:URL>https://other:5555/</dp:URL>"))
	state, err := c.SubscribeToDevice(context.Background(), dev.Endpoint(), "mgr-1", []string{"all"}, "https://10.0.0.1:5555/")
	require.NoError(t, err)
	url, ok := state.OriginalURL()
	assert.True(t, ok)
	assert.Equal(t, "https://other:5555/", url)
}

func TestIsDomainDifferent(t *testing.T) {
	tests := []struct {
		result    string
		different bool
		kind      amp.ErrorKind
		fails     bool
	}{
		{result: "identical", different: false},
		{result: "different", different: true},
		{result: "Different", different: true},
		{result: "similar", fails: true, kind: amp.KindProtocol},
		{result: "", fails: true, kind: amp.KindProtocol},
	}
	for _, test := range tests {
		t.Run(test.result, func(t *testing.T) {
			c, dev := newClient(t, amp.V3, reply(amp.V3, "CompareConfigResponse",
				"<dp:CompareResult>"+test.result+"</dp:CompareResult>"))
			different, err := c.IsDomainDifferent(context.Background(), dev.Endpoint(), "default", []byte("export"))
			if test.fails {
				assert.Equal(t, test.kind, kindOf(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.different, different)
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	tests := []struct {
		state string
		ok    bool
		kind  amp.ErrorKind
	}{
		{state: "active", ok: true},
		{state: "none", ok: true},
		{state: "NONE", ok: true},
		{state: "fault", kind: amp.KindExecution},
		{state: "unknown-subscription", kind: amp.KindNotFound},
		{state: "duplicate", kind: amp.KindNotFound},
	}
	for _, test := range tests {
		t.Run(test.state, func(t *testing.T) {
			c, dev := newClient(t, amp.V1, reply(amp.V1, "UnsubscribeResponse",
				"<dp:SubscriptionState>"+test.state+"</dp:SubscriptionState>"))
			// Twice: the outcome never depends on a previous call.
			for i := 0; i < 2; i++ {
				err := c.UnsubscribeFromDevice(context.Background(), dev.Endpoint(), "mgr-1")
				if test.ok {
					assert.NoError(t, err)
				} else {
					assert.Equal(t, test.kind, kindOf(t, err))
				}
			}
			assert.Equal(t, 2, dev.Calls())
		})
	}
}

func TestPingFaultIsAnAnswer(t *testing.T) {
	c, dev := newClient(t, amp.V1, reply(amp.V1, "PingResponse", "<dp:SubscriptionState>fault</dp:SubscriptionState>"))
	state, err := c.PingDevice(context.Background(), dev.Endpoint(), "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, amp.SubscriptionFault, state.Kind())
}

func TestGetDomainDisambiguation(t *testing.T) {
	export := []byte("<datapower-configuration/>\x00\xff")
	tests := []struct {
		name  string
		inner string
		kind  amp.ErrorKind
		fails bool
	}{
		{name: "nothing", inner: "", kind: amp.KindProtocol, fails: true},
		{name: "error status", inner: "<dp:Status>error</dp:Status>", kind: amp.KindExecution, fails: true},
		{name: "ok without config", inner: "<dp:Status>ok</dp:Status>", kind: amp.KindProtocol, fails: true},
		{
			name:  "nil config",
			inner: `<dp:Config xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:nil="true"/>`,
			kind:  amp.KindNotFound,
			fails: true,
		},
		{name: "config", inner: "<dp:Config>" + base64.StdEncoding.EncodeToString(export) + "</dp:Config>"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, dev := newClient(t, amp.V2, reply(amp.V2, "GetDomainResponse", test.inner))
			data, err := c.GetDomain(context.Background(), dev.Endpoint(), "webapps")
			if test.fails {
				assert.Equal(t, test.kind, kindOf(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, export, data)
		})
	}
}

func TestStatusPolicy(t *testing.T) {
	desc := amp.MustDescriptor(amp.V3)
	tests := []struct {
		name  string
		reply appliance.Reply
		kind  amp.ErrorKind
		ok    bool
	}{
		{name: "ok", reply: appliance.Respond(desc, "RebootResponse", "<dp:Status>ok</dp:Status>"), ok: true},
		{name: "upper case", reply: appliance.Respond(desc, "RebootResponse", "<dp:Status> OK </dp:Status>"), ok: true},
		{name: "error", reply: appliance.Respond(desc, "RebootResponse", "<dp:Status>error</dp:Status>"), kind: amp.KindExecution},
		{name: "no status", reply: appliance.Respond(desc, "RebootResponse", ""), kind: amp.KindProtocol},
		{name: "odd status", reply: appliance.Respond(desc, "RebootResponse", "<dp:Status>maybe</dp:Status>"), kind: amp.KindProtocol},
		{name: "empty body", reply: appliance.Reply{Body: appliance.Envelope("")}, kind: amp.KindProtocol},
		{name: "wrong element", reply: appliance.Respond(desc, "PingResponse", "<dp:Status>ok</dp:Status>"), kind: amp.KindProtocol},
		{name: "auth fault", reply: appliance.Fault("env:Client", "Authentication failure"), kind: amp.KindCredential},
		{name: "other fault", reply: appliance.Fault("env:Server", "busy"), kind: amp.KindExecution},
		{name: "http error", reply: appliance.Reply{Status: http.StatusServiceUnavailable}, kind: amp.KindIO},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := test.reply
			c, dev := newClient(t, amp.V3, func(*appliance.Request) appliance.Reply { return r })
			err := c.Reboot(context.Background(), dev.Endpoint())
			if test.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, test.kind, kindOf(t, err))

			var e *amp.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, dev.Endpoint().Address(), e.Device)
			assert.Equal(t, "Reboot", e.Operation)
			assert.Equal(t, amp.V3, e.Version)
		})
	}
}

func TestFaultCarriedOnExecutionError(t *testing.T) {
	c, dev := newClient(t, amp.V3, func(*appliance.Request) appliance.Reply {
		return appliance.Fault("env:Server", "domain busy")
	})
	err := c.StartDomain(context.Background(), dev.Endpoint(), "default")
	var e *amp.Error
	require.True(t, errors.As(err, &e))
	require.NotNil(t, e.Fault)
	assert.Equal(t, "domain busy", e.Fault.String)
	assert.True(t, errors.Is(err, amp.ErrExecution))
}

func TestUnsupportedBeforeNetwork(t *testing.T) {
	c, dev := newClient(t, amp.V1, reply(amp.V1, "SecureBackupResponse", "<dp:Status>ok</dp:Status>"))
	ctx := context.Background()
	ep := dev.Endpoint()

	assert.True(t, errors.Is(c.SecureBackup(ctx, ep, "cert", "local:///backup"), amp.ErrUnsupported))
	assert.True(t, errors.Is(c.QuiesceDevice(ctx, ep, 0), amp.ErrUnsupported))
	_, err := c.GetSAMLToken(ctx, ep, "default")
	assert.True(t, errors.Is(err, amp.ErrUnsupported))
	_, err = c.GetServiceListFromDomain(ctx, ep, "default")
	assert.True(t, errors.Is(err, amp.ErrUnsupported))
	err = c.SetDomain(ctx, ep, "default", []byte("x"), &DeploymentPolicy{Export: []byte("p")})
	assert.True(t, errors.Is(err, amp.ErrUnsupported))
	assert.False(t, c.Supports(amp.OpQuiesceDomain))
	assert.Zero(t, dev.Calls())
}

func TestSetDomainPolicyEncoding(t *testing.T) {
	ctx := context.Background()

	v2, dev2 := newClient(t, amp.V2, reply(amp.V2, "SetDomainResponse", "<dp:Status>ok</dp:Status>"))
	err := v2.SetDomain(ctx, dev2.Endpoint(), "web", []byte("export"), &DeploymentPolicy{PolicyDomain: "default", PolicyObject: "prod"})
	assert.True(t, errors.Is(err, amp.ErrUnsupported))
	require.NoError(t, v2.SetDomain(ctx, dev2.Endpoint(), "web", []byte("export"), &DeploymentPolicy{Export: []byte("policy")}))
	require.Len(t, dev2.Requests(), 1)
	assert.Contains(t, string(dev2.Requests()[0].Envelope),
		"<DeploymentPolicy><PolicyConfiguration>"+base64.StdEncoding.EncodeToString([]byte("policy"))+"</PolicyConfiguration></DeploymentPolicy>")

	v3, dev3 := newClient(t, amp.V3, reply(amp.V3, "SetDomainResponse", "<dp:Status>ok</dp:Status>"))
	require.NoError(t, v3.SetDomain(ctx, dev3.Endpoint(), "web", []byte("export"), &DeploymentPolicy{PolicyDomain: "default", PolicyObject: "prod"}))
	assert.Contains(t, string(dev3.Requests()[0].Envelope),
		"<DeploymentPolicy><PolicyDomain>default</PolicyDomain><PolicyObject>prod</PolicyObject></DeploymentPolicy>")
}

func TestDomainStatusQuirk(t *testing.T) {
	handler := reply(amp.V3, "GetDomainStatusResponse", "<dp:Status>error</dp:Status>")

	c, dev := newClient(t, amp.V3, handler)
	_, err := c.GetDomainStatus(context.Background(), dev.Endpoint(), "web")
	assert.Equal(t, amp.KindExecution, kindOf(t, err))

	quirked := New(c.Descriptor(), transport.New(dev.Trust, nil), Options{
		Quirks: &amp.Quirks{DomainStatus: []amp.DomainStatusQuirk{{
			Range: amp.FirmwareRange{From: amp.MustParseFirmwareVersion("3.6"), To: amp.MustParseFirmwareVersion("3.7")},
			Kind:  amp.KindNotFound,
		}}},
		Firmware: func(amp.DeviceEndpoint) amp.FirmwareVersion { return amp.MustParseFirmwareVersion("3.6.1.2") },
	})
	_, err = quirked.GetDomainStatus(context.Background(), dev.Endpoint(), "web")
	assert.Equal(t, amp.KindNotFound, kindOf(t, err))
}

func TestGetDomainStatus(t *testing.T) {
	inner := "<dp:Domain><dp:OpState>up</dp:OpState><dp:ConfigState>modified</dp:ConfigState>" +
		"<dp:DebugState>false</dp:DebugState><dp:QuiesceState>quiesced</dp:QuiesceState></dp:Domain>"

	c, dev := newClient(t, amp.V3, reply(amp.V3, "GetDomainStatusResponse", inner))
	st, err := c.GetDomainStatus(context.Background(), dev.Endpoint(), "web")
	require.NoError(t, err)
	assert.Equal(t, &DomainStatus{OpState: "up", ConfigState: "modified", QuiesceState: "quiesced"}, st)

	c2, dev2 := newClient(t, amp.V2, reply(amp.V2, "GetDomainStatusResponse", inner))
	st, err = c2.GetDomainStatus(context.Background(), dev2.Endpoint(), "web")
	require.NoError(t, err)
	assert.Empty(t, st.QuiesceState)
}

func TestGetDeviceMetadata(t *testing.T) {
	inner := `<dp:DeviceName>xi52-lab</dp:DeviceName><dp:SerialNumber>13002C1</dp:SerialNumber>` +
		`<dp:ModelType>9005</dp:ModelType><dp:DeviceFeature>MQ</dp:DeviceFeature><dp:DeviceFeature>TAM</dp:DeviceFeature>` +
		`<dp:FirmwareVersion>XI52.3.8.1.4</dp:FirmwareVersion>` +
		`<dp:ManagementInterface type="SOAP">5550</dp:ManagementInterface>` +
		`<dp:SupportedCommands><dp:Command>Ping</dp:Command><dp:Command>GetDomain</dp:Command><dp:Command>FutureThing</dp:Command></dp:SupportedCommands>`
	c, dev := newClient(t, amp.V2, reply(amp.V2, "GetDeviceInfoResponse", inner))
	md, err := c.GetDeviceMetadata(context.Background(), dev.Endpoint())
	require.NoError(t, err)

	assert.Equal(t, "13002C1", md.SerialNumber)
	assert.Equal(t, []string{"MQ", "TAM"}, md.Features)
	assert.Equal(t, 5550, md.ManagementPort)
	assert.Equal(t, "3.8.1.4", md.Firmware().String())
	assert.True(t, md.ListsOperations)
	assert.True(t, Supports(c, md, amp.OpPing))
	assert.False(t, Supports(c, md, amp.OpSetFile))
	assert.False(t, Supports(c, md, amp.OpSecureBackup))

	missing, dev2 := newClient(t, amp.V2, reply(amp.V2, "GetDeviceInfoResponse", "<dp:DeviceName>x</dp:DeviceName>"))
	_, err = missing.GetDeviceMetadata(context.Background(), dev2.Endpoint())
	assert.Equal(t, amp.KindProtocol, kindOf(t, err))
}

func TestSetFirmwareStreams(t *testing.T) {
	image := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}, 300<<10)
	c, dev := newClient(t, amp.V3, reply(amp.V3, "SetFirmwareResponse", "<dp:Status>ok</dp:Status>"))
	require.NoError(t, c.SetFirmware(context.Background(), dev.Endpoint(), bytes.NewReader(image), true))

	reqs := dev.Requests()
	require.Len(t, reqs, 1)
	env := string(reqs[0].Envelope)
	assert.Contains(t, env, "<AcceptLicense/>")
	start := strings.Index(env, "<Firmware>") + len("<Firmware>")
	end := strings.Index(env, "</Firmware>")
	require.True(t, end > start)
	received, err := base64.StdEncoding.DecodeString(env[start:end])
	require.NoError(t, err)
	assert.Equal(t, image, received)
}

func TestBufferedBlobLimit(t *testing.T) {
	dev := appliance.New(t, reply(amp.V3, "RestoreDeviceResponse", "<dp:Status>ok</dp:Status>"))
	c := New(amp.MustDescriptor(amp.V3), transport.New(dev.Trust, nil), Options{MaxBlobBytes: 16})
	err := c.SetDeviceSettings(context.Background(), dev.Endpoint(), make([]byte, 64))
	assert.Equal(t, amp.KindExecution, kindOf(t, err))
	assert.Zero(t, dev.Calls())
}

func TestDeleteService(t *testing.T) {
	inner := `<dp:DeleteResults>` +
		`<dp:Result class="MultiProtocolGateway" name="gw" status="deleted"/>` +
		`<dp:Result class="XMLManager" name="default" status="IN-USE"/>` +
		`</dp:DeleteResults>`
	c, dev := newClient(t, amp.V2, reply(amp.V2, "DeleteServiceResponse", inner))
	results, err := c.DeleteService(context.Background(), dev.Endpoint(), "web",
		ServiceObject{Class: "MultiProtocolGateway", Name: "gw"}, nil, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Deleted())
	assert.False(t, results[1].Deleted())
	assert.Equal(t, "IN-USE", results[1].Status)
	assert.Contains(t, string(dev.Requests()[0].Envelope), `<Object class="MultiProtocolGateway" name="gw"></Object>`)
}

func TestConcurrentDevices(t *testing.T) {
	ca := tlstest.NewAuthority(t, t.TempDir(), "Fleet CA")
	desc := amp.MustDescriptor(amp.V3)

	const n = 12
	devs := make([]*appliance.Device, n)
	for i := range devs {
		serial := fmt.Sprintf("SN%03d", i)
		broken := i%4 == 0
		devs[i] = appliance.NewWithAuthority(t, ca, func(*appliance.Request) appliance.Reply {
			if broken {
				return appliance.Reply{Status: http.StatusBadGateway}
			}
			return appliance.Respond(desc, "GetDeviceInfoResponse", "<dp:SerialNumber>"+serial+"</dp:SerialNumber>")
		})
	}

	// One client and one trust context for the whole fleet.
	c := New(desc, transport.New(devs[0].Trust, nil), Options{})
	serials := make([]string, n)
	errs := make([]error, n)
	var g errgroup.Group
	for i := range devs {
		i := i
		g.Go(func() error {
			md, err := c.GetDeviceMetadata(context.Background(), devs[i].Endpoint())
			errs[i] = err
			if md != nil {
				serials[i] = md.SerialNumber
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := range devs {
		if i%4 == 0 {
			assert.True(t, errors.Is(errs[i], amp.ErrIO), "device %d", i)
			continue
		}
		assert.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("SN%03d", i), serials[i])
	}
}

func TestEveryOperationRoundTrip(t *testing.T) {
	desc := amp.MustDescriptor(amp.V3)
	ok := "<dp:Status>ok</dp:Status>"
	report := base64.StdEncoding.EncodeToString([]byte("report body"))
	settings := base64.StdEncoding.EncodeToString([]byte("settings"))
	bodies := map[string]string{
		"GetErrorReport":            `<dp:ErrorReport location="temporary:///" name="error-report.txt">` + report + `</dp:ErrorReport>`,
		"GetToken":                  "<dp:Token>saml-token</dp:Token>",
		"BackupDevice":              "<dp:Settings>" + settings + "</dp:Settings>",
		"GetDomainList":             "<dp:Domain>default</dp:Domain>",
		"GetServiceListFromExport":  `<dp:Services><dp:Object class="MultiProtocolGateway" name="gw"/></dp:Services>`,
		"GetInterDependentServices": `<dp:InterDependentServices><dp:Object class="XMLManager" name="mgr"/><dp:File name="local:///a.xsl"/></dp:InterDependentServices>`,
		"GetReferencedObjects":      `<dp:ReferencedObjects><dp:Object class="HTTPSourceProtocolHandler" name="fsh"/></dp:ReferencedObjects>`,
	}
	c, dev := newClient(t, amp.V3, func(req *appliance.Request) appliance.Reply {
		op := strings.TrimSuffix(req.Op, "Request")
		if body, found := bodies[op]; found {
			return appliance.Respond(desc, op+"Response", body)
		}
		return appliance.Respond(desc, op+"Response", ok)
	})
	ctx := context.Background()
	ep := dev.Endpoint()
	gw := ServiceObject{Class: "MultiProtocolGateway", Name: "gw"}

	rep, err := c.GetErrorReport(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, "error-report.txt", rep.Name)
	assert.Equal(t, "report body", string(rep.Content))

	token, err := c.GetSAMLToken(ctx, ep, "default")
	require.NoError(t, err)
	assert.Equal(t, "saml-token", token)

	data, err := c.GetDeviceSettings(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, "settings", string(data))

	domains, err := c.GetDomainList(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, domains)

	services, err := c.GetServiceListFromExport(ctx, ep, []byte("export"))
	require.NoError(t, err)
	assert.Equal(t, []ServiceObject{gw}, services)

	deps, err := c.GetInterDependentServices(ctx, ep, "default", nil, []ServiceObject{gw})
	require.NoError(t, err)
	assert.Equal(t, []ServiceObject{{Class: "XMLManager", Name: "mgr"}}, deps.Services)
	assert.Equal(t, []string{"local:///a.xsl"}, deps.Files)

	refs, err := c.GetReferencedObjects(ctx, ep, "default", gw)
	require.NoError(t, err)
	assert.Equal(t, []ServiceObject{{Class: "HTTPSourceProtocolHandler", Name: "fsh"}}, refs)

	statusOnly := []struct {
		op   string
		call func() error
	}{
		{"Reboot", func() error { return c.Reboot(ctx, ep) }},
		{"RestoreDevice", func() error { return c.SetDeviceSettings(ctx, ep, []byte("settings")) }},
		{"SecureBackup", func() error { return c.SecureBackup(ctx, ep, "backup-cert", "local:///backup") }},
		{"SecureRestore", func() error { return c.SecureRestore(ctx, ep, "backup-cred", "local:///backup") }},
		{"QuiesceDevice", func() error { return c.QuiesceDevice(ctx, ep, time.Minute) }},
		{"UnquiesceDevice", func() error { return c.UnquiesceDevice(ctx, ep) }},
		{"DeleteDomain", func() error { return c.DeleteDomain(ctx, ep, "web") }},
		{"StartDomain", func() error { return c.StartDomain(ctx, ep, "web") }},
		{"StopDomain", func() error { return c.StopDomain(ctx, ep, "web") }},
		{"RestartDomain", func() error { return c.RestartDomain(ctx, ep, "web") }},
		{"SetFile", func() error { return c.SetFile(ctx, ep, "web", "local:///a.xsl", []byte("<xsl/>")) }},
		{"QuiesceDomain", func() error { return c.QuiesceDomain(ctx, ep, "web", time.Minute) }},
		{"UnquiesceDomain", func() error { return c.UnquiesceDomain(ctx, ep, "web") }},
		{"QuiesceService", func() error { return c.QuiesceService(ctx, ep, "web", []ServiceObject{gw}, time.Minute) }},
		{"UnquiesceService", func() error { return c.UnquiesceService(ctx, ep, "web", []ServiceObject{gw}) }},
	}
	for _, test := range statusOnly {
		t.Run(test.op, func(t *testing.T) {
			before := dev.Calls()
			require.NoError(t, test.call())
			require.Equal(t, before+1, dev.Calls())
			last := dev.Requests()[before]
			assert.Equal(t, test.op+"Request", last.Op)
			assert.Equal(t, desc.Path, last.Path)
			assert.Equal(t, appliance.Username, last.Username)
		})
	}
}
