package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/api/schemas"
	"github.com/cloudflare/cfamp/command"
	"github.com/cloudflare/cfamp/notify"
	"github.com/cloudflare/cfamp/transport"
	"github.com/cloudflare/cfamp/trust"

	"github.com/getsentry/sentry-go"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	jcfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/sync/errgroup"
)

var (
	version    = ""
	buildinfos = ""
	AppVersion = "ampctl " + version + " " + buildinfos
	AllowRoot  = flag.Bool("allow.root", false, "Allow starting as root")

	InventoryPath = flag.StringP("inventory", "i", "devices.yaml", "YAML device inventory")
	LogLevel      = flag.String("loglevel", "info", "Log level")
	LogBodies     = flag.Bool("log.bodies", false, "Log redacted SOAP documents at debug level")

	// Trust Options
	KeyStore         = flag.String("keystore", "", "PEM key store with client certificates and keys")
	KeyStorePassword = flag.String("keystore.password", "", "Password of encrypted keys in the key store (env AMP_KEYSTORE_PASSWORD)")
	SystemRoots      = flag.Bool("trust.system", true, "Trust the platform root certificates")
	TrustCAs         = flag.StringSlice("trust.ca", nil, "Extra CA files or directories")
	DynamicCerts     = flag.String("trust.dynamic", "", "File of certificates provisioned at runtime")

	// Transport Options
	Timeout     = flag.Duration("timeout", transport.DefaultTimeout, "Connection and response header timeout")
	MaxResponse = flag.Int64("max.response", transport.DefaultMaxResponseBytes, "Maximum size of a device response")
	UserAgent   = flag.String("useragent", fmt.Sprintf("cfamp/%v (+https://github.com/cloudflare/cfamp)", strings.TrimSpace(version)), "User-Agent header")

	// Operation Options
	All          = flag.BoolP("all", "a", false, "Run against every device of the inventory")
	Parallel     = flag.Int("parallel", 16, "Devices contacted at once with --all")
	OpTimeout    = flag.Duration("op.timeout", 10*time.Minute, "Deadline of one operation")
	Output       = flag.StringP("out", "o", "", "File receiving a downloaded blob (suffixed with the device name with --all)")
	Subscription = flag.String("subscription", "ampctl", "Subscription identifier")
	Topics       = flag.StringSlice("topics", []string{string(amp.TopicAll)}, "Notification topics")
	CallbackURL  = flag.String("callback", "", "Notification callback URL")
	AcceptLic    = flag.Bool("accept.license", false, "Accept the firmware license")
	Quiesce      = flag.Duration("quiesce.timeout", time.Minute, "Quiesce timeout")
	PolicyFile   = flag.String("policy.file", "", "Deployment policy export applied by set-domain")
	PolicyDomain = flag.String("policy.domain", "", "Domain holding the deployment policy object")
	PolicyObject = flag.String("policy.object", "", "Deployment policy object applied by set-domain")
	Objects      = flag.StringSlice("objects", nil, "Service objects as class:name")
	DeleteFiles  = flag.Bool("delete.files", false, "Also delete files referenced by the service")

	// Receiver Options
	ListenAddr      = flag.String("listen.addr", ":8443", "Notification listening address")
	ListenTLS       = flag.Bool("listen.tls", true, "Serve notifications over TLS")
	ListenAdvertise = flag.String("listen.advertise", "", "Host advertised in the callback URL")
	ListenAllow     = flag.StringSlice("listen.allow", nil, "Networks allowed to push notifications")
	ListenMaxBody   = flag.Int64("listen.max.body", notify.DefaultMaxBodyBytes, "Maximum notification size")
	ListenKeep      = flag.Int("listen.keep", 100, "Notifications kept per group for the info endpoint")
	ListenSubscribe = flag.Bool("listen.subscribe", false, "Subscribe every device with a serial to the receiver")

	// Serving Options
	Addr        = flag.String("http.addr", ":8081", "Listening address")
	MetricsPath = flag.String("http.metrics", "/metrics", "Prometheus metrics endpoint")
	InfoPath    = flag.String("http.info", "/infos", "Information URL")
	HealthPath  = flag.String("http.health", "/health", "Health URL")

	CorsOrigins = flag.String("cors.origins", "*", "Cors origins separated by comma")
	CorsCreds   = flag.Bool("cors.creds", false, "Cors enable credentials")

	// Debugging options
	Tracer    = flag.Bool("tracer", false, "Enable tracer")
	SentryDSN = flag.String("sentry.dsn", "", "Send errors to Sentry")

	Version = flag.Bool("version", false, "Print version")
)

func init() {
	registerCollectors(prometheus.DefaultRegisterer)
}

func registerCollectors(reg prometheus.Registerer) {
	for _, collectors := range [][]prometheus.Collector{
		trust.Collectors(),
		transport.Collectors(),
		command.Collectors(),
		notify.Collectors(),
	} {
		reg.MustRegister(collectors...)
	}
}

func runningAsRoot() bool {
	return os.Geteuid() == 0 || os.Getegid() == 0
}

// ampctl holds what every operation shares: the trust context, the
// transport and one command client per protocol version.
type ampctl struct {
	devices   []*Device
	quirks    *amp.Quirks
	trust     *trust.Builder
	transport *transport.Transport

	clientsLock sync.Mutex
	clients     map[amp.ProtocolVersion]*command.Client
}

func newAmpctl(devices []*Device, quirks *amp.Quirks) *ampctl {
	password := *KeyStorePassword
	if password == "" {
		password = os.Getenv("AMP_KEYSTORE_PASSWORD")
	}
	tb := trust.NewBuilder(trust.Options{
		KeyStorePath:       *KeyStore,
		KeyStorePassword:   password,
		SystemRoots:        *SystemRoots,
		SupplementaryPaths: *TrustCAs,
		DynamicCertsPath:   *DynamicCerts,
		Log:                log.StandardLogger(),
	})

	tr := transport.New(tb, log.StandardLogger())
	tr.UserAgent = *UserAgent
	tr.Timeout = *Timeout
	tr.MaxResponseBytes = *MaxResponse
	tr.LogBodies = *LogBodies

	return &ampctl{
		devices:   devices,
		quirks:    quirks,
		trust:     tb,
		transport: tr,
		clients:   make(map[amp.ProtocolVersion]*command.Client),
	}
}

func (a *ampctl) client(v amp.ProtocolVersion) (*command.Client, error) {
	a.clientsLock.Lock()
	defer a.clientsLock.Unlock()
	if c, ok := a.clients[v]; ok {
		return c, nil
	}
	c, err := command.NewForVersion(v, a.transport, command.Options{
		Quirks:   a.quirks,
		Firmware: a.firmware,
		Tracer:   opentracing.GlobalTracer(),
		Log:      log.StandardLogger(),
	})
	if err != nil {
		return nil, err
	}
	a.clients[v] = c
	return c, nil
}

func (a *ampctl) firmware(dev amp.DeviceEndpoint) amp.FirmwareVersion {
	for _, d := range a.devices {
		if d.Endpoint.Address() == dev.Address() {
			return d.Firmware
		}
	}
	return nil
}

func outputDevice(d *Device) schemas.OutputDevice {
	return schemas.OutputDevice{
		Name:    d.Name,
		Address: d.Endpoint.Address(),
		Version: d.Version.String(),
	}
}

// runOne executes an operation against one device and never fails: the
// outcome is recorded in the result.
func (a *ampctl) runOne(ctx context.Context, op *operation, d *Device, args []string) *schemas.OutputResult {
	res := &schemas.OutputResult{
		Device:    outputDevice(d),
		Operation: op.name,
	}
	t1 := time.Now()
	err := func() error {
		c, err := a.client(d.Version)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, *OpTimeout)
		defer cancel()
		return op.run(ctx, c, d, args, res)
	}()
	res.Duration = time.Since(t1).Seconds()

	if err != nil {
		res.Error = &schemas.OutputError{Kind: "local", Message: err.Error()}
		if kind, ok := amp.KindOf(err); ok {
			res.Error.Kind = kind.String()
		}
		log.Errorf("%s on %s: %v", op.name, d.Name, err)
		report(err)
	}
	return res
}

func report(err error) {
	var ampErr *amp.Error
	if errors.As(err, &ampErr) && ampErr.Kind == amp.KindUnsupported {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if ampErr != nil {
			ampErr.SetSentryScope(scope)
		}
		sentry.CaptureException(err)
	})
}

func (a *ampctl) run(ctx context.Context, op *operation, targets []*Device, args []string) *schemas.ResultsJSON {
	results := make([]*schemas.OutputResult, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	if *Parallel > 0 {
		g.SetLimit(*Parallel)
	}
	for i, d := range targets {
		i, d := i, d
		g.Go(func() error {
			results[i] = a.runOne(ctx, op, d, args)
			return nil
		})
	}
	g.Wait()

	out := &schemas.ResultsJSON{Results: results}
	out.Metadata.Generated = int(time.Now().Unix())
	for _, r := range results {
		if r.Error != nil {
			out.Metadata.Failures++
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: ampctl [flags] <command> [<device>] [args...]\n       ampctl [flags] listen\n\nCommands:\n")
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		op := operations[name]
		fmt.Fprintf(os.Stderr, "  %-20s %s\n", strings.TrimSpace(name+" "+strings.Join(op.args, " ")), op.help)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flag.Usage = usage
	flag.Parse()
	if *Version {
		fmt.Println(AppVersion)
		os.Exit(0)
	}
	if !*AllowRoot && runningAsRoot() {
		log.Fatal("Running as root is not allowed by default")
	}

	lvl, err := log.ParseLevel(*LogLevel)
	if err != nil {
		log.Fatalf("Unknown log level %q", *LogLevel)
	}
	log.SetLevel(lvl)

	sentryDsn := *SentryDSN
	if sentryDsn == "" {
		sentryDsn = os.Getenv("SENTRY_DSN")
	}
	if sentryDsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     sentryDsn,
			Release: AppVersion,
		})
		if err != nil {
			log.Fatalf("failed initializing sentry: %s", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if *Tracer {
		cfg, err := jcfg.FromEnv()
		if err != nil {
			log.Fatal(err)
		}
		tracer, closer, err := cfg.NewTracer()
		if err != nil {
			log.Fatal(err)
		}
		defer closer.Close()
		opentracing.SetGlobalTracer(tracer)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	devices, quirks, err := LoadInventory(*InventoryPath)
	if err != nil {
		log.Fatal(err)
	}
	a := newAmpctl(devices, quirks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "listen" {
		if err := a.listen(ctx); err != nil {
			log.Fatal(err)
		}
		return
	}

	op, ok := operations[args[0]]
	if !ok {
		usage()
		os.Exit(2)
	}
	targets, opArgs, err := selectTargets(devices, args[1:], *All)
	if err != nil {
		log.Fatal(err)
	}
	if len(opArgs) != len(op.args) {
		log.Fatalf("%s expects: %s", op.name, strings.Join(op.args, " "))
	}

	results := a.run(ctx, op, targets, opArgs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatal(err)
	}
	if results.Metadata.Failures > 0 {
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func selectTargets(devices []*Device, args []string, all bool) ([]*Device, []string, error) {
	if all {
		if len(devices) == 0 {
			return nil, nil, fmt.Errorf("inventory is empty")
		}
		return devices, args, nil
	}
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("missing device name (or --all)")
	}
	d, err := findDevice(devices, args[0])
	if err != nil {
		return nil, nil, err
	}
	return []*Device{d}, args[1:], nil
}
