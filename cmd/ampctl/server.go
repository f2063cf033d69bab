package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cfamp/api/schemas"
	"github.com/cloudflare/cfamp/notify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

type listener struct {
	receiver *notify.Receiver
	registry *inventoryRegistry
	devices  []*Device
}

func (l *listener) ServeInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	received, recent := l.registry.snapshot()
	ir := schemas.InfoResult{
		Listening:     l.receiver.Addr().String(),
		CallbackURL:   l.receiver.CallbackURL(),
		Devices:       make([]schemas.OutputDevice, 0, len(l.devices)),
		Received:      received,
		Notifications: recent,
	}
	for _, d := range l.devices {
		ir.Devices = append(ir.Devices, outputDevice(d))
	}
	enc := json.NewEncoder(w)
	enc.Encode(ir)
}

func (l *listener) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if l.receiver.Addr() != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Not listening"))
}

func (l *listener) handler(metricsPath, infoPath, healthPath, corsOrigin string, corsCreds bool) http.Handler {
	r := http.NewServeMux()
	r.HandleFunc(infoPath, l.ServeInfo)
	r.HandleFunc(healthPath, l.ServeHealth)
	r.Handle(metricsPath, promhttp.Handler())

	return cors.New(cors.Options{
		AllowedOrigins:   strings.Split(corsOrigin, ","),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowCredentials: corsCreds,
	}).Handler(r)
}

// listen runs the notification receiver until ctx is done. With
// --listen.subscribe every device with a serial is subscribed on start and
// unsubscribed on the way out.
func (a *ampctl) listen(ctx context.Context) error {
	opts := notify.Options{
		Address:         *ListenAddr,
		AdvertiseHost:   *ListenAdvertise,
		MaxBodyBytes:    *ListenMaxBody,
		AllowedNetworks: *ListenAllow,
		Log:             log.StandardLogger(),
	}
	if *ListenTLS {
		opts.Trust = a.trust
	}
	registry := newInventoryRegistry(a.devices, *ListenKeep)
	receiver, err := notify.New(opts, registry)
	if err != nil {
		return err
	}
	if err := receiver.Start(ctx); err != nil {
		return err
	}
	defer receiver.Stop()

	var callback string
	if *ListenSubscribe {
		callback, err = subscribeCallback(*CallbackURL, receiver.CallbackURL())
		if err != nil {
			return err
		}
	}

	l := &listener{receiver: receiver, registry: registry, devices: a.devices}
	srv := &http.Server{
		Addr:    *Addr,
		Handler: l.handler(*MetricsPath, *InfoPath, *HealthPath, *CorsOrigins, *CorsCreds),
	}
	go func() {
		log.Infof("Serving HTTP on %v", *Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server: %v", err)
		}
	}()

	subscribed := a.subscribeAll(ctx, callback)

	<-ctx.Done()
	log.Info("Shutting down")

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if len(subscribed) > 0 {
		a.run(shutdown, operations["unsubscribe"], subscribed, nil)
	}
	return srv.Shutdown(shutdown)
}

// subscribeCallback picks the URL devices push to: the configured one, else
// the receiver's own. A receiver on an unspecified address has no URL a
// device could reach.
func subscribeCallback(configured, receiverURL string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if receiverURL == "" {
		return "", errors.New("receiver listens on an unspecified address: set --listen.advertise or --callback to subscribe devices")
	}
	return receiverURL, nil
}

func (a *ampctl) subscribeAll(ctx context.Context, callbackURL string) []*Device {
	if !*ListenSubscribe {
		return nil
	}
	targets := make([]*Device, 0)
	for _, d := range a.devices {
		if d.Serial != "" {
			targets = append(targets, d)
		}
	}
	*CallbackURL = callbackURL
	results := a.run(ctx, operations["subscribe"], targets, nil)

	subscribed := make([]*Device, 0, len(targets))
	for i, r := range results.Results {
		if r.Error == nil {
			subscribed = append(subscribed, targets[i])
			continue
		}
		log.Warnf("Device %s will not push notifications: %s", r.Device.Name, r.Error.Message)
	}
	log.Infof("Subscribed %d of %d devices to %s", len(subscribed), len(targets), *CallbackURL)
	return subscribed
}
