package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/cfamp/amp"
	"gopkg.in/yaml.v3"
)

const PasswordEnv = "AMP_PASSWORD"

// Inventory is the YAML file describing the managed appliances.
//
//	defaults:
//	  version: "3.0"
//	  username: admin
//	devices:
//	  - name: xi52-a
//	    host: 192.0.2.10
//	    serial: "0000001"
//	    group: dc1
type Inventory struct {
	Defaults DeviceConfig   `yaml:"defaults"`
	Devices  []DeviceConfig `yaml:"devices"`
	Quirks   QuirksConfig   `yaml:"quirks"`
}

type DeviceConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Version  string `yaml:"version"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Serial and Group route pushed notifications to their owner.
	Serial string `yaml:"serial"`
	Group  string `yaml:"group"`
	// Firmware selects per-firmware quirks; metadata is not queried for it.
	Firmware string `yaml:"firmware"`
}

type QuirksConfig struct {
	DomainStatus []struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
		Kind string `yaml:"kind"`
	} `yaml:"domain-status"`
}

type Device struct {
	Name     string
	Endpoint amp.DeviceEndpoint
	Version  amp.ProtocolVersion
	Serial   string
	Group    string
	Firmware amp.FirmwareVersion
}

func LoadInventory(path string) ([]*Device, *amp.Quirks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return DecodeInventory(data, os.Getenv)
}

// DecodeInventory applies defaults and validates every entry. A non-empty
// AMP_PASSWORD replaces every configured password.
func DecodeInventory(data []byte, getenv func(string) string) ([]*Device, *amp.Quirks, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, nil, fmt.Errorf("inventory: %w", err)
	}
	override := getenv(PasswordEnv)

	devices := make([]*Device, 0, len(inv.Devices))
	names := make(map[string]struct{})
	for i, dc := range inv.Devices {
		dc = dc.withDefaults(inv.Defaults)
		if dc.Name == "" {
			dc.Name = dc.Host
		}
		if dc.Host == "" {
			return nil, nil, fmt.Errorf("inventory: device %d has no host", i)
		}
		if _, dup := names[dc.Name]; dup {
			return nil, nil, fmt.Errorf("inventory: device %q listed twice", dc.Name)
		}
		names[dc.Name] = struct{}{}

		if dc.Version == "" {
			dc.Version = amp.V3.String()
		}
		version, err := amp.ParseVersion(dc.Version)
		if err != nil {
			return nil, nil, fmt.Errorf("inventory: device %q: %w", dc.Name, err)
		}
		var fw amp.FirmwareVersion
		if dc.Firmware != "" {
			if fw, err = amp.ParseFirmwareVersion(dc.Firmware); err != nil {
				return nil, nil, fmt.Errorf("inventory: device %q: %w", dc.Name, err)
			}
		}
		if override != "" {
			dc.Password = override
		}
		devices = append(devices, &Device{
			Name: dc.Name,
			Endpoint: amp.DeviceEndpoint{
				Host:     dc.Host,
				Port:     dc.Port,
				Username: dc.Username,
				Password: dc.Password,
			},
			Version:  version,
			Serial:   dc.Serial,
			Group:    dc.Group,
			Firmware: fw,
		})
	}

	quirks, err := inv.Quirks.build()
	if err != nil {
		return nil, nil, err
	}
	return devices, quirks, nil
}

func (dc DeviceConfig) withDefaults(def DeviceConfig) DeviceConfig {
	if dc.Port == 0 {
		dc.Port = def.Port
	}
	if dc.Version == "" {
		dc.Version = def.Version
	}
	if dc.Username == "" {
		dc.Username = def.Username
	}
	if dc.Password == "" {
		dc.Password = def.Password
	}
	if dc.Group == "" {
		dc.Group = def.Group
	}
	return dc
}

func (qc QuirksConfig) build() (*amp.Quirks, error) {
	q := &amp.Quirks{}
	for _, o := range qc.DomainStatus {
		var kind amp.ErrorKind
		found := false
		for k, name := range amp.ErrorKindToName {
			if strings.EqualFold(name, o.Kind) {
				kind, found = k, true
			}
		}
		if !found {
			return nil, fmt.Errorf("inventory: unknown error kind %q in domain-status quirk", o.Kind)
		}
		var r amp.FirmwareRange
		var err error
		if o.From != "" {
			if r.From, err = amp.ParseFirmwareVersion(o.From); err != nil {
				return nil, fmt.Errorf("inventory: quirk: %w", err)
			}
		}
		if o.To != "" {
			if r.To, err = amp.ParseFirmwareVersion(o.To); err != nil {
				return nil, fmt.Errorf("inventory: quirk: %w", err)
			}
		}
		q.DomainStatus = append(q.DomainStatus, amp.DomainStatusQuirk{Range: r, Kind: kind})
	}
	return q, nil
}

func findDevice(devices []*Device, name string) (*Device, error) {
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %q not in inventory", name)
}
