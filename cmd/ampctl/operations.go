package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/api/schemas"
	"github.com/cloudflare/cfamp/command"
)

type operation struct {
	name string
	args []string
	help string
	run  func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error
}

var operations = map[string]*operation{}

func register(op *operation) {
	operations[op.name] = op
}

func init() {
	// Device
	register(&operation{name: "ping", help: "Check the subscription of the device",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			state, err := c.PingDevice(ctx, d.Endpoint, *Subscription)
			setState(res, state)
			return err
		}})
	register(&operation{name: "subscribe", help: "Subscribe to notifications (--callback, --topics)",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			state, err := c.SubscribeToDevice(ctx, d.Endpoint, *Subscription, *Topics, *CallbackURL)
			setState(res, state)
			return err
		}})
	register(&operation{name: "unsubscribe", help: "Remove the subscription",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			return c.UnsubscribeFromDevice(ctx, d.Endpoint, *Subscription)
		}})
	register(&operation{name: "metadata", help: "Device information and firmware level",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			md, err := c.GetDeviceMetadata(ctx, d.Endpoint)
			if err != nil {
				return err
			}
			res.Metadata = outputMetadata(md)
			return nil
		}})
	register(&operation{name: "reboot", help: "Reboot the device",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			return c.Reboot(ctx, d.Endpoint)
		}})
	register(&operation{name: "error-report", help: "Download the latest error report (--out)",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			er, err := c.GetErrorReport(ctx, d.Endpoint)
			if err != nil {
				return err
			}
			res.Files = []string{er.Location + er.Name}
			return saveBlob(d, res, er.Content)
		}})
	register(&operation{name: "saml-token", args: []string{"<domain>"}, help: "Request a SAML token for a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			token, err := c.GetSAMLToken(ctx, d.Endpoint, args[0])
			res.Token = token
			return err
		}})
	register(&operation{name: "settings", help: "Download the device settings (--out)",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			data, err := c.GetDeviceSettings(ctx, d.Endpoint)
			if err != nil {
				return err
			}
			return saveBlob(d, res, data)
		}})
	register(&operation{name: "set-settings", args: []string{"<file>"}, help: "Upload device settings",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res.Bytes = len(data)
			return c.SetDeviceSettings(ctx, d.Endpoint, data)
		}})
	register(&operation{name: "firmware", args: []string{"<image>"}, help: "Install a firmware image (--accept.license)",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return c.SetFirmware(ctx, d.Endpoint, f, *AcceptLic)
		}})
	register(&operation{name: "backup", args: []string{"<certificate>", "<destination>"}, help: "Secure backup",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.SecureBackup(ctx, d.Endpoint, args[0], args[1])
		}})
	register(&operation{name: "restore", args: []string{"<credential>", "<source>"}, help: "Secure restore",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.SecureRestore(ctx, d.Endpoint, args[0], args[1])
		}})
	register(&operation{name: "quiesce", help: "Quiesce the device (--quiesce.timeout)",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			return c.QuiesceDevice(ctx, d.Endpoint, *Quiesce)
		}})
	register(&operation{name: "unquiesce", help: "Unquiesce the device",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			return c.UnquiesceDevice(ctx, d.Endpoint)
		}})

	// Domain
	register(&operation{name: "domains", help: "List domains",
		run: func(ctx context.Context, c command.Commands, d *Device, _ []string, res *schemas.OutputResult) error {
			domains, err := c.GetDomainList(ctx, d.Endpoint)
			res.Domains = domains
			return err
		}})
	register(&operation{name: "get-domain", args: []string{"<domain>"}, help: "Export a domain (--out)",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := c.GetDomain(ctx, d.Endpoint, args[0])
			if err != nil {
				return err
			}
			return saveBlob(d, res, data)
		}})
	register(&operation{name: "set-domain", args: []string{"<domain>", "<export>"}, help: "Import a domain (--policy.*)",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			policy, err := deploymentPolicy()
			if err != nil {
				return err
			}
			res.Bytes = len(data)
			return c.SetDomain(ctx, d.Endpoint, args[0], data, policy)
		}})
	register(&operation{name: "delete-domain", args: []string{"<domain>"}, help: "Delete a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.DeleteDomain(ctx, d.Endpoint, args[0])
		}})
	register(&operation{name: "domain-status", args: []string{"<domain>"}, help: "Domain operational state",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			st, err := c.GetDomainStatus(ctx, d.Endpoint, args[0])
			if err != nil {
				return err
			}
			res.Status = &schemas.OutputDomainStatus{
				OpState:      st.OpState,
				ConfigState:  st.ConfigState,
				DebugState:   st.DebugState,
				QuiesceState: st.QuiesceState,
			}
			return nil
		}})
	register(&operation{name: "start-domain", args: []string{"<domain>"}, help: "Start a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.StartDomain(ctx, d.Endpoint, args[0])
		}})
	register(&operation{name: "stop-domain", args: []string{"<domain>"}, help: "Stop a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.StopDomain(ctx, d.Endpoint, args[0])
		}})
	register(&operation{name: "restart-domain", args: []string{"<domain>"}, help: "Restart a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.RestartDomain(ctx, d.Endpoint, args[0])
		}})
	register(&operation{name: "compare", args: []string{"<domain>", "<export>"}, help: "Compare a domain with an export",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			different, err := c.IsDomainDifferent(ctx, d.Endpoint, args[0], data)
			if err != nil {
				return err
			}
			res.Different = &different
			return nil
		}})
	register(&operation{name: "set-file", args: []string{"<domain>", "<name>", "<file>"}, help: "Upload a file into a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			res.Bytes = len(data)
			return c.SetFile(ctx, d.Endpoint, args[0], args[1], data)
		}})
	register(&operation{name: "quiesce-domain", args: []string{"<domain>"}, help: "Quiesce a domain (--quiesce.timeout)",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.QuiesceDomain(ctx, d.Endpoint, args[0], *Quiesce)
		}})
	register(&operation{name: "unquiesce-domain", args: []string{"<domain>"}, help: "Unquiesce a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			return c.UnquiesceDomain(ctx, d.Endpoint, args[0])
		}})

	// Services
	register(&operation{name: "services", args: []string{"<domain>"}, help: "List services of a domain",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			services, err := c.GetServiceListFromDomain(ctx, d.Endpoint, args[0])
			res.Services = outputServices(services)
			return err
		}})
	register(&operation{name: "export-services", args: []string{"<export>"}, help: "List services of an export",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			services, err := c.GetServiceListFromExport(ctx, d.Endpoint, data)
			res.Services = outputServices(services)
			return err
		}})
	register(&operation{name: "dependencies", args: []string{"<domain>", "<export>"}, help: "Services and files the --objects depend on",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			objects, err := parseObjects(*Objects)
			if err != nil {
				return err
			}
			deps, err := c.GetInterDependentServices(ctx, d.Endpoint, args[0], data, objects)
			if err != nil {
				return err
			}
			res.Services = outputServices(deps.Services)
			res.Files = deps.Files
			return nil
		}})
	register(&operation{name: "references", args: []string{"<domain>", "<class:name>"}, help: "Objects referenced by a service",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			object, err := parseObject(args[1])
			if err != nil {
				return err
			}
			refs, err := c.GetReferencedObjects(ctx, d.Endpoint, args[0], object)
			res.Services = outputServices(refs)
			return err
		}})
	register(&operation{name: "delete-service", args: []string{"<domain>", "<class:name>"}, help: "Delete a service, keeping --objects",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			object, err := parseObject(args[1])
			if err != nil {
				return err
			}
			exclude, err := parseObjects(*Objects)
			if err != nil {
				return err
			}
			results, err := c.DeleteService(ctx, d.Endpoint, args[0], object, exclude, *DeleteFiles)
			for _, r := range results {
				res.Deleted = append(res.Deleted, &schemas.OutputDeleteState{
					Class:  r.Object.Class,
					Name:   r.Object.Name,
					Status: r.Status,
				})
			}
			return err
		}})
	register(&operation{name: "quiesce-service", args: []string{"<domain>"}, help: "Quiesce the --objects (--quiesce.timeout)",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			objects, err := parseObjects(*Objects)
			if err != nil {
				return err
			}
			return c.QuiesceService(ctx, d.Endpoint, args[0], objects, *Quiesce)
		}})
	register(&operation{name: "unquiesce-service", args: []string{"<domain>"}, help: "Unquiesce the --objects",
		run: func(ctx context.Context, c command.Commands, d *Device, args []string, res *schemas.OutputResult) error {
			objects, err := parseObjects(*Objects)
			if err != nil {
				return err
			}
			return c.UnquiesceService(ctx, d.Endpoint, args[0], objects)
		}})
}

func setState(res *schemas.OutputResult, state amp.SubscriptionState) {
	res.Subscription = state.Kind().String()
	if url, ok := state.OriginalURL(); ok {
		res.OriginalURL = url
	}
}

func outputMetadata(md *command.DeviceMetadata) *schemas.OutputMetadata {
	out := &schemas.OutputMetadata{
		Name:            md.Name,
		SerialNumber:    md.SerialNumber,
		DeviceID:        md.DeviceID,
		ModelType:       md.ModelType,
		HardwareOptions: md.HardwareOptions,
		Features:        md.Features,
		ManagementPort:  md.ManagementPort,
		FirmwareVersion: md.FirmwareVersion,
		FirmwareLevel:   md.FirmwareLevel,
	}
	if md.ListsOperations {
		for _, op := range md.SupportedOperations.Ops() {
			out.Operations = append(out.Operations, op.String())
		}
	}
	return out
}

func outputServices(services []command.ServiceObject) []*schemas.OutputService {
	out := make([]*schemas.OutputService, 0, len(services))
	for _, s := range services {
		out = append(out, &schemas.OutputService{Class: s.Class, Name: s.Name})
	}
	return out
}

// saveBlob writes data to --out. With several targets the device name is
// appended so results do not overwrite each other.
func saveBlob(d *Device, res *schemas.OutputResult, data []byte) error {
	res.Bytes = len(data)
	if *Output == "" {
		return nil
	}
	path := *Output
	if *All {
		path = path + "." + d.Name
	}
	res.Files = append(res.Files, path)
	return os.WriteFile(path, data, 0600)
}

func deploymentPolicy() (*command.DeploymentPolicy, error) {
	if *PolicyFile == "" && *PolicyObject == "" {
		return nil, nil
	}
	policy := &command.DeploymentPolicy{
		PolicyDomain: *PolicyDomain,
		PolicyObject: *PolicyObject,
	}
	if *PolicyFile != "" {
		data, err := os.ReadFile(*PolicyFile)
		if err != nil {
			return nil, err
		}
		policy.Export = data
	}
	return policy, nil
}

func parseObject(s string) (command.ServiceObject, error) {
	class, name, ok := strings.Cut(s, ":")
	class, name = strings.TrimSpace(class), strings.TrimSpace(name)
	if !ok || class == "" || name == "" {
		return command.ServiceObject{}, fmt.Errorf("service object %q is not class:name", s)
	}
	return command.ServiceObject{Class: class, Name: name}, nil
}

func parseObjects(list []string) ([]command.ServiceObject, error) {
	objects := make([]command.ServiceObject, 0, len(list))
	for _, s := range list {
		o, err := parseObject(s)
		if err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, nil
}
