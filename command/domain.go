package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/cfamp/amp"
)

const (
	compareIdentical = "identical"
	compareDifferent = "different"
)

func (c *Client) GetDomainList(ctx context.Context, dev amp.DeviceEndpoint) ([]string, error) {
	op := amp.OpGetDomainList
	var domains []string
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp domainListResponse
		if err := c.exchange(ctx, dev, op, &emptyRequest{XMLName: c.requestName(op)}, &resp); err != nil {
			return err
		}
		// Every device has at least the default domain.
		if err := c.requirePayload(dev, op, resp.Status, len(resp.Domains) > 0); err != nil {
			return err
		}
		for _, d := range resp.Domains {
			domains = append(domains, strings.TrimSpace(d))
		}
		return nil
	})
	return domains, err
}

// GetDomain returns the exported configuration of a domain. A domain the
// device does not have is reported as an explicitly nil Config element and
// surfaces as a not found error.
func (c *Client) GetDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) ([]byte, error) {
	op := amp.OpGetDomain
	var config []byte
	if !c.Supports(op) {
		return nil, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return nil, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp domainConfigResponse
		if err := c.exchange(ctx, dev, op, &domainRequest{XMLName: c.requestName(op), Domain: domain}, &resp); err != nil {
			return err
		}
		switch {
		case resp.Config == nil && resp.Status == nil:
			return c.fail(dev, op, amp.KindProtocol, "neither configuration nor status in response", nil)
		case resp.Config == nil && amp.StatusIs(*resp.Status, amp.StatusError):
			return c.fail(dev, op, amp.KindExecution, "device reported an error", nil)
		case resp.Config == nil:
			return c.fail(dev, op, amp.KindProtocol, "configuration missing from response", nil)
		case resp.Config.isNil():
			return c.fail(dev, op, amp.KindNotFound, fmt.Sprintf("domain %q not found", domain), nil)
		}
		var err error
		config, err = c.decodeBlob(dev, op, resp.Config.Value)
		return err
	})
	return config, err
}

func (c *Client) SetDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string, export []byte, policy *DeploymentPolicy) error {
	op := amp.OpSetDomain
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return err
	}
	if policy != nil {
		switch {
		case c.desc.Policy == amp.PolicyUnsupported || !c.Supports(amp.OpSetDomainPolicy):
			return c.fail(dev, amp.OpSetDomainPolicy, amp.KindUnsupported,
				fmt.Sprintf("deployment policies are not available in protocol version %s", c.desc.Version), nil)
		case policy.isReference() && c.desc.Policy != amp.PolicyExportOrReference:
			return c.fail(dev, amp.OpSetDomainPolicy, amp.KindUnsupported,
				fmt.Sprintf("policy references are not available in protocol version %s", c.desc.Version), nil)
		case !policy.isReference() && len(policy.Export) == 0:
			return &amp.ValidationError{Field: "deployment policy", Reason: "needs an export or a policy object"}
		}
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		blob, err := c.encodeBlob(dev, op, export)
		if err != nil {
			return err
		}
		req := &setDomainRequest{XMLName: c.requestName(op), Domain: domain, Config: blob}
		if policy != nil {
			req.Policy = &deploymentPolicyElement{}
			if policy.isReference() {
				req.Policy.Domain = policy.PolicyDomain
				req.Policy.Object = policy.PolicyObject
			} else {
				req.Policy.Configuration, err = c.encodeBlob(dev, op, policy.Export)
				if err != nil {
					return err
				}
			}
		}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

// domainStatusCall sends a request naming only a domain and expects a status.
func (c *Client) domainStatusCall(ctx context.Context, dev amp.DeviceEndpoint, op amp.Op, domain string) error {
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return err
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, &domainRequest{XMLName: c.requestName(op), Domain: domain}, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) DeleteDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error {
	return c.domainStatusCall(ctx, dev, amp.OpDeleteDomain, domain)
}

func (c *Client) StartDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error {
	return c.domainStatusCall(ctx, dev, amp.OpStartDomain, domain)
}

func (c *Client) StopDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error {
	return c.domainStatusCall(ctx, dev, amp.OpStopDomain, domain)
}

func (c *Client) RestartDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error {
	return c.domainStatusCall(ctx, dev, amp.OpRestartDomain, domain)
}

func (c *Client) UnquiesceDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error {
	return c.domainStatusCall(ctx, dev, amp.OpUnquiesceDomain, domain)
}

// GetDomainStatus has a firmware dependent answer when the device sends an
// error status without the domain element; see amp.Quirks.
func (c *Client) GetDomainStatus(ctx context.Context, dev amp.DeviceEndpoint, domain string) (*DomainStatus, error) {
	op := amp.OpGetDomainStatus
	var status *DomainStatus
	if !c.Supports(op) {
		return nil, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return nil, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp domainStatusResponse
		if err := c.exchange(ctx, dev, op, &domainRequest{XMLName: c.requestName(op), Domain: domain}, &resp); err != nil {
			return err
		}
		if resp.Domain == nil {
			if resp.Status != nil && amp.StatusIs(*resp.Status, amp.StatusError) {
				var fw amp.FirmwareVersion
				if c.opts.Firmware != nil {
					fw = c.opts.Firmware(dev)
				}
				kind := c.opts.Quirks.DomainStatusMissingKind(fw)
				return c.fail(dev, op, kind, fmt.Sprintf("device reported an error for domain %q status", domain), nil)
			}
			return c.fail(dev, op, amp.KindProtocol, "domain status missing from response", nil)
		}
		if resp.Status != nil && amp.StatusIs(*resp.Status, amp.StatusError) {
			return c.fail(dev, op, amp.KindExecution, "device reported an error", nil)
		}
		status = &DomainStatus{
			OpState:     strings.TrimSpace(resp.Domain.OpState),
			ConfigState: strings.TrimSpace(resp.Domain.ConfigState),
			DebugState:  amp.StatusIs(resp.Domain.DebugState, "true") || amp.StatusIs(resp.Domain.DebugState, "on"),
		}
		if c.desc.DomainQuiesceState {
			status.QuiesceState = strings.TrimSpace(resp.Domain.QuiesceState)
		}
		return nil
	})
	return status, err
}

// IsDomainDifferent compares the running configuration of a domain with an
// export.
func (c *Client) IsDomainDifferent(ctx context.Context, dev amp.DeviceEndpoint, domain string, export []byte) (bool, error) {
	op := amp.OpCompareConfig
	var different bool
	if !c.Supports(op) {
		return false, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return false, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		blob, err := c.encodeBlob(dev, op, export)
		if err != nil {
			return err
		}
		var resp compareConfigResponse
		if err := c.exchange(ctx, dev, op, &compareConfigRequest{XMLName: c.requestName(op), Domain: domain, Config: blob}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Result != nil); err != nil {
			return err
		}
		switch {
		case amp.StatusIs(*resp.Result, compareIdentical):
			different = false
		case amp.StatusIs(*resp.Result, compareDifferent):
			different = true
		default:
			return c.fail(dev, op, amp.KindProtocol, fmt.Sprintf("unrecognized compare result %q", *resp.Result), nil)
		}
		return nil
	})
	return different, err
}

func (c *Client) SetFile(ctx context.Context, dev amp.DeviceEndpoint, domain string, name string, content []byte) error {
	op := amp.OpSetFile
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return err
	}
	if err := requireName("file name", name); err != nil {
		return err
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		blob, err := c.encodeBlob(dev, op, content)
		if err != nil {
			return err
		}
		req := &setFileRequest{XMLName: c.requestName(op), Domain: domain, File: blobElement{Name: name, Value: blob}}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) QuiesceDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string, timeout time.Duration) error {
	op := amp.OpQuiesceDomain
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return err
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &quiesceRequest{XMLName: c.requestName(op), Domain: domain, Timeout: seconds(timeout)}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}
