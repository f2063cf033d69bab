package command

import (
	"context"
	"time"

	"github.com/cloudflare/cfamp/amp"
)

func (c *Client) GetServiceListFromDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) ([]ServiceObject, error) {
	op := amp.OpGetServiceListFromDomain
	var services []ServiceObject
	if !c.Supports(op) {
		return nil, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return nil, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp serviceListResponse
		if err := c.exchange(ctx, dev, op, &domainRequest{XMLName: c.requestName(op), Domain: domain}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Services != nil); err != nil {
			return err
		}
		services = resp.Services.Objects
		return nil
	})
	return services, err
}

func (c *Client) GetServiceListFromExport(ctx context.Context, dev amp.DeviceEndpoint, export []byte) ([]ServiceObject, error) {
	op := amp.OpGetServiceListFromExport
	var services []ServiceObject
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		blob, err := c.encodeBlob(dev, op, export)
		if err != nil {
			return err
		}
		var resp serviceListResponse
		if err := c.exchange(ctx, dev, op, &exportRequest{XMLName: c.requestName(op), Config: blob}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Services != nil); err != nil {
			return err
		}
		services = resp.Services.Objects
		return nil
	})
	return services, err
}

// GetInterDependentServices resolves the services and files the given
// objects depend on, either in the domain or, when export is set, in the
// export.
func (c *Client) GetInterDependentServices(ctx context.Context, dev amp.DeviceEndpoint, domain string, export []byte, objects []ServiceObject) (*InterDependentServices, error) {
	op := amp.OpGetInterDependentServices
	var res *InterDependentServices
	if !c.Supports(op) {
		return nil, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, &amp.ValidationError{Field: "objects", Reason: "at least one service object is required"}
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &interDependentRequest{XMLName: c.requestName(op), Domain: domain, Objects: objects}
		if len(export) > 0 {
			blob, err := c.encodeBlob(dev, op, export)
			if err != nil {
				return err
			}
			req.Config = blob
		}
		var resp interDependentResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Services != nil); err != nil {
			return err
		}
		res = &InterDependentServices{Services: resp.Services.Objects}
		for _, f := range resp.Services.Files {
			res.Files = append(res.Files, f.Name)
		}
		return nil
	})
	return res, err
}

func (c *Client) GetReferencedObjects(ctx context.Context, dev amp.DeviceEndpoint, domain string, object ServiceObject) ([]ServiceObject, error) {
	op := amp.OpGetReferencedObjects
	var objects []ServiceObject
	if !c.Supports(op) {
		return nil, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return nil, err
	}
	if err := requireName("object name", object.Name); err != nil {
		return nil, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp referencedObjectsResponse
		if err := c.exchange(ctx, dev, op, &referencedObjectsRequest{XMLName: c.requestName(op), Domain: domain, Object: object}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Objects != nil); err != nil {
			return err
		}
		objects = resp.Objects.Objects
		return nil
	})
	return objects, err
}

// DeleteService returns one result per object the device considered. A
// result that is not "deleted" is not an error; callers inspect each one.
func (c *Client) DeleteService(ctx context.Context, dev amp.DeviceEndpoint, domain string, object ServiceObject, exclude []ServiceObject, deleteReferencedFiles bool) ([]DeleteResult, error) {
	op := amp.OpDeleteService
	var results []DeleteResult
	if !c.Supports(op) {
		return nil, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return nil, err
	}
	if err := requireName("object name", object.Name); err != nil {
		return nil, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &deleteServiceRequest{
			XMLName:               c.requestName(op),
			Domain:                domain,
			Object:                object,
			Exclude:               exclude,
			DeleteReferencedFiles: deleteReferencedFiles,
		}
		var resp deleteServiceResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Results != nil); err != nil {
			return err
		}
		for _, r := range resp.Results.Results {
			results = append(results, DeleteResult{
				Object: ServiceObject{Class: r.Class, Name: r.Name},
				Status: r.Status,
			})
		}
		return nil
	})
	return results, err
}

func (c *Client) serviceQuiesce(ctx context.Context, dev amp.DeviceEndpoint, op amp.Op, domain string, objects []ServiceObject, timeout time.Duration) error {
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return err
	}
	if len(objects) == 0 {
		return &amp.ValidationError{Field: "objects", Reason: "at least one service object is required"}
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &quiesceRequest{XMLName: c.requestName(op), Domain: domain, Objects: objects, Timeout: seconds(timeout)}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) QuiesceService(ctx context.Context, dev amp.DeviceEndpoint, domain string, objects []ServiceObject, timeout time.Duration) error {
	return c.serviceQuiesce(ctx, dev, amp.OpQuiesceService, domain, objects, timeout)
}

func (c *Client) UnquiesceService(ctx context.Context, dev amp.DeviceEndpoint, domain string, objects []ServiceObject) error {
	return c.serviceQuiesce(ctx, dev, amp.OpUnquiesceService, domain, objects, 0)
}

var _ Commands = (*Client)(nil)
