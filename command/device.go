package command

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/cfamp/amp"
)

func (c *Client) SubscribeToDevice(ctx context.Context, dev amp.DeviceEndpoint, subscriptionID string, topics []string, callbackURL string) (amp.SubscriptionState, error) {
	op := amp.OpSubscribe
	var state amp.SubscriptionState
	if !c.Supports(op) {
		return state, c.unsupported(dev, op)
	}
	parsed, err := amp.ParseTopics(topics)
	if err != nil {
		return state, err
	}
	if err := requireName("subscription id", subscriptionID); err != nil {
		return state, err
	}
	if err := requireName("callback URL", callbackURL); err != nil {
		return state, err
	}

	err = c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &subscribeRequest{
			XMLName: c.requestName(op),
			Subscription: subscriptionElement{
				ID:  subscriptionID,
				URL: callbackURL,
			},
		}
		for _, t := range parsed {
			req.Subscription.Topics = append(req.Subscription.Topics, string(t))
		}
		var resp subscriptionResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		if resp.State == nil {
			return c.fail(dev, op, amp.KindProtocol, "subscription state missing from response", nil)
		}
		st, ok := amp.ParseSubscriptionState(*resp.State, resp.URL)
		if !ok {
			return c.fail(dev, op, amp.KindProtocol, fmt.Sprintf("unrecognized subscription state %q", *resp.State), nil)
		}
		if st.Kind() == amp.SubscriptionFault {
			return c.fail(dev, op, amp.KindExecution, "device could not register the subscription", nil)
		}
		state = st
		return nil
	})
	return state, err
}

// UnsubscribeFromDevice succeeds whether or not the subscription was still
// registered.
func (c *Client) UnsubscribeFromDevice(ctx context.Context, dev amp.DeviceEndpoint, subscriptionID string) error {
	op := amp.OpUnsubscribe
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("subscription id", subscriptionID); err != nil {
		return err
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp subscriptionResponse
		req := &subscriptionIDRequest{XMLName: c.requestName(op), SubscriptionID: subscriptionID}
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		if resp.State == nil {
			return c.fail(dev, op, amp.KindProtocol, "subscription state missing from response", nil)
		}
		st, ok := amp.ParseSubscriptionState(*resp.State, resp.URL)
		switch {
		case ok && (st.Kind() == amp.SubscriptionActive || st.Kind() == amp.SubscriptionNone):
			return nil
		case ok && st.Kind() == amp.SubscriptionFault:
			return c.fail(dev, op, amp.KindExecution, "device failed to remove the subscription", nil)
		}
		return c.fail(dev, op, amp.KindNotFound,
			fmt.Sprintf("subscription %q not recognized (state %q)", subscriptionID, *resp.State), nil)
	})
}

// PingDevice reports the state of a subscription. A fault state is a valid
// answer, not an error.
func (c *Client) PingDevice(ctx context.Context, dev amp.DeviceEndpoint, subscriptionID string) (amp.SubscriptionState, error) {
	op := amp.OpPing
	var state amp.SubscriptionState
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp subscriptionResponse
		req := &subscriptionIDRequest{XMLName: c.requestName(op), SubscriptionID: subscriptionID}
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		if resp.State == nil {
			return c.fail(dev, op, amp.KindProtocol, "subscription state missing from response", nil)
		}
		st, ok := amp.ParseSubscriptionState(*resp.State, resp.URL)
		if !ok {
			return c.fail(dev, op, amp.KindProtocol, fmt.Sprintf("unrecognized subscription state %q", *resp.State), nil)
		}
		state = st
		return nil
	})
	return state, err
}

func (c *Client) GetDeviceMetadata(ctx context.Context, dev amp.DeviceEndpoint) (*DeviceMetadata, error) {
	op := amp.OpGetDeviceMetadata
	var md *DeviceMetadata
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp deviceInfoResponse
		if err := c.exchange(ctx, dev, op, &emptyRequest{XMLName: c.requestName(op)}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.SerialNumber != nil); err != nil {
			return err
		}
		md = &DeviceMetadata{
			Name:            resp.DeviceName,
			SerialNumber:    *resp.SerialNumber,
			DeviceID:        resp.DeviceID,
			ModelType:       resp.ModelType,
			HardwareOptions: resp.HardwareOptions,
			Features:        resp.Features,
			FirmwareVersion: resp.FirmwareVersion,
			FirmwareLevel:   resp.FirmwareLevel,
		}
		for _, mi := range resp.Interfaces {
			if mi.Type == "" || amp.StatusIs(mi.Type, "SOAP") {
				md.ManagementPort = mi.Port
				break
			}
		}
		if c.desc.MetadataListsOperations && resp.Commands != nil {
			md.ListsOperations = true
			for _, name := range resp.Commands.Command {
				if o, ok := amp.ParseOp(name); ok {
					md.SupportedOperations = md.SupportedOperations.With(o)
				} else if c.opts.Log != nil {
					c.opts.Log.Debugf("%v lists unknown command %q", dev, name)
				}
			}
		}
		return nil
	})
	return md, err
}

func (c *Client) Reboot(ctx context.Context, dev amp.DeviceEndpoint) error {
	op := amp.OpReboot
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, &rebootRequest{XMLName: c.requestName(op), Mode: "reboot"}, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) GetErrorReport(ctx context.Context, dev amp.DeviceEndpoint) (*ErrorReport, error) {
	op := amp.OpGetErrorReport
	var report *ErrorReport
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp errorReportResponse
		if err := c.exchange(ctx, dev, op, &emptyRequest{XMLName: c.requestName(op)}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Report != nil); err != nil {
			return err
		}
		if resp.Report.isNil() {
			return c.fail(dev, op, amp.KindNotFound, "device has no error report", nil)
		}
		content, err := c.decodeBlob(dev, op, resp.Report.Value)
		if err != nil {
			return err
		}
		report = &ErrorReport{
			Location: resp.Report.Location,
			Name:     resp.Report.Name,
			Content:  content,
		}
		return nil
	})
	return report, err
}

// GetSAMLToken asks the device for a token for the endpoint's user.
func (c *Client) GetSAMLToken(ctx context.Context, dev amp.DeviceEndpoint, domain string) (string, error) {
	op := amp.OpGetSAMLToken
	var token string
	if !c.Supports(op) {
		return token, c.unsupported(dev, op)
	}
	if err := requireName("domain", domain); err != nil {
		return token, err
	}
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &tokenRequest{
			XMLName:  c.requestName(op),
			Type:     "SAML",
			User:     dev.Username,
			Password: dev.Password,
			Domain:   domain,
		}
		var resp tokenResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Token != nil); err != nil {
			return err
		}
		token = *resp.Token
		return nil
	})
	return token, err
}

func (c *Client) GetDeviceSettings(ctx context.Context, dev amp.DeviceEndpoint) ([]byte, error) {
	op := amp.OpGetDeviceSettings
	var settings []byte
	err := c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp settingsResponse
		if err := c.exchange(ctx, dev, op, &emptyRequest{XMLName: c.requestName(op)}, &resp); err != nil {
			return err
		}
		if err := c.requirePayload(dev, op, resp.Status, resp.Settings != nil); err != nil {
			return err
		}
		var err error
		settings, err = c.decodeBlob(dev, op, resp.Settings.Value)
		return err
	})
	return settings, err
}

func (c *Client) SetDeviceSettings(ctx context.Context, dev amp.DeviceEndpoint, settings []byte) error {
	op := amp.OpSetDeviceSettings
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		blob, err := c.encodeBlob(dev, op, settings)
		if err != nil {
			return err
		}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, &settingsRequest{XMLName: c.requestName(op), Settings: blob}, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

// SetFirmware streams the image base64 encoded; it is never held in memory.
func (c *Client) SetFirmware(ctx context.Context, dev amp.DeviceEndpoint, image io.Reader, acceptLicense bool) error {
	op := amp.OpSetFirmware
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		var prefix bytes.Buffer
		name := c.requestName(op)
		prefix.WriteString(`<` + name.Local + ` xmlns="`)
		xml.EscapeText(&prefix, []byte(name.Space))
		prefix.WriteString(`">`)
		if acceptLicense {
			prefix.WriteString(`<AcceptLicense/>`)
		}
		prefix.WriteString(`<Firmware>`)
		suffix := []byte(`</Firmware></` + name.Local + `>`)

		pr, pw := io.Pipe()
		go func() {
			enc := base64.NewEncoder(base64.StdEncoding, pw)
			_, err := io.Copy(enc, image)
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		}()
		defer pr.Close()

		var resp statusResponse
		if err := c.exchangeStream(ctx, dev, op, prefix.Bytes(), pr, suffix, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) SecureBackup(ctx context.Context, dev amp.DeviceEndpoint, certificate string, destination string) error {
	op := amp.OpSecureBackup
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("certificate", certificate); err != nil {
		return err
	}
	if err := requireName("destination", destination); err != nil {
		return err
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &secureBackupRequest{XMLName: c.requestName(op), Certificate: certificate, Destination: destination}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) SecureRestore(ctx context.Context, dev amp.DeviceEndpoint, credential string, source string) error {
	op := amp.OpSecureRestore
	if !c.Supports(op) {
		return c.unsupported(dev, op)
	}
	if err := requireName("credential", credential); err != nil {
		return err
	}
	if err := requireName("source", source); err != nil {
		return err
	}
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		req := &secureRestoreRequest{XMLName: c.requestName(op), Credential: credential, Source: source}
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, req, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) QuiesceDevice(ctx context.Context, dev amp.DeviceEndpoint, timeout time.Duration) error {
	op := amp.OpQuiesceDevice
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, &quiesceRequest{XMLName: c.requestName(op), Timeout: seconds(timeout)}, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}

func (c *Client) UnquiesceDevice(ctx context.Context, dev amp.DeviceEndpoint) error {
	op := amp.OpUnquiesceDevice
	return c.run(ctx, dev, op, func(ctx context.Context) error {
		var resp statusResponse
		if err := c.exchange(ctx, dev, op, &emptyRequest{XMLName: c.requestName(op)}, &resp); err != nil {
			return err
		}
		return c.requireStatus(dev, op, resp.Status)
	})
}
