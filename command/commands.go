// Package command implements every appliance management operation on top
// of the transport. One Client serves one protocol version; the version
// descriptor decides the namespace, the endpoint path and which operations
// exist at all.
package command

import (
	"context"
	"io"
	"time"

	"github.com/cloudflare/cfamp/amp"
)

// Commands is the operation surface consumed by device and domain
// management code. Operations the protocol version lacks fail with an
// amp.KindUnsupported error before any connection is made.
type Commands interface {
	Version() amp.ProtocolVersion
	Supports(op amp.Op) bool

	SubscribeToDevice(ctx context.Context, dev amp.DeviceEndpoint, subscriptionID string, topics []string, callbackURL string) (amp.SubscriptionState, error)
	UnsubscribeFromDevice(ctx context.Context, dev amp.DeviceEndpoint, subscriptionID string) error
	PingDevice(ctx context.Context, dev amp.DeviceEndpoint, subscriptionID string) (amp.SubscriptionState, error)
	GetDeviceMetadata(ctx context.Context, dev amp.DeviceEndpoint) (*DeviceMetadata, error)
	Reboot(ctx context.Context, dev amp.DeviceEndpoint) error
	GetErrorReport(ctx context.Context, dev amp.DeviceEndpoint) (*ErrorReport, error)
	GetSAMLToken(ctx context.Context, dev amp.DeviceEndpoint, domain string) (string, error)
	GetDeviceSettings(ctx context.Context, dev amp.DeviceEndpoint) ([]byte, error)
	SetDeviceSettings(ctx context.Context, dev amp.DeviceEndpoint, settings []byte) error
	SetFirmware(ctx context.Context, dev amp.DeviceEndpoint, image io.Reader, acceptLicense bool) error
	SecureBackup(ctx context.Context, dev amp.DeviceEndpoint, certificate string, destination string) error
	SecureRestore(ctx context.Context, dev amp.DeviceEndpoint, credential string, source string) error
	QuiesceDevice(ctx context.Context, dev amp.DeviceEndpoint, timeout time.Duration) error
	UnquiesceDevice(ctx context.Context, dev amp.DeviceEndpoint) error

	GetDomainList(ctx context.Context, dev amp.DeviceEndpoint) ([]string, error)
	GetDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) ([]byte, error)
	SetDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string, export []byte, policy *DeploymentPolicy) error
	DeleteDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error
	GetDomainStatus(ctx context.Context, dev amp.DeviceEndpoint, domain string) (*DomainStatus, error)
	StartDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error
	StopDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error
	RestartDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error
	IsDomainDifferent(ctx context.Context, dev amp.DeviceEndpoint, domain string, export []byte) (bool, error)
	SetFile(ctx context.Context, dev amp.DeviceEndpoint, domain string, name string, content []byte) error
	QuiesceDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string, timeout time.Duration) error
	UnquiesceDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) error

	GetServiceListFromDomain(ctx context.Context, dev amp.DeviceEndpoint, domain string) ([]ServiceObject, error)
	GetServiceListFromExport(ctx context.Context, dev amp.DeviceEndpoint, export []byte) ([]ServiceObject, error)
	GetInterDependentServices(ctx context.Context, dev amp.DeviceEndpoint, domain string, export []byte, objects []ServiceObject) (*InterDependentServices, error)
	GetReferencedObjects(ctx context.Context, dev amp.DeviceEndpoint, domain string, object ServiceObject) ([]ServiceObject, error)
	DeleteService(ctx context.Context, dev amp.DeviceEndpoint, domain string, object ServiceObject, exclude []ServiceObject, deleteReferencedFiles bool) ([]DeleteResult, error)
	QuiesceService(ctx context.Context, dev amp.DeviceEndpoint, domain string, objects []ServiceObject, timeout time.Duration) error
	UnquiesceService(ctx context.Context, dev amp.DeviceEndpoint, domain string, objects []ServiceObject) error
}

// DeviceMetadata is the answer to GetDeviceInfo.
type DeviceMetadata struct {
	Name            string
	SerialNumber    string
	DeviceID        string
	ModelType       string
	HardwareOptions string
	Features        []string
	ManagementPort  int
	FirmwareVersion string
	FirmwareLevel   string

	// SupportedOperations is only filled by versions whose metadata lists
	// the supported commands; ListsOperations tells whether it is.
	SupportedOperations amp.OpSet
	ListsOperations     bool
}

// Firmware parses FirmwareVersion; a malformed value yields nil.
func (m *DeviceMetadata) Firmware() amp.FirmwareVersion {
	v, err := amp.ParseFirmwareVersion(m.FirmwareVersion)
	if err != nil {
		return nil
	}
	return v
}

// Supports combines the version mask with what the device reported.
func Supports(c Commands, md *DeviceMetadata, op amp.Op) bool {
	if !c.Supports(op) {
		return false
	}
	if md == nil || !md.ListsOperations {
		return true
	}
	return md.SupportedOperations.Has(op)
}

type ErrorReport struct {
	Location string
	Name     string
	Content  []byte
}

// DeploymentPolicy customizes a domain import. Export is a policy export
// blob; PolicyDomain and PolicyObject reference a policy object stored on
// the device, which only the latest protocol version understands.
type DeploymentPolicy struct {
	Export       []byte
	PolicyDomain string
	PolicyObject string
}

func (p *DeploymentPolicy) isReference() bool {
	return p.PolicyObject != ""
}

type DomainStatus struct {
	OpState      string
	ConfigState  string
	DebugState   bool
	QuiesceState string
}

type ServiceObject struct {
	Class string `xml:"class,attr"`
	Name  string `xml:"name,attr"`
}

type InterDependentServices struct {
	Services []ServiceObject
	Files    []string
}

// DeleteResult is the per-object outcome of DeleteService. Status is the
// device's own word for it and is matched case-insensitively.
type DeleteResult struct {
	Object ServiceObject
	Status string
}

const DeleteStatusDeleted = "deleted"

func (r DeleteResult) Deleted() bool {
	return amp.StatusIs(r.Status, DeleteStatusDeleted)
}
