package amp

import (
	"fmt"
	"strconv"
	"strings"
)

type ProtocolVersion int

const (
	V1 ProtocolVersion = iota + 1
	V2
	V3
)

func (v ProtocolVersion) String() string {
	switch v {
	case V1, V2, V3:
		return fmt.Sprintf("%d.0", int(v))
	}
	return fmt.Sprintf("ProtocolVersion(%d)", int(v))
}

func ParseVersion(s string) (ProtocolVersion, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v") {
	case "1", "1.0":
		return V1, nil
	case "2", "2.0":
		return V2, nil
	case "3", "3.0":
		return V3, nil
	}
	return 0, &ValidationError{Field: "version", Value: s, Reason: "expected 1, 2 or 3"}
}

// Op identifies one logical operation of the command set.
type Op uint

const (
	OpSubscribe Op = iota
	OpUnsubscribe
	OpPing
	OpGetDeviceMetadata
	OpReboot
	OpGetErrorReport
	OpGetSAMLToken
	OpGetDeviceSettings
	OpSetDeviceSettings
	OpSetFirmware
	OpSecureBackup
	OpSecureRestore
	OpQuiesceDevice
	OpUnquiesceDevice
	OpGetDomainList
	OpGetDomain
	OpSetDomain
	OpSetDomainPolicy
	OpDeleteDomain
	OpGetDomainStatus
	OpStartDomain
	OpStopDomain
	OpRestartDomain
	OpCompareConfig
	OpSetFile
	OpQuiesceDomain
	OpUnquiesceDomain
	OpGetServiceListFromDomain
	OpGetServiceListFromExport
	OpGetInterDependentServices
	OpGetReferencedObjects
	OpDeleteService
	OpQuiesceService
	OpUnquiesceService

	opCount
)

var opNames = [...]string{
	OpSubscribe:                 "Subscribe",
	OpUnsubscribe:               "Unsubscribe",
	OpPing:                      "Ping",
	OpGetDeviceMetadata:         "GetDeviceInfo",
	OpReboot:                    "Reboot",
	OpGetErrorReport:            "GetErrorReport",
	OpGetSAMLToken:              "GetToken",
	OpGetDeviceSettings:         "BackupDevice",
	OpSetDeviceSettings:         "RestoreDevice",
	OpSetFirmware:               "SetFirmware",
	OpSecureBackup:              "SecureBackup",
	OpSecureRestore:             "SecureRestore",
	OpQuiesceDevice:             "QuiesceDevice",
	OpUnquiesceDevice:           "UnquiesceDevice",
	OpGetDomainList:             "GetDomainList",
	OpGetDomain:                 "GetDomain",
	OpSetDomain:                 "SetDomain",
	OpSetDomainPolicy:           "SetDomainPolicy",
	OpDeleteDomain:              "DeleteDomain",
	OpGetDomainStatus:           "GetDomainStatus",
	OpStartDomain:               "StartDomain",
	OpStopDomain:                "StopDomain",
	OpRestartDomain:             "RestartDomain",
	OpCompareConfig:             "CompareConfig",
	OpSetFile:                   "SetFile",
	OpQuiesceDomain:             "QuiesceDomain",
	OpUnquiesceDomain:           "UnquiesceDomain",
	OpGetServiceListFromDomain:  "GetServiceListFromDomain",
	OpGetServiceListFromExport:  "GetServiceListFromExport",
	OpGetInterDependentServices: "GetInterDependentServices",
	OpGetReferencedObjects:      "GetReferencedObjects",
	OpDeleteService:             "DeleteService",
	OpQuiesceService:            "QuiesceService",
	OpUnquiesceService:          "UnquiesceService",
}

// String is the wire name; requests are <Name>Request, responses <Name>Response.
func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return "Op(" + strconv.Itoa(int(o)) + ")"
}

// ParseOp accepts the wire name case-insensitively.
func ParseOp(name string) (Op, bool) {
	for i, n := range opNames {
		if strings.EqualFold(n, name) {
			return Op(i), true
		}
	}
	return 0, false
}

// OpSet is a supported-operations bitmask.
type OpSet uint64

func NewOpSet(ops ...Op) OpSet {
	var s OpSet
	for _, o := range ops {
		s |= 1 << o
	}
	return s
}

func (s OpSet) Has(o Op) bool {
	return s&(1<<o) != 0
}

func (s OpSet) With(ops ...Op) OpSet {
	return s | NewOpSet(ops...)
}

func (s OpSet) Ops() []Op {
	res := make([]Op, 0)
	for o := Op(0); o < opCount; o++ {
		if s.Has(o) {
			res = append(res, o)
		}
	}
	return res
}

type PolicyEncoding int

const (
	// PolicyUnsupported: the version has no deployment policy on SetDomain.
	PolicyUnsupported PolicyEncoding = iota
	// PolicyExportOnly: policy travels as an export blob.
	PolicyExportOnly
	// PolicyExportOrReference: blob, or a reference to a policy object
	// already stored on the device.
	PolicyExportOrReference
)

// Descriptor holds everything that differs between protocol versions.
type Descriptor struct {
	Version   ProtocolVersion
	Namespace string
	Path      string
	Ops       OpSet

	Policy PolicyEncoding

	// DomainQuiesceState reports whether GetDomainStatus carries a quiesce state.
	DomainQuiesceState bool
	// MetadataListsOperations reports whether GetDeviceInfo lists supported commands.
	MetadataListsOperations bool
}

const (
	SOAPNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	namespaceBase = "http://www.datapower.com/schemas/appliance/management/"
	pathBase      = "/service/mgmt/amp/"
)

var (
	opsV1 = NewOpSet(
		OpSubscribe, OpUnsubscribe, OpPing, OpGetDeviceMetadata, OpReboot,
		OpGetErrorReport, OpGetDeviceSettings, OpSetDeviceSettings, OpSetFirmware,
		OpGetDomainList, OpGetDomain, OpSetDomain, OpDeleteDomain, OpGetDomainStatus,
		OpStartDomain, OpStopDomain, OpRestartDomain, OpCompareConfig,
	)
	opsV2 = opsV1.With(
		OpGetSAMLToken, OpSetFile, OpSetDomainPolicy,
		OpGetServiceListFromDomain, OpGetServiceListFromExport,
		OpGetInterDependentServices, OpGetReferencedObjects, OpDeleteService,
	)
	opsV3 = opsV2.With(
		OpSecureBackup, OpSecureRestore,
		OpQuiesceDevice, OpUnquiesceDevice, OpQuiesceDomain, OpUnquiesceDomain,
		OpQuiesceService, OpUnquiesceService,
	)

	descriptors = map[ProtocolVersion]*Descriptor{
		V1: {
			Version:   V1,
			Namespace: namespaceBase + "1.0",
			Path:      pathBase + "1.0",
			Ops:       opsV1,
			Policy:    PolicyUnsupported,
		},
		V2: {
			Version:                 V2,
			Namespace:               namespaceBase + "2.0",
			Path:                    pathBase + "2.0",
			Ops:                     opsV2,
			Policy:                  PolicyExportOnly,
			MetadataListsOperations: true,
		},
		V3: {
			Version:                 V3,
			Namespace:               namespaceBase + "3.0",
			Path:                    pathBase + "3.0",
			Ops:                     opsV3,
			Policy:                  PolicyExportOrReference,
			DomainQuiesceState:      true,
			MetadataListsOperations: true,
		},
	}
)

// DescriptorFor returns the shared, read-only descriptor of a version.
func DescriptorFor(v ProtocolVersion) (*Descriptor, error) {
	d, ok := descriptors[v]
	if !ok {
		return nil, &ValidationError{Field: "version", Value: v.String(), Reason: "unknown protocol version"}
	}
	return d, nil
}

// VersionForNamespace identifies the version of an inbound document.
func VersionForNamespace(ns string) (ProtocolVersion, bool) {
	for v, d := range descriptors {
		if d.Namespace == ns {
			return v, true
		}
	}
	return 0, false
}

func MustDescriptor(v ProtocolVersion) *Descriptor {
	d, err := DescriptorFor(v)
	if err != nil {
		panic(err)
	}
	return d
}
