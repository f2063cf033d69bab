package command

import (
	"encoding/xml"
)

// Requests carry their element name, including the version namespace, in
// XMLName. Child elements inherit the default namespace. Responses are
// matched on local names only since devices prefix them freely.

type subscriptionElement struct {
	ID     string   `xml:"id,attr"`
	URL    string   `xml:"URL"`
	Topics []string `xml:"Topics>Topic"`
}

type subscribeRequest struct {
	XMLName      xml.Name
	Subscription subscriptionElement `xml:"Subscription"`
}

type subscriptionIDRequest struct {
	XMLName        xml.Name
	SubscriptionID string `xml:"SubscriptionID"`
}

type subscriptionResponse struct {
	State *string `xml:"SubscriptionState"`
	URL   string  `xml:"URL"`
}

type emptyRequest struct {
	XMLName xml.Name
}

type statusResponse struct {
	Status *string `xml:"Status"`
}

type rebootRequest struct {
	XMLName xml.Name
	Mode    string `xml:"Mode"`
}

type managementInterface struct {
	Type string `xml:"type,attr"`
	Port int    `xml:",chardata"`
}

type deviceInfoResponse struct {
	Status          *string               `xml:"Status"`
	DeviceName      string                `xml:"DeviceName"`
	SerialNumber    *string               `xml:"SerialNumber"`
	DeviceID        string                `xml:"DeviceID"`
	ModelType       string                `xml:"ModelType"`
	HardwareOptions string                `xml:"HardwareOptions"`
	Features        []string              `xml:"DeviceFeature"`
	Interfaces      []managementInterface `xml:"ManagementInterface"`
	FirmwareVersion string                `xml:"FirmwareVersion"`
	FirmwareLevel   string                `xml:"FirmwareLevel"`
	Commands        *struct {
		Command []string `xml:"Command"`
	} `xml:"SupportedCommands"`
}

type blobElement struct {
	Location string `xml:"location,attr,omitempty"`
	Name     string `xml:"name,attr,omitempty"`
	Nil      string `xml:"nil,attr,omitempty"`
	Value    string `xml:",chardata"`
}

func (b *blobElement) isNil() bool {
	return b.Nil == "true" || b.Nil == "1"
}

type errorReportResponse struct {
	Status *string      `xml:"Status"`
	Report *blobElement `xml:"ErrorReport"`
}

type tokenRequest struct {
	XMLName  xml.Name
	Type     string `xml:"Type"`
	User     string `xml:"User"`
	Password string `xml:"Password"`
	Domain   string `xml:"Domain"`
}

type tokenResponse struct {
	Status *string `xml:"Status"`
	Token  *string `xml:"Token"`
}

type settingsRequest struct {
	XMLName  xml.Name
	Settings string `xml:"Settings"`
}

type settingsResponse struct {
	Status   *string      `xml:"Status"`
	Settings *blobElement `xml:"Settings"`
}

type secureBackupRequest struct {
	XMLName     xml.Name
	Certificate string `xml:"CryptoCertificateName"`
	Destination string `xml:"Destination"`
}

type secureRestoreRequest struct {
	XMLName    xml.Name
	Credential string `xml:"CryptoCredentialName"`
	Source     string `xml:"Source"`
}

type quiesceRequest struct {
	XMLName xml.Name
	Domain  string          `xml:"Domain,omitempty"`
	Objects []ServiceObject `xml:"Objects>Object,omitempty"`
	Timeout int             `xml:"Timeout,omitempty"`
}

type domainRequest struct {
	XMLName xml.Name
	Domain  string `xml:"Domain"`
}

type domainListResponse struct {
	Status  *string  `xml:"Status"`
	Domains []string `xml:"Domain"`
}

type domainConfigResponse struct {
	Status *string      `xml:"Status"`
	Config *blobElement `xml:"Config"`
}

type deploymentPolicyElement struct {
	Configuration string `xml:"PolicyConfiguration,omitempty"`
	Domain        string `xml:"PolicyDomain,omitempty"`
	Object        string `xml:"PolicyObject,omitempty"`
}

type setDomainRequest struct {
	XMLName xml.Name
	Domain  string                   `xml:"Domain"`
	Config  string                   `xml:"Config"`
	Policy  *deploymentPolicyElement `xml:"DeploymentPolicy,omitempty"`
}

type domainStatusResponse struct {
	Status *string `xml:"Status"`
	Domain *struct {
		OpState      string `xml:"OpState"`
		ConfigState  string `xml:"ConfigState"`
		DebugState   string `xml:"DebugState"`
		QuiesceState string `xml:"QuiesceState"`
	} `xml:"Domain"`
}

type compareConfigRequest struct {
	XMLName xml.Name
	Domain  string `xml:"Domain"`
	Config  string `xml:"Config"`
}

type compareConfigResponse struct {
	Status *string `xml:"Status"`
	Result *string `xml:"CompareResult"`
}

type setFileRequest struct {
	XMLName xml.Name
	Domain  string      `xml:"Domain"`
	File    blobElement `xml:"File"`
}

type exportRequest struct {
	XMLName xml.Name
	Config  string `xml:"Config"`
}

type serviceListResponse struct {
	Status   *string `xml:"Status"`
	Services *struct {
		Objects []ServiceObject `xml:"Object"`
	} `xml:"Services"`
}

type interDependentRequest struct {
	XMLName xml.Name
	Domain  string          `xml:"Domain"`
	Config  string          `xml:"Config,omitempty"`
	Objects []ServiceObject `xml:"Objects>Object"`
}

type interDependentResponse struct {
	Status   *string `xml:"Status"`
	Services *struct {
		Objects []ServiceObject `xml:"Object"`
		Files   []struct {
			Name string `xml:"name,attr"`
		} `xml:"File"`
	} `xml:"InterDependentServices"`
}

type referencedObjectsRequest struct {
	XMLName xml.Name
	Domain  string        `xml:"Domain"`
	Object  ServiceObject `xml:"Object"`
}

type referencedObjectsResponse struct {
	Status  *string `xml:"Status"`
	Objects *struct {
		Objects []ServiceObject `xml:"Object"`
	} `xml:"ReferencedObjects"`
}

type deleteServiceRequest struct {
	XMLName               xml.Name
	Domain                string          `xml:"Domain"`
	Object                ServiceObject   `xml:"Object"`
	Exclude               []ServiceObject `xml:"ExcludeObjects>Object,omitempty"`
	DeleteReferencedFiles bool            `xml:"DeleteReferencedFiles"`
}

type deleteServiceResponse struct {
	Status  *string `xml:"Status"`
	Results *struct {
		Results []struct {
			Class  string `xml:"class,attr"`
			Name   string `xml:"name,attr"`
			Status string `xml:"status,attr"`
		} `xml:"Result"`
	} `xml:"DeleteResults"`
}
