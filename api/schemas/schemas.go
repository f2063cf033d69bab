package schemas

// JSON shapes printed by ampctl and served on its info endpoint.

type OutputDevice struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Version string `json:"version"`
}

type OutputError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Generic result of one operation against one device
type OutputResult struct {
	Device    OutputDevice `json:"device"`
	Operation string       `json:"operation"`
	Duration  float64      `json:"duration"`

	Subscription string `json:"subscription,omitempty"`
	OriginalURL  string `json:"original-url,omitempty"`
	Different    *bool  `json:"different,omitempty"`

	Metadata *OutputMetadata      `json:"metadata,omitempty"`
	Status   *OutputDomainStatus  `json:"domain-status,omitempty"`
	Domains  []string             `json:"domains,omitempty"`
	Services []*OutputService     `json:"services,omitempty"`
	Files    []string             `json:"files,omitempty"`
	Deleted  []*OutputDeleteState `json:"deleted,omitempty"`
	Token    string               `json:"token,omitempty"`
	Bytes    int                  `json:"bytes,omitempty"`

	Error *OutputError `json:"error,omitempty"`
}

type OutputMetadata struct {
	Name            string   `json:"name"`
	SerialNumber    string   `json:"serial"`
	DeviceID        string   `json:"device-id,omitempty"`
	ModelType       string   `json:"model,omitempty"`
	HardwareOptions string   `json:"hardware-options,omitempty"`
	Features        []string `json:"features,omitempty"`
	ManagementPort  int      `json:"management-port,omitempty"`
	FirmwareVersion string   `json:"firmware-version"`
	FirmwareLevel   string   `json:"firmware-level,omitempty"`
	Operations      []string `json:"operations,omitempty"`
}

type OutputDomainStatus struct {
	OpState      string `json:"op-state"`
	ConfigState  string `json:"config-state"`
	DebugState   bool   `json:"debug"`
	QuiesceState string `json:"quiesce-state,omitempty"`
}

type OutputService struct {
	Class string `json:"class"`
	Name  string `json:"name"`
}

type OutputDeleteState struct {
	Class  string `json:"class"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type ResultsJSON struct {
	Metadata struct {
		Generated int `json:"generated"`
		Failures  int `json:"failures"`
	} `json:"metadata"`
	Results []*OutputResult `json:"results"`
}

type OutputNotification struct {
	SerialNumber string `json:"serial"`
	Device       string `json:"device,omitempty"`
	Topic        string `json:"topic"`
	Sequence     int64  `json:"sequence"`
	Timestamp    string `json:"timestamp,omitempty"`
	Domain       string `json:"domain,omitempty"`
	Remote       string `json:"remote"`
	Received     int    `json:"received"`
}

type InfoResult struct {
	Listening     string                `json:"listening"`
	CallbackURL   string                `json:"callback-url"`
	Devices       []OutputDevice        `json:"devices"`
	Received      int                   `json:"received"`
	Notifications []*OutputNotification `json:"notifications"`
}
