package mqtt

import "github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"

// DeviceInfo is the Home Assistant device block shared by every entity
// this instance publishes, so they group under one device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// EntityConfig is the discovery payload for a sensor, binary_sensor, or
// select entity. Fields that do not apply to a component stay empty.
type EntityConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	CommandTopic      string     `json:"command_topic,omitempty"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
	Options           []string   `json:"options,omitempty"`
	PayloadOn         string     `json:"payload_on,omitempty"`
	PayloadOff        string     `json:"payload_off,omitempty"`
}

// NewDeviceInfo builds the device block. instanceID is the stable
// identifier; deviceName is what the Home Assistant UI shows.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "tooledca",
		Model:        "Ollama Tooled Conversation Agent",
		SWVersion:    buildinfo.Version,
	}
}
