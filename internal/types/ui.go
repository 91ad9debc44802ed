package types

type DeviceSnapshot struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Trackers    int    `json:"trackers"`
	LastFrame   uint32 `json:"last_frame"`
	ColorFormat string `json:"color_format"`
	DepthFormat string `json:"depth_format"`
}

type StatusSnapshot struct {
	Type    string           `json:"type"`
	Devices []DeviceSnapshot `json:"devices"`
	Clients int              `json:"clients"`
	Metrics map[string]any   `json:"metrics"`
}
