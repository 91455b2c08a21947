package models

type HostMetrics struct {
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryUsage   float64 `json:"memory_usage"`
	TempDiskUsage float64 `json:"temp_disk_usage"`
	TempDiskFree  uint64  `json:"temp_disk_free"`
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Uptime        uint64  `json:"uptime"`
}

type PollerStatus struct {
	State      string `json:"state"`
	Peer       string `json:"peer"`
	Polls      int64  `json:"polls"`
	Received   int64  `json:"received"`
	Failed     int64  `json:"failed"`
	Dispatched int64  `json:"dispatched"`
	Delivered  int64  `json:"delivered"`
	PickedUp   int64  `json:"picked_up"`
}

type Heartbeat struct {
	Poller    PollerStatus `json:"poller"`
	Host      HostMetrics  `json:"host_metrics"`
	Timestamp int64        `json:"timestamp"`
}
