package model

// ProtocolVersion is the version of the datanode protocol spoken by this manager.
const ProtocolVersion = 1

type VersionRequest struct {
	NodeID string `json:"node_id,omitempty"`
}

type VersionResponse struct {
	SoftwareVersion  int               `json:"software_version"`
	ClusterID        string            `json:"cluster_id"`
	ManagerID        string            `json:"manager_id"`
	MinLayoutVersion int32             `json:"min_layout_version"`
	Keys             map[string]string `json:"keys,omitempty"`
}

type RegisterRequest struct {
	Identity         NodeIdentity     `json:"identity"`
	NodeReport       *NodeReport      `json:"node_report,omitempty"`
	ContainerReports *ContainerReport `json:"container_reports,omitempty"`
	PipelineReports  *PipelineReport  `json:"pipeline_reports,omitempty"`
	Layout           LayoutVersion    `json:"layout"`
}

// Reports returns the reports carried by the request.
func (r *RegisterRequest) Reports() ReportSet {
	return ReportSet{Node: r.NodeReport, Containers: r.ContainerReports, Pipelines: r.PipelineReports}
}

// RegistrationAck carries the node's recognized id and manager-side overrides.
type RegistrationAck struct {
	NodeID          string `json:"node_id"`
	ClusterID       string `json:"cluster_id"`
	HostName        string `json:"host_name"`
	IPAddress       string `json:"ip_address"`
	NetworkLocation string `json:"network_location"`
}

// HeartbeatRequest carries optional reports. Seq is chosen by the node: it
// increases for every new heartbeat and stays the same when a heartbeat is retried.
type HeartbeatRequest struct {
	Identity         NodeIdentity     `json:"identity"`
	Seq              uint64           `json:"seq,omitempty"`
	Layout           *LayoutVersion   `json:"layout,omitempty"`
	NodeReport       *NodeReport      `json:"node_report,omitempty"`
	ContainerReports *ContainerReport `json:"container_reports,omitempty"`
	PipelineReports  *PipelineReport  `json:"pipeline_reports,omitempty"`
}

// Reports returns the reports carried by the request.
func (r *HeartbeatRequest) Reports() ReportSet {
	return ReportSet{Node: r.NodeReport, Containers: r.ContainerReports, Pipelines: r.PipelineReports}
}

type HeartbeatResponse struct {
	NodeID   string    `json:"node_id"`
	Commands []Command `json:"commands"`
}
