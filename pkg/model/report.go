package model

// StorageReport describes a single volume of a datanode.
type StorageReport struct {
	StorageID string `json:"storage_id"`
	Location  string `json:"location"`
	Capacity  int64  `json:"capacity"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Failed    bool   `json:"failed,omitempty"`
}

// NodeReport is a point-in-time resource snapshot. The manager keeps the latest one only.
type NodeReport struct {
	Capacity      int64           `json:"capacity"`
	Used          int64           `json:"used"`
	Remaining     int64           `json:"remaining"`
	FailedVolumes int             `json:"failed_volumes"`
	Storage       []StorageReport `json:"storage,omitempty"`
}

// Clone returns a deep copy of the report.
func (r *NodeReport) Clone() *NodeReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Storage = append([]StorageReport(nil), r.Storage...)
	return &c
}

type ContainerState string

const (
	ContainerOpen        ContainerState = "OPEN"
	ContainerClosing     ContainerState = "CLOSING"
	ContainerQuasiClosed ContainerState = "QUASI_CLOSED"
	ContainerClosed      ContainerState = "CLOSED"
	ContainerUnhealthy   ContainerState = "UNHEALTHY"
	ContainerDeleted     ContainerState = "DELETED"
)

// ContainerSummary is one replica a datanode holds.
type ContainerSummary struct {
	ContainerID  int64          `json:"container_id"`
	State        ContainerState `json:"state"`
	Used         int64          `json:"used"`
	KeyCount     int64          `json:"key_count"`
	ReplicaIndex int32          `json:"replica_index,omitempty"`
}

// ContainerReport is a full snapshot of the containers on one node.
type ContainerReport struct {
	Containers []ContainerSummary `json:"containers"`
}

// Clone returns a deep copy of the report.
func (r *ContainerReport) Clone() *ContainerReport {
	if r == nil {
		return nil
	}
	return &ContainerReport{Containers: append([]ContainerSummary(nil), r.Containers...)}
}

// PipelineSummary is one replication pipeline the node participates in.
type PipelineSummary struct {
	PipelineID string `json:"pipeline_id"`
	IsLeader   bool   `json:"is_leader"`
	Term       int64  `json:"term"`
}

// PipelineReport is a full snapshot of the pipelines on one node.
type PipelineReport struct {
	Pipelines []PipelineSummary `json:"pipelines"`
}

// Clone returns a deep copy of the report.
func (r *PipelineReport) Clone() *PipelineReport {
	if r == nil {
		return nil
	}
	return &PipelineReport{Pipelines: append([]PipelineSummary(nil), r.Pipelines...)}
}

// ReportSet groups the three reports a node sends. A nil member means "not sent".
type ReportSet struct {
	Node       *NodeReport      `json:"node,omitempty"`
	Containers *ContainerReport `json:"containers,omitempty"`
	Pipelines  *PipelineReport  `json:"pipelines,omitempty"`
}

// Clone returns a deep copy of the set.
func (s ReportSet) Clone() ReportSet {
	return ReportSet{
		Node:       s.Node.Clone(),
		Containers: s.Containers.Clone(),
		Pipelines:  s.Pipelines.Clone(),
	}
}
