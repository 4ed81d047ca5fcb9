package cluster

// IdentitySummary describes one identity of a partition.
type IdentitySummary struct {
	Name             string   `json:"name" yaml:"name"`
	ObservationCount int      `json:"count" yaml:"count"`
	SourceIDs        []string `json:"images" yaml:"images"`
}

// Summary is a read-only view of a partition.
type Summary struct {
	TotalIdentities int               `json:"total_people" yaml:"total_people"`
	Identities      []IdentitySummary `json:"people" yaml:"people"`
}

// Summarize projects p without modifying it. Identities keep creation order and
// SourceIDs keep observation order, so an image appears once per face it contributed.
func Summarize(p Partition) Summary {
	s := Summary{
		TotalIdentities: len(p),
		Identities:      make([]IdentitySummary, 0, len(p)),
	}
	for _, c := range p {
		ids := make([]string, len(c.Observations))
		for i, obs := range c.Observations {
			ids[i] = obs.SourceID
		}
		s.Identities = append(s.Identities, IdentitySummary{
			Name:             c.Name,
			ObservationCount: len(c.Observations),
			SourceIDs:        ids,
		})
	}
	return s
}
