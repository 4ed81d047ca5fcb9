// Package cluster groups face observations into provisional identities.
//
// A pass walks images in input order and faces in detector order. Each face is
// compared against the representative of every existing cluster; it joins the
// first cluster that matches or founds a new one named Person_<n>. A cluster's
// representative is the embedding of its first observation and never changes.
package cluster

import (
	"fmt"

	"github.com/andresmejia3/facegroup/internal/matcher"
	"github.com/andresmejia3/facegroup/internal/types"
)

// NamePrefix is prepended to the creation counter to name new identities.
const NamePrefix = "Person_"

// FaceObservation is one detected face. It is never mutated once created.
type FaceObservation struct {
	SourceID  string          `json:"source_id" yaml:"source_id"`
	Path      string          `json:"path" yaml:"path"`
	Box       types.Box       `json:"box" yaml:"box"`
	Embedding types.Embedding `json:"-" yaml:"-"`
}

// Cluster is a provisional identity.
type Cluster struct {
	Name           string
	Representative types.Embedding
	Observations   []FaceObservation
}

// Partition is the ordered list of clusters of one pass, in creation order.
type Partition []Cluster

// Observations returns the total number of faces across all clusters.
func (p Partition) Observations() int {
	n := 0
	for _, c := range p {
		n += len(c.Observations)
	}
	return n
}

// Find returns the cluster with the given name.
func (p Partition) Find(name string) (*Cluster, bool) {
	for i := range p {
		if p[i].Name == name {
			return &p[i], true
		}
	}
	return nil, false
}

// Representatives returns the representative embeddings in creation order.
func (p Partition) Representatives() []types.Embedding {
	reps := make([]types.Embedding, len(p))
	for i, c := range p {
		reps[i] = c.Representative
	}
	return reps
}

// Builder holds the mutable state of a single pass. It is not safe for concurrent use:
// match outcomes depend on the exact cluster list at the time each face is added.
type Builder struct {
	matcher  matcher.Matcher
	clusters Partition
	reps     []types.Embedding
	next     int
}

// NewBuilder starts an empty partition.
func NewBuilder(m matcher.Matcher) *Builder {
	return &Builder{matcher: m, next: 1}
}

// Add assigns obs to a cluster and returns the cluster's name.
func (b *Builder) Add(obs FaceObservation) string {
	if idx, ok := b.matcher.Match(obs.Embedding, b.reps); ok {
		b.clusters[idx].Observations = append(b.clusters[idx].Observations, obs)
		return b.clusters[idx].Name
	}

	name := fmt.Sprintf("%s%d", NamePrefix, b.next)
	b.next++
	b.clusters = append(b.clusters, Cluster{
		Name:           name,
		Representative: obs.Embedding,
		Observations:   []FaceObservation{obs},
	})
	b.reps = append(b.reps, obs.Embedding)
	return name
}

// Partition returns the clusters built so far.
func (b *Builder) Partition() Partition {
	return b.clusters
}
