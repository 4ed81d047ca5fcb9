// Package fixture stores detector output on disk so a pass can be replayed without the
// Python detector. Documents are YAML; JSON documents are accepted as well.
//
//	beach.jpg:
//	  faces:
//	    - loc: [10, 80, 90, 20]   # top, right, bottom, left
//	      vec: [0.01, -0.2, ...]
//	scan_003.jpg:
//	  error: "cannot identify image file"
package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/andresmejia3/facegroup/internal/types"
	"gopkg.in/yaml.v3"
)

// ErrNotRecorded is returned for an image the document has no entry for.
var ErrNotRecorded = errors.New("no recorded detections")

// Face is one recorded detection.
type Face struct {
	Loc []int     `yaml:"loc" json:"loc"` // [top, right, bottom, left]
	Vec []float64 `yaml:"vec" json:"vec"`
}

// Entry is the recorded outcome for one image.
type Entry struct {
	Faces []Face `yaml:"faces,omitempty" json:"faces,omitempty"`
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Document maps source IDs (file names) to entries.
type Document map[string]Entry

// Load reads a fixture document.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := Document{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for id, e := range doc {
		for i, f := range e.Faces {
			if len(f.Loc) != 4 {
				return nil, fmt.Errorf("fixture %s: %s face %d: loc needs 4 values, got %d", path, id, i, len(f.Loc))
			}
		}
	}
	return doc, nil
}

// Detector replays a Document. It is safe for concurrent use.
type Detector struct {
	doc Document
}

// NewDetector wraps doc.
func NewDetector(doc Document) *Detector {
	return &Detector{doc: doc}
}

// Detect implements cluster.Detector.
func (d *Detector) Detect(ctx context.Context, img types.Image) ([]types.Detection, error) {
	e, ok := d.doc[img.SourceID]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNotRecorded, img.SourceID)
	}
	if e.Error != "" {
		return nil, errors.New(e.Error)
	}
	faces := make([]types.Detection, len(e.Faces))
	for i, f := range e.Faces {
		faces[i] = types.Detection{Box: types.BoxFromLoc(f.Loc), Embedding: append(types.Embedding(nil), f.Vec...)}
	}
	return faces, nil
}

// DetectFunc matches cluster.Detector's method so Recorder can wrap any detector.
type DetectFunc func(ctx context.Context, img types.Image) ([]types.Detection, error)

// Recorder wraps a detector and remembers every outcome it sees.
type Recorder struct {
	inner DetectFunc

	mu  sync.Mutex
	doc Document
}

// NewRecorder wraps inner.
func NewRecorder(inner DetectFunc) *Recorder {
	return &Recorder{inner: inner, doc: Document{}}
}

// Detect calls the wrapped detector and records its result.
func (r *Recorder) Detect(ctx context.Context, img types.Image) ([]types.Detection, error) {
	faces, err := r.inner(ctx, img)
	if ctx.Err() != nil {
		return faces, err
	}

	entry := Entry{}
	if err != nil {
		entry.Error = err.Error()
	}
	for _, f := range faces {
		entry.Faces = append(entry.Faces, Face{
			Loc: []int{f.Box.Top, f.Box.Right, f.Box.Bottom, f.Box.Left},
			Vec: f.Embedding,
		})
	}

	r.mu.Lock()
	r.doc[img.SourceID] = entry
	r.mu.Unlock()
	return faces, err
}

// Document returns what has been recorded so far.
func (r *Recorder) Document() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Document, len(r.doc))
	for k, v := range r.doc {
		out[k] = v
	}
	return out
}

// WriteFile saves doc as YAML.
func WriteFile(path string, doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
