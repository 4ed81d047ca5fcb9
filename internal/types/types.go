package types

// Image is one enumerated input photograph.
type Image struct {
	SourceID string // display name, e.g. "beach.jpg"
	Path     string
}

// Box is a face region in pixel coordinates, in the detector's [top, right, bottom, left] order.
type Box struct {
	Top    int `json:"top" yaml:"top"`
	Right  int `json:"right" yaml:"right"`
	Bottom int `json:"bottom" yaml:"bottom"`
	Left   int `json:"left" yaml:"left"`
}

// BoxFromLoc converts a [top, right, bottom, left] slice into a Box.
// Short slices yield a zero Box.
func BoxFromLoc(loc []int) Box {
	if len(loc) != 4 {
		return Box{}
	}
	return Box{Top: loc[0], Right: loc[1], Bottom: loc[2], Left: loc[3]}
}

// Embedding is a fixed-length face encoding produced by the detector.
type Embedding []float64

// Detection is a single face returned by the detector/encoder.
type Detection struct {
	Box       Box
	Embedding Embedding
}
