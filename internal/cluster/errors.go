package cluster

import "fmt"

// DetectionError records an image the detector could not process. The pass continues without it.
type DetectionError struct {
	SourceID string
	Path     string
	Err      error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect faces in %s: %v", e.SourceID, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// RenderError records an image the renderer could not annotate.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("label %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
