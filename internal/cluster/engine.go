package cluster

import (
	"context"
	"sync"

	"github.com/andresmejia3/facegroup/internal/matcher"
	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/rs/zerolog"
)

// Detector is the face detector/encoder collaborator.
// A returned error is treated as a per-image failure.
type Detector interface {
	Detect(ctx context.Context, img types.Image) ([]types.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img types.Image) ([]types.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img types.Image) ([]types.Detection, error) {
	return f(ctx, img)
}

// Result is the outcome of one pass.
type Result struct {
	Partition       Partition
	Failures        []*DetectionError
	ImagesProcessed int // images that contributed at least one face
	ImagesEmpty     int // images where the detector found no face
	FacesDetected   int
}

// Engine runs clustering passes. It keeps no state between passes.
type Engine struct {
	matcher     matcher.Matcher
	concurrency int
	log         zerolog.Logger
	progress    func(img types.Image)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatcher sets the threshold and tie-break policy.
func WithMatcher(m matcher.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithConcurrency sets how many images are detected in parallel. Matching stays sequential.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger used to record skipped images.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithProgress registers a callback invoked once per image, in input order, after it has been matched.
func WithProgress(fn func(img types.Image)) Option {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine returns an engine using the first-match policy at the default threshold.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		matcher:     matcher.Default(),
		concurrency: 1,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type imageTask struct {
	Index int
	Image types.Image
}

// detectResult wraps the output of a detector call to be sent to the aggregator
type detectResult struct {
	imageTask
	Faces []types.Detection
	Err   error
}

// RunPass clusters every face of every image from an empty partition.
// Detection may run in parallel; results are put back into input order before matching.
// The only error returned is ctx's.
func (e *Engine) RunPass(ctx context.Context, images []types.Image, det Detector) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskChan := make(chan imageTask, e.concurrency)
	resultsChan := make(chan detectResult, e.concurrency*2)
	var wg sync.WaitGroup

	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				faces, err := det.Detect(ctx, task.Image)
				select {
				case resultsChan <- detectResult{imageTask: task, Faces: faces, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i, img := range images {
			select {
			case taskChan <- imageTask{Index: i, Image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	b := NewBuilder(e.matcher)
	res := &Result{}

	// Worker 2 might finish before worker 1
	buffer := make(map[int]detectResult)
	next := 0
	for r := range resultsChan {
		buffer[r.Index] = r
		for {
			dr, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			e.consume(b, res, dr)
			next++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Partition = b.Partition()
	e.log.Info().
		Int("images", len(images)).
		Int("faces", res.FacesDetected).
		Int("identities", len(res.Partition)).
		Int("failed", len(res.Failures)).
		Msg("pass complete")
	return res, nil
}

func (e *Engine) consume(b *Builder, res *Result, dr detectResult) {
	if e.progress != nil {
		defer e.progress(dr.Image)
	}

	if dr.Err != nil {
		res.Failures = append(res.Failures, &DetectionError{SourceID: dr.Image.SourceID, Path: dr.Image.Path, Err: dr.Err})
		e.log.Warn().Err(dr.Err).Str("image", dr.Image.SourceID).Msg("detection failed, skipping image")
		return
	}
	if len(dr.Faces) == 0 {
		res.ImagesEmpty++
		e.log.Debug().Str("image", dr.Image.SourceID).Msg("no faces found")
		return
	}

	res.ImagesProcessed++
	for _, face := range dr.Faces {
		res.FacesDetected++
		name := b.Add(FaceObservation{
			SourceID:  dr.Image.SourceID,
			Path:      dr.Image.Path,
			Box:       face.Box,
			Embedding: face.Embedding,
		})
		e.log.Debug().Str("image", dr.Image.SourceID).Str("identity", name).Msg("face assigned")
	}
}
