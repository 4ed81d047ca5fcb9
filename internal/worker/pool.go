package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/rs/zerolog"
)

// Pool shares a fixed number of Python workers between concurrent Detect calls.
// A worker whose process dies is replaced on its next use.
type Pool struct {
	ctx context.Context
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	nextID int

	// idle holds exactly size slots; a nil slot is a worker waiting to be respawned.
	idle chan *PythonWorker
}

// NewPool starts size workers. It fails if any of them cannot start.
func NewPool(ctx context.Context, size int, cfg Config, log zerolog.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		ctx:  ctx,
		cfg:  cfg.withDefaults(),
		log:  log,
		idle: make(chan *PythonWorker, size),
	}
	for i := 0; i < size; i++ {
		w, err := p.spawn()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idle <- w
	}
	return p, nil
}

func (p *Pool) spawn() (*PythonWorker, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()
	return NewPythonWorker(p.ctx, id, p.cfg)
}

// Detect implements cluster.Detector. Errors are per image; the pool stays usable.
func (p *Pool) Detect(ctx context.Context, img types.Image) ([]types.Detection, error) {
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return nil, err
	}

	var w *PythonWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if w == nil {
		if w, err = p.spawn(); err != nil {
			p.idle <- nil
			return nil, fmt.Errorf("respawn worker: %w", err)
		}
	}

	faces, err := w.ProcessImage(data)
	if errors.Is(err, ErrTransport) {
		// DRAIN: Wait for process to exit and capture final stderr logs
		w.Close()
		ev := p.log.Warn().Int("worker", w.ID).Str("image", img.SourceID).Err(err)
		if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
			ev = ev.Str("stderr", w.Cmd.Stderr.String())
		}
		ev.Msg("worker crashed, replacing")
		w = nil
	}
	p.idle <- w
	return faces, err
}

// Close stops every worker. It must not be called while Detect calls are in flight.
func (p *Pool) Close() {
	for {
		select {
		case w := <-p.idle:
			if w != nil {
				w.Close()
			}
		default:
			return
		}
	}
}
