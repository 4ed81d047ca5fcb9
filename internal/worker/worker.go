package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/andresmejia3/facegroup/internal/utils" // Using the SafeCommand wrapper
)

// DefaultEmbeddingDim matches the 128-d encodings of dlib-based face encoders.
const DefaultEmbeddingDim = 128

// maxFaces guards against reading a garbage face count.
const maxFaces = 4096

var (
	// ErrWorker marks an error reported by the Python side. The worker is still usable.
	ErrWorker = errors.New("python worker error")
	// ErrTransport marks a broken pipe or dead process. The worker must be replaced.
	ErrTransport = errors.New("worker transport failed")
)

// Config describes how to start a detector process.
type Config struct {
	Python string // interpreter, defaults to python3
	Script string // defaults to python/worker.py
	Dim    int    // embedding dimensionality, defaults to DefaultEmbeddingDim
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Script == "" {
		c.Script = "python/worker.py"
	}
	if c.Dim <= 0 {
		c.Dim = DefaultEmbeddingDim
	}
	return c
}

// PythonWorker drives one detector/encoder process. It is not safe for concurrent use; see Pool.
type PythonWorker struct {
	ID       int
	Dim      int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonWorker starts the detector script.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	cfg = cfg.withDefaults()

	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Dim:      cfg.Dim,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed frame and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessImage sends encoded image bytes and decodes the faces found in them.
func (w *PythonWorker) ProcessImage(data []byte) ([]types.Detection, error) {
	resp, err := w.Communicate(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return decodeResponse(resp, w.dim())
}

// Detect reads the image file and runs it through the worker.
func (w *PythonWorker) Detect(ctx context.Context, img types.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return nil, err
	}
	return w.ProcessImage(data)
}

func (w *PythonWorker) dim() int {
	if w.Dim <= 0 {
		return DefaultEmbeddingDim
	}
	return w.Dim
}

// decodeResponse parses
// [Status:0] [NumFaces:u32] then per face [Box: 4 x i32 top,right,bottom,left] [Vec: dim x f32]
// [Status:1] [MsgLen:u32] [Msg]
func decodeResponse(resp []byte, dim int) ([]types.Detection, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: unreadable error message", ErrWorker)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrWorker)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}
	if count > maxFaces {
		return nil, fmt.Errorf("implausible face count %d", count)
	}

	faces := make([]types.Detection, 0, count)
	vec := make([]float32, dim)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("read box %d: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, fmt.Errorf("read embedding %d: %w", i, err)
		}

		emb := make(types.Embedding, dim)
		for j, v := range vec {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("embedding %d contains NaN", i)
			}
			emb[j] = float64(v)
		}
		faces = append(faces, types.Detection{
			Box:       types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Embedding: emb,
		})
	}
	return faces, nil
}

// Close shuts the process down and waits for it to exit.
func (w *PythonWorker) Close() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
