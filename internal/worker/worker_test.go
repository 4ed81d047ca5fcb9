package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/rs/zerolog"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// facePayload builds a status-0 response with one face per box.
func facePayload(dim int, boxes ...[4]int32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                        // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(boxes))) // NumFaces

	for i, box := range boxes {
		binary.Write(payload, binary.BigEndian, box) // Box
		vec := make([]float32, dim)
		vec[0] = 0.5 + float32(i) // Set one value to verify
		binary.Write(payload, binary.BigEndian, vec)
	}
	return payload.Bytes()
}

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	// Write the length header (Big Endian uint32)
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	// Write the body
	m.Write(payload)
	return m
}

func TestProcessImage(t *testing.T) {
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := framed(facePayload(128, [4]int32{10, 40, 50, 5}, [4]int32{60, 90, 100, 55}))

	w := &PythonWorker{
		ID:       1,
		Dim:      128,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputImage := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	faces, err := w.ProcessImage(inputImage)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	// Expect 4 bytes header + 4 bytes data
	if len(sentData) != 4+len(inputImage) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputImage), len(sentData))
	}

	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(faces))
	}
	want := types.Box{Top: 10, Right: 40, Bottom: 50, Left: 5}
	if faces[0].Box != want {
		t.Errorf("Expected box %+v, got %+v", want, faces[0].Box)
	}
	if len(faces[0].Embedding) != 128 {
		t.Fatalf("Expected 128-d embedding, got %d", len(faces[0].Embedding))
	}
	// Use epsilon for float comparison
	if math.Abs(faces[0].Embedding[0]-0.5) > 1e-9 || math.Abs(faces[1].Embedding[0]-1.5) > 1e-9 {
		t.Errorf("Unexpected embedding values %f, %f", faces[0].Embedding[0], faces[1].Embedding[0])
	}
}

func TestProcessImage_NoFaces(t *testing.T) {
	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(facePayload(128)),
	}
	faces, err := w.ProcessImage([]byte("img"))
	if err != nil || len(faces) != 0 {
		t.Errorf("Expected no faces and no error, got %v, %v", faces, err)
	}
}

func TestProcessImage_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR

	errMsg := "Python Exception: cannot identify image file"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessImage([]byte("image"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	if !errors.Is(err, ErrWorker) || errors.Is(err, ErrTransport) {
		t.Errorf("Expected a recoverable worker error, got %v", err)
	}
}

func TestProcessImage_Truncated(t *testing.T) {
	// Header promises 100 bytes, pipe closes after 3
	dataPipe := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(dataPipe, binary.BigEndian, uint32(100))
	dataPipe.Write([]byte{0, 0, 0})

	w := &PythonWorker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: dataPipe}
	if _, err := w.ProcessImage([]byte("image")); !errors.Is(err, ErrTransport) {
		t.Errorf("Expected transport error, got %v", err)
	}
}

func TestDecodeResponse_ShortEmbedding(t *testing.T) {
	// Worker configured for 512-d but the payload carries 128-d vectors
	if _, err := decodeResponse(facePayload(128, [4]int32{1, 2, 3, 4}), 512); err == nil {
		t.Error("Expected error for truncated embedding")
	}
}

func TestPoolDetect_WithMockWorker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0644); err != nil {
		t.Fatal(err)
	}

	p := &Pool{ctx: context.Background(), log: zerolog.Nop(), idle: make(chan *PythonWorker, 1)}
	p.idle <- &PythonWorker{
		Dim:      128,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(facePayload(128, [4]int32{1, 2, 3, 0})),
	}

	faces, err := p.Detect(context.Background(), types.Image{SourceID: "face.jpg", Path: path})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("Expected 1 face, got %d", len(faces))
	}
	if w := <-p.idle; w == nil {
		t.Error("Healthy worker was not returned to the pool")
	}
}

func TestPoolDetect_MissingFile(t *testing.T) {
	p := &Pool{ctx: context.Background(), log: zerolog.Nop(), idle: make(chan *PythonWorker, 1)}
	if _, err := p.Detect(context.Background(), types.Image{SourceID: "gone.jpg", Path: "/nonexistent/gone.jpg"}); err == nil {
		t.Error("Expected error for missing file")
	}
}
