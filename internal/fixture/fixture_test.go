package fixture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/facegroup/internal/types"
)

func TestLoad_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "faces.yaml")
	jsonPath := filepath.Join(dir, "faces.json")

	yamlDoc := `
a.jpg:
  faces:
    - loc: [10, 40, 50, 5]
      vec: [0.1, 0.2]
b.jpg:
  error: cannot identify image file
`
	jsonDoc := `{"a.jpg": {"faces": [{"loc": [10, 40, 50, 5], "vec": [0.1, 0.2]}]}, "b.jpg": {"error": "cannot identify image file"}}`

	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(jsonDoc), 0644); err != nil {
		t.Fatal(err)
	}

	fromYAML, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load(yaml) failed: %v", err)
	}
	fromJSON, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load(json) failed: %v", err)
	}
	if !reflect.DeepEqual(fromYAML, fromJSON) {
		t.Errorf("YAML and JSON documents differ: %+v vs %+v", fromYAML, fromJSON)
	}

	det := NewDetector(fromYAML)
	faces, err := det.Detect(context.Background(), types.Image{SourceID: "a.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	want := []types.Detection{{Box: types.Box{Top: 10, Right: 40, Bottom: 50, Left: 5}, Embedding: types.Embedding{0.1, 0.2}}}
	if !reflect.DeepEqual(faces, want) {
		t.Errorf("Detect() = %+v, want %+v", faces, want)
	}

	if _, err := det.Detect(context.Background(), types.Image{SourceID: "b.jpg"}); err == nil || err.Error() != "cannot identify image file" {
		t.Errorf("Expected recorded error, got %v", err)
	}
	if _, err := det.Detect(context.Background(), types.Image{SourceID: "c.jpg"}); !errors.Is(err, ErrNotRecorded) {
		t.Errorf("Expected ErrNotRecorded, got %v", err)
	}
}

func TestLoad_BadLoc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("a.jpg:\n  faces:\n    - loc: [1, 2]\n      vec: [0]\n"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for short loc")
	}
}

func TestRecorder_RoundTrip(t *testing.T) {
	inner := func(ctx context.Context, img types.Image) ([]types.Detection, error) {
		if img.SourceID == "broken.jpg" {
			return nil, errors.New("decode failed")
		}
		return []types.Detection{{Box: types.Box{Top: 1, Right: 2, Bottom: 3, Left: 4}, Embedding: types.Embedding{0.5, 0.25}}}, nil
	}
	rec := NewRecorder(inner)
	ctx := context.Background()
	rec.Detect(ctx, types.Image{SourceID: "ok.jpg"})
	rec.Detect(ctx, types.Image{SourceID: "broken.jpg"})

	path := filepath.Join(t.TempDir(), "rec.yaml")
	if err := WriteFile(path, rec.Document()); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	replay := NewDetector(doc)
	faces, err := replay.Detect(ctx, types.Image{SourceID: "ok.jpg"})
	if err != nil || len(faces) != 1 || faces[0].Box.Left != 4 || faces[0].Embedding[1] != 0.25 {
		t.Errorf("Replay of ok.jpg = %+v, %v", faces, err)
	}
	if _, err := replay.Detect(ctx, types.Image{SourceID: "broken.jpg"}); err == nil || err.Error() != "decode failed" {
		t.Errorf("Replay of broken.jpg error = %v", err)
	}
}
