package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"github.com/andresmejia3/facegroup/internal/fixture"
	"github.com/andresmejia3/facegroup/internal/matcher"
	"github.com/andresmejia3/facegroup/internal/store"
	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/rs/zerolog"
)

func init() {
	log = zerolog.Nop()
}

func TestValidateGroupFlags(t *testing.T) {
	dir := t.TempDir()
	fixtureFile := filepath.Join(dir, "faces.yaml")
	if err := os.WriteFile(fixtureFile, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	valid := Options{InputPath: dir, NumEngines: 1, MatchThreshold: 0.6, Policy: "first", Format: "table"}

	tests := []struct {
		name    string
		modify  func(o *Options)
		wantErr bool
	}{
		{name: "Valid defaults", modify: func(o *Options) {}},
		{name: "Missing input", modify: func(o *Options) { o.InputPath = "" }, wantErr: true},
		{name: "Zero engines", modify: func(o *Options) { o.NumEngines = 0 }, wantErr: true},
		{name: "Negative threshold", modify: func(o *Options) { o.MatchThreshold = -0.1 }, wantErr: true},
		{name: "NaN threshold", modify: func(o *Options) { o.MatchThreshold = math.NaN() }, wantErr: true},
		{name: "Zero threshold is allowed", modify: func(o *Options) { o.MatchThreshold = 0 }},
		{name: "Nearest policy", modify: func(o *Options) { o.Policy = "nearest" }},
		{name: "Unknown policy", modify: func(o *Options) { o.Policy = "closest" }, wantErr: true},
		{name: "Empty format defaults to table", modify: func(o *Options) { o.Format = "" }},
		{name: "Unknown format", modify: func(o *Options) { o.Format = "xml" }, wantErr: true},
		{name: "Existing embeddings file", modify: func(o *Options) { o.EmbeddingsFile = fixtureFile }},
		{name: "Missing embeddings file", modify: func(o *Options) { o.EmbeddingsFile = filepath.Join(dir, "nope.yaml") }, wantErr: true},
		{name: "Output equals input", modify: func(o *Options) { o.OutputDir = dir + "/" }, wantErr: true},
		{name: "Missing input folder is not an error", modify: func(o *Options) { o.InputPath = filepath.Join(dir, "missing") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.modify(&opts)
			err := validateGroupFlags(&opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateGroupFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatal(err)
	}
}

// groupFixture lays out a folder with three images and a recorded detection file:
// a.png has two people, b.png repeats the first one and c.png fails.
func groupFixture(t *testing.T) (inputDir, fixtureFile string) {
	t.Helper()
	root := t.TempDir()
	inputDir = filepath.Join(root, "photos")
	if err := os.Mkdir(inputDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, filepath.Join(inputDir, name))
	}
	if err := os.WriteFile(filepath.Join(inputDir, "notes.txt"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	doc := `
a.png:
  faces:
    - loc: [5, 30, 30, 5]
      vec: [0, 0]
    - loc: [35, 60, 60, 35]
      vec: [5, 5]
b.png:
  faces:
    - loc: [10, 40, 40, 10]
      vec: [0.1, 0]
c.png:
  error: "cannot identify image file"
`
	fixtureFile = filepath.Join(root, "faces.yaml")
	if err := os.WriteFile(fixtureFile, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return inputDir, fixtureFile
}

func TestRunGroupWithRecordedDetections(t *testing.T) {
	inputDir, fixtureFile := groupFixture(t)
	outputDir := filepath.Join(filepath.Dir(inputDir), "labeled")
	recordFile := filepath.Join(filepath.Dir(inputDir), "recorded.yaml")

	opts := Options{
		InputPath:      inputDir,
		NumEngines:     2,
		MatchThreshold: 0.6,
		Policy:         "first",
		EmbeddingsFile: fixtureFile,
		RecordFile:     recordFile,
		OutputDir:      outputDir,
		Format:         "json",
	}

	var out bytes.Buffer
	if err := runGroup(context.Background(), opts, &out); err != nil {
		t.Fatalf("runGroup failed: %v", err)
	}

	var got cluster.Summary
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, out.String())
	}
	want := cluster.Summary{
		TotalIdentities: 2,
		Identities: []cluster.IdentitySummary{
			{Name: "Person_1", ObservationCount: 2, SourceIDs: []string{"a.png", "b.png"}},
			{Name: "Person_2", ObservationCount: 1, SourceIDs: []string{"a.png"}},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("summary = %+v, want %+v", got, want)
	}

	for _, name := range []string{"labeled_a.png", "labeled_b.png"} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Errorf("expected labeled copy %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outputDir, "labeled_c.png")); !os.IsNotExist(err) {
		t.Errorf("failed image should not be labeled, stat err = %v", err)
	}

	recorded, err := fixture.Load(recordFile)
	if err != nil {
		t.Fatalf("recorded file unreadable: %v", err)
	}
	if len(recorded) != 3 {
		t.Fatalf("recorded %d images, want 3", len(recorded))
	}
	if len(recorded["a.png"].Faces) != 2 {
		t.Errorf("a.png recorded %d faces, want 2", len(recorded["a.png"].Faces))
	}
	if recorded["c.png"].Error != "cannot identify image file" {
		t.Errorf("c.png recorded error %q", recorded["c.png"].Error)
	}
}

func TestRunGroupReplayIsStable(t *testing.T) {
	inputDir, fixtureFile := groupFixture(t)

	run := func(engines int) string {
		var out bytes.Buffer
		opts := Options{InputPath: inputDir, NumEngines: engines, MatchThreshold: 0.6, Policy: "first", EmbeddingsFile: fixtureFile, Format: "yaml"}
		if err := runGroup(context.Background(), opts, &out); err != nil {
			t.Fatalf("runGroup failed: %v", err)
		}
		return out.String()
	}

	first := run(1)
	if second := run(4); second != first {
		t.Errorf("output changed with concurrency:\n%s\nvs\n%s", first, second)
	}
	if !strings.Contains(first, "total_people: 2") {
		t.Errorf("yaml summary missing total:\n%s", first)
	}
}

func TestRunGroupEmptyFolder(t *testing.T) {
	dir := t.TempDir()
	fixtureFile := filepath.Join(dir, "faces.yaml")
	if err := os.WriteFile(fixtureFile, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	opts := Options{InputPath: filepath.Join(dir, "missing"), NumEngines: 1, MatchThreshold: 0.6, EmbeddingsFile: fixtureFile, Format: "table"}
	if err := runGroup(context.Background(), opts, &out); err != nil {
		t.Fatalf("runGroup failed: %v", err)
	}
	if !strings.Contains(out.String(), "No faces found.") {
		t.Errorf("unexpected output for empty folder: %q", out.String())
	}
}

func TestWriteSummaryTable(t *testing.T) {
	s := cluster.Summary{
		TotalIdentities: 1,
		Identities:      []cluster.IdentitySummary{{Name: "Person_1", ObservationCount: 2, SourceIDs: []string{"x.jpg", "y.jpg"}}},
	}
	var out bytes.Buffer
	if err := writeSummary(&out, s, "table"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"IDENTITY", "Person_1", "x.jpg, y.jpg", "Total people: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("table output missing %q:\n%s", want, out.String())
		}
	}
	if err := writeSummary(&out, s, "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestMatchFaces(t *testing.T) {
	p := cluster.Partition{
		{Name: "Person_1", Representative: types.Embedding{0, 0}, Observations: []cluster.FaceObservation{
			{SourceID: "a.jpg"}, {SourceID: "a.jpg"}, {SourceID: "b.jpg"},
		}},
		{Name: "Person_2", Representative: types.Embedding{0.5, 0}},
	}
	faces := []types.Detection{
		{Box: types.Box{Top: 1}, Embedding: types.Embedding{0.4, 0}}, // within both, first wins
		{Box: types.Box{Top: 2}, Embedding: types.Embedding{9, 9}},   // nobody
	}

	got := matchFaces(p, faces, matcher.Default())
	if got[0].Person == nil || got[0].Person.Name != "Person_1" {
		t.Fatalf("face 1 matched %+v, want Person_1", got[0].Person)
	}
	if math.Abs(got[0].Distance-0.4) > 1e-9 {
		t.Errorf("face 1 distance = %v, want 0.4", got[0].Distance)
	}
	if got[1].Person != nil {
		t.Errorf("face 2 should not match, got %s", got[1].Person.Name)
	}

	nearest := matchFaces(p, faces, matcher.Matcher{Threshold: 0.6, Policy: matcher.NearestMatch})
	if nearest[0].Person == nil || nearest[0].Person.Name != "Person_2" {
		t.Errorf("nearest policy matched %+v, want Person_2", nearest[0].Person)
	}

	var out bytes.Buffer
	if err := writeMatches(&out, got); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "a.jpg, b.jpg") {
		t.Errorf("matches table should list each image once:\n%s", out.String())
	}
}

func TestRunsTable(t *testing.T) {
	runs := []store.Run{{
		ID:         "6f1c1b9e-3f65-4c55-9d0e-1d0c8a8e2b10",
		InputPath:  "/photos",
		Threshold:  0.6,
		Policy:     "first-match",
		Images:     12,
		Failed:     1,
		Identities: 3,
		Faces:      17,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}}
	got := runsTable(runs)
	for _, want := range []string{"6f1c1b9e-3f65-4c55-9d0e-1d0c8a8e2b10", "/photos", "0.6", "first-match", "17"} {
		if !strings.Contains(got, want) {
			t.Errorf("runs table missing %q:\n%s", want, got)
		}
	}
}
