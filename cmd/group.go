package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"github.com/andresmejia3/facegroup/internal/config"
	"github.com/andresmejia3/facegroup/internal/fixture"
	"github.com/andresmejia3/facegroup/internal/logging"
	"github.com/andresmejia3/facegroup/internal/matcher"
	"github.com/andresmejia3/facegroup/internal/render"
	"github.com/andresmejia3/facegroup/internal/store"
	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/andresmejia3/facegroup/internal/utils"
	"github.com/andresmejia3/facegroup/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// previewCount is how many enumerated file names are echoed before a pass.
const previewCount = 10

var groupOpts Options

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group the faces found in a folder of images into people",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyConfigDefaults(cmd, &groupOpts)
		err := runGroup(cmd.Context(), groupOpts, cmd.OutOrStdout())
		if err != nil && !errors.Is(err, context.Canceled) {
			utils.ShowError("Grouping failed", err, nil)
		}
		return err
	},
	SilenceUsage: true,
}

func init() {
	groupCmd.Flags().StringVarP(&groupOpts.InputPath, "input", "i", "", "Folder of images to group")
	groupCmd.Flags().Float64VarP(&groupOpts.MatchThreshold, "threshold", "t", matcher.DefaultThreshold, "Face matching threshold (lower is stricter)")
	groupCmd.Flags().StringVar(&groupOpts.Policy, "policy", "first", "Which matching person wins when several are within the threshold: first or nearest")
	groupCmd.Flags().IntVarP(&groupOpts.NumEngines, "engines", "e", 1, "Number of parallel detector workers")
	groupCmd.Flags().StringVar(&groupOpts.EmbeddingsFile, "embeddings", "", "Use recorded detections from a YAML/JSON file instead of the Python worker")
	groupCmd.Flags().StringVar(&groupOpts.RecordFile, "record", "", "Write every detection of this pass to a YAML file for later --embeddings runs")
	groupCmd.Flags().StringVarP(&groupOpts.OutputDir, "output", "o", "", "Write labeled copies of the images into this folder")
	groupCmd.Flags().StringVarP(&groupOpts.Format, "format", "f", "table", "Summary format: table, json or yaml")
	groupCmd.Flags().BoolVar(&groupOpts.Save, "save", false, "Persist the result to PostgreSQL")

	groupCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(groupCmd)
}

// applyConfigDefaults fills options the user did not set on the command line from the environment.
func applyConfigDefaults(cmd *cobra.Command, opts *Options) {
	if cfg == nil {
		cfg = config.Load()
	}
	flags := cmd.Flags()
	if flags.Lookup("threshold") != nil && !flags.Changed("threshold") {
		opts.MatchThreshold = cfg.Grouping.Threshold
	}
	if flags.Lookup("policy") != nil && !flags.Changed("policy") && cfg.Grouping.Policy != "" {
		opts.Policy = cfg.Grouping.Policy
	}
	if flags.Lookup("engines") != nil && !flags.Changed("engines") {
		opts.NumEngines = cfg.Worker.Engines
	}
}

func validateGroupFlags(opts *Options) error {
	if opts.InputPath == "" {
		return errors.New("--input is required")
	}
	if opts.NumEngines < 1 {
		return fmt.Errorf("--engines must be at least 1 (got %d)", opts.NumEngines)
	}
	if math.IsNaN(opts.MatchThreshold) || opts.MatchThreshold < 0 {
		return fmt.Errorf("--threshold must be a non-negative number (got %v)", opts.MatchThreshold)
	}
	if _, err := matcher.ParsePolicy(opts.Policy); err != nil {
		return err
	}
	if opts.Format == "" {
		opts.Format = "table"
	}
	if !validFormat(opts.Format) {
		return fmt.Errorf("unknown output format %q", opts.Format)
	}
	if opts.EmbeddingsFile != "" {
		if _, err := os.Stat(opts.EmbeddingsFile); err != nil {
			return fmt.Errorf("embeddings file: %w", err)
		}
	}
	if opts.OutputDir != "" {
		in, _ := filepath.Abs(opts.InputPath)
		out, _ := filepath.Abs(opts.OutputDir)
		if in == out {
			return errors.New("--output must be a different folder than --input")
		}
	}
	return nil
}

// newDetector picks the recorded detections when a file is given, the Python pool otherwise.
// The returned func releases whatever was started.
func newDetector(ctx context.Context, opts Options) (cluster.Detector, func(), error) {
	if opts.EmbeddingsFile != "" {
		doc, err := fixture.Load(opts.EmbeddingsFile)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "📼 Replaying %d recorded images from %s\n", len(doc), opts.EmbeddingsFile)
		return fixture.NewDetector(doc), func() {}, nil
	}

	if cfg == nil {
		cfg = config.Load()
	}
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)
	pool, err := worker.NewPool(ctx, opts.NumEngines, worker.Config{
		Python: cfg.Worker.Python,
		Script: cfg.Worker.Script,
		Dim:    cfg.Worker.EmbeddingDim,
	}, logging.Component(log, "worker"))
	if err != nil {
		return nil, nil, fmt.Errorf("worker startup failed: %w", err)
	}
	return pool, pool.Close, nil
}

// runGroup enumerates the input folder, runs one pass and reports it. Labeling and persistence are optional follow-ups.
func runGroup(ctx context.Context, opts Options, out io.Writer) error {
	if err := validateGroupFlags(&opts); err != nil {
		return err
	}
	policy, _ := matcher.ParsePolicy(opts.Policy)

	// 1. Enumerate
	images, err := utils.ListImages(opts.InputPath)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	fmt.Fprintf(os.Stderr, "📂 Found %d images in %s\n", len(images), opts.InputPath)
	for i, img := range images {
		if i == previewCount {
			fmt.Fprintf(os.Stderr, "   ... and %d more\n", len(images)-previewCount)
			break
		}
		fmt.Fprintf(os.Stderr, "   %s\n", img.SourceID)
	}

	// 2. Detector
	det, release, err := newDetector(ctx, opts)
	if err != nil {
		return err
	}
	defer release()

	var recorder *fixture.Recorder
	if opts.RecordFile != "" {
		recorder = fixture.NewRecorder(det.Detect)
		det = recorder
	}

	// 3. Pass
	total := len(images)
	if total == 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Grouping faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	engine := cluster.NewEngine(
		cluster.WithMatcher(matcher.Matcher{Threshold: opts.MatchThreshold, Policy: policy}),
		cluster.WithConcurrency(opts.NumEngines),
		cluster.WithLogger(logging.Component(log, "engine")),
		cluster.WithProgress(func(types.Image) { bar.Add(1) }),
	)
	res, err := engine.RunPass(ctx, images, det)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	if recorder != nil {
		if err := fixture.WriteFile(opts.RecordFile, recorder.Document()); err != nil {
			return fmt.Errorf("failed to write recorded detections: %w", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Recorded detections to %s\n", opts.RecordFile)
	}

	// 4. Report
	fmt.Fprintf(os.Stderr, "🏁 Pass complete. %d faces in %d images, %d without faces, %d failed.\n",
		res.FacesDetected, res.ImagesProcessed, res.ImagesEmpty, len(res.Failures))
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stderr, "⚠️  Skipped %s: %v\n", f.SourceID, f.Err)
	}
	if err := writeSummary(out, cluster.Summarize(res.Partition), opts.Format); err != nil {
		return err
	}

	// 5. Labeled copies
	if opts.OutputDir != "" {
		if err := writeLabels(ctx, res.Partition, opts.OutputDir); err != nil {
			return err
		}
	}

	// 6. Persist
	if opts.Save {
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		hashes := make(map[string]string, len(images))
		for _, img := range images {
			if h, err := utils.ImageFingerprint(img.Path); err == nil {
				hashes[img.Path] = h
			}
		}
		id, err := db.SavePass(ctx, store.Run{
			InputPath: opts.InputPath,
			Threshold: opts.MatchThreshold,
			Policy:    policy.String(),
			Images:    len(images),
			Failed:    len(res.Failures),
		}, res.Partition, hashes)
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		fmt.Fprintf(os.Stderr, "🗄️  Saved run %s\n", id)
	}
	return nil
}

// writeLabels renders the labeled copies of every image that contributed a face.
func writeLabels(ctx context.Context, p cluster.Partition, dir string) error {
	r, err := render.New(dir)
	if err != nil {
		return fmt.Errorf("failed to prepare output folder: %w", err)
	}
	outcome, err := cluster.ApplyLabels(ctx, cluster.LabelPlan(p), r)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "🖼️  Wrote %d labeled images to %s\n", len(outcome.Outputs), dir)
	for _, f := range outcome.Failures {
		fmt.Fprintf(os.Stderr, "⚠️  Could not label %s: %v\n", f.Path, f.Err)
	}
	return nil
}
