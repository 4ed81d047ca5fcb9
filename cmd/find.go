package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"github.com/andresmejia3/facegroup/internal/matcher"
	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/andresmejia3/facegroup/internal/utils"
	"github.com/spf13/cobra"
)

var findOpts Options

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Tell which person of a saved run each face in an image belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyConfigDefaults(cmd, &findOpts)
		return runFind(cmd.Context(), args[0], findOpts, cmd.OutOrStdout())
	},
}

func init() {
	findCmd.Flags().Float64VarP(&findOpts.MatchThreshold, "threshold", "t", matcher.DefaultThreshold, "Face matching threshold")
	findCmd.Flags().StringVar(&findOpts.Policy, "policy", "first", "Which matching person wins when several are within the threshold: first or nearest")
	findCmd.Flags().StringVar(&findOpts.RunID, "run", "latest", "Saved run to search")
	findCmd.Flags().StringVar(&findOpts.EmbeddingsFile, "embeddings", "", "Use recorded detections from a YAML/JSON file instead of the Python worker")
	rootCmd.AddCommand(findCmd)
}

// faceMatch is the verdict for one detected face.
type faceMatch struct {
	Box      types.Box
	Person   *cluster.Cluster // nil when nobody is within the threshold
	Distance float64
}

// matchFaces checks every face against the representatives of p with the same rule a pass uses.
func matchFaces(p cluster.Partition, faces []types.Detection, m matcher.Matcher) []faceMatch {
	reps := p.Representatives()
	out := make([]faceMatch, len(faces))
	for i, f := range faces {
		out[i] = faceMatch{Box: f.Box}
		if idx, ok := m.Match(f.Embedding, reps); ok {
			out[i].Person = &p[idx]
			out[i].Distance = matcher.Distance(f.Embedding, reps[idx])
		}
	}
	return out
}

func runFind(ctx context.Context, imagePath string, opts Options, out io.Writer) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	policy, err := matcher.ParsePolicy(opts.Policy)
	if err != nil {
		return err
	}

	db, err := openDB(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	id, err := resolveRun(ctx, db, opts.RunID)
	if err != nil {
		utils.ShowError("No run to search", err, nil)
		return err
	}
	_, p, err := db.LoadRun(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load run", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	opts.NumEngines = 1
	det, release, err := newDetector(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer release()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	img := types.Image{SourceID: filepath.Base(imagePath), Path: imagePath}
	faces, err := det.Detect(ctx, img)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}
	if len(faces) == 0 {
		fmt.Fprintln(out, "❌ No faces detected in the provided image.")
		return nil
	}

	return writeMatches(out, matchFaces(p, faces, matcher.Matcher{Threshold: opts.MatchThreshold, Policy: policy}))
}

func writeMatches(w io.Writer, matches []faceMatch) error {
	rows := make([][]string, 0, len(matches))
	for i, m := range matches {
		b := m.Box
		row := []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%d,%d,%d,%d", b.Top, b.Right, b.Bottom, b.Left),
			"-", "-", "",
		}
		if m.Person != nil {
			seen := make(map[string]bool)
			var images []string
			for _, obs := range m.Person.Observations {
				if !seen[obs.SourceID] {
					seen[obs.SourceID] = true
					images = append(images, obs.SourceID)
				}
			}
			row[2] = m.Person.Name
			row[3] = strconv.FormatFloat(m.Distance, 'f', 3, 64)
			row[4] = strings.Join(images, ", ")
		}
		rows = append(rows, row)
	}
	_, err := fmt.Fprintln(w, renderTable(
		[]string{"FACE", "BOX (T,R,B,L)", "PERSON", "DISTANCE", "SEEN IN"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return err
}
