package cluster

import (
	"context"

	"github.com/andresmejia3/facegroup/internal/types"
)

// Label is one box to draw with the identity name attached.
type Label struct {
	Box  types.Box
	Name string
}

// LabelTask gathers every label that belongs to one source image.
type LabelTask struct {
	SourceID string
	Path     string
	Labels   []Label
}

// Renderer is the image annotation collaborator. It returns the path of the annotated copy.
type Renderer interface {
	Render(ctx context.Context, task LabelTask) (string, error)
}

// LabelOutcome maps source paths to annotated copies. Failed images are absent from Outputs.
type LabelOutcome struct {
	Outputs  map[string]string
	Failures []*RenderError
}

// LabelPlan builds one task per distinct image referenced by p, in order of first
// reference (cluster order, then observation order). Labels follow the same order.
func LabelPlan(p Partition) []LabelTask {
	var tasks []LabelTask
	index := make(map[string]int)
	for _, c := range p {
		for _, obs := range c.Observations {
			i, ok := index[obs.Path]
			if !ok {
				i = len(tasks)
				index[obs.Path] = i
				tasks = append(tasks, LabelTask{SourceID: obs.SourceID, Path: obs.Path})
			}
			tasks[i].Labels = append(tasks[i].Labels, Label{Box: obs.Box, Name: c.Name})
		}
	}
	return tasks
}

// ApplyLabels hands every task to r exactly once. A failing image is recorded and skipped.
func ApplyLabels(ctx context.Context, tasks []LabelTask, r Renderer) (*LabelOutcome, error) {
	out := &LabelOutcome{Outputs: make(map[string]string, len(tasks))}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		dst, err := r.Render(ctx, task)
		if err != nil {
			out.Failures = append(out.Failures, &RenderError{Path: task.Path, Err: err})
			continue
		}
		out.Outputs[task.Path] = dst
	}
	return out, nil
}
