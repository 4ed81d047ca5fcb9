package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"table", "json", "yaml"}

func validFormat(f string) bool {
	for _, v := range outputFormats {
		if v == f {
			return true
		}
	}
	return false
}

// writeSummary prints s to w in the requested format.
func writeSummary(w io.Writer, s cluster.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		data, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(outputFormats, ", "))
	}

	if s.TotalIdentities == 0 {
		_, err := fmt.Fprintln(w, "No faces found.")
		return err
	}

	rows := make([][]string, 0, len(s.Identities))
	for _, id := range s.Identities {
		rows = append(rows, []string{id.Name, strconv.Itoa(id.ObservationCount), strings.Join(id.SourceIDs, ", ")})
	}
	table := renderTable([]string{"IDENTITY", "FACES", "IMAGES"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft})
	_, err := fmt.Fprintf(w, "%s\nTotal people: %d\n", table, s.TotalIdentities)
	return err
}
