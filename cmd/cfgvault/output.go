package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/assetforge/cfgvault/pkg/versioning"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printOutput renders v in the --output format. table draws the
// human-readable form and is only called for the table format.
func (c *cli) printOutput(v any, table func(w io.Writer)) error {
	switch f := strings.ToLower(c.outputFormat()); f {
	case formatTable, "":
		table(c.out)
		return nil
	case formatJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		doc, err := jsonShape(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(c.out)
		defer enc.Close()
		enc.SetIndent(2)
		return enc.Encode(doc)
	default:
		return versioning.Errorf(versioning.KindValidation, "output",
			"unknown output format %q (expected %s, %s or %s)", f, formatTable, formatJSON, formatYAML)
	}
}

// jsonShape returns v as the generic maps and slices encoding/json would
// produce, so YAML keys follow the json struct tags.
func jsonShape(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	err = json.Unmarshal(raw, &doc)
	return doc, err
}

// table is a column-aligned listing with an upper-cased header row.
type table struct {
	tw *tabwriter.Writer
}

func newTable(w io.Writer, columns ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)}
	for i := range columns {
		columns[i] = strings.ToUpper(columns[i])
	}
	t.row(columns...)
	return t
}

func (t *table) row(cells ...string) {
	fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

func (t *table) flush() {
	_ = t.tw.Flush()
}

// printFields writes one object as aligned "label: value" lines.
func printFields(w io.Writer, fields [][2]string) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(tw, "%s:\t%s\n", f[0], f[1])
	}
	_ = tw.Flush()
}

// truncate cuts s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n < 2 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
