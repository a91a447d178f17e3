package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"deploysync/internal/scheduler"
)

type outputFormat string

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
	outputYAML outputFormat = "yaml"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", outputText:
		return outputText, nil
	case outputJSON, outputYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

func writeRuns(w io.Writer, format outputFormat, runs []scheduler.Run) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(runs)
	default:
		for _, r := range runs {
			writeRunText(w, r)
		}
		return nil
	}
}

func writeRunText(w io.Writer, r scheduler.Run) {
	if r.Skipped {
		fmt.Fprintf(w, "%s: skipped (busy)\n", r.Job)
		return
	}
	d := r.Deployment
	fmt.Fprintf(w, "%s: %s\n", r.Job, d.CurrentStatus())
	for _, e := range d.CurrentExecutions() {
		fmt.Fprintf(w, "  %s %s: %s\n", e.Processor, e.Status, e.StatusDetails)
	}

	cs := d.CurrentChangeSet()
	if cs == nil {
		return
	}
	for _, p := range cs.CreatedPaths() {
		fmt.Fprintf(w, "  + %s\n", p)
	}
	for _, p := range cs.UpdatedPaths() {
		fmt.Fprintf(w, "  ~ %s\n", p)
	}
	for _, p := range cs.DeletedPaths() {
		fmt.Fprintf(w, "  - %s\n", p)
	}
}
