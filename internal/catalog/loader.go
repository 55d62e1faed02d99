package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// Format is the encoding of a definition file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// envelope accepts either a full document or a bare job definition.
type envelope struct {
	schema.Document      `yaml:",inline"`
	schema.JobDefinition `yaml:",inline"`
}

func (e *envelope) document() schema.Document {
	doc := e.Document
	if len(doc.Jobs) == 0 && len(doc.Flows) == 0 && e.JobDefinition.Name != "" {
		doc.Jobs = []schema.JobDefinition{e.JobDefinition}
	}
	return doc
}

// Parse decodes a definition. YAML input may hold several documents
// separated by "---"; they are merged. A document that is a single job
// definition (top-level name, start, nodes) is accepted as well.
func Parse(data []byte, format Format) (*schema.Document, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML, "":
		return parseYAML(data)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported definition format %q", format)
	}
}

func parseYAML(data []byte) (*schema.Document, error) {
	out := &schema.Document{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var e envelope
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse YAML definition: %v", err).WithCause(err)
		}
		doc := e.document()
		out.Jobs = append(out.Jobs, doc.Jobs...)
		out.Flows = append(out.Flows, doc.Flows...)
	}
	return out, nil
}

func parseJSON(data []byte) (*schema.Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse JSON definition: %v", err).WithCause(err)
	}
	_, hasJobs := probe["jobs"]
	_, hasFlows := probe["flows"]
	if !hasJobs && !hasFlows {
		var def schema.JobDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse JSON job definition: %v", err).WithCause(err)
		}
		return &schema.Document{Jobs: []schema.JobDefinition{def}}, nil
	}
	var doc schema.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse JSON definition: %v", err).WithCause(err)
	}
	return &doc, nil
}

// LoadBytes parses and loads a definition.
func (c *Catalog) LoadBytes(data []byte, format Format) ([]*job.Job, error) {
	doc, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	return c.Load(doc)
}

// LoadFile parses and loads a definition file.
func (c *Catalog) LoadFile(path string) ([]*job.Job, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported definition file %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition %s: %w", path, err)
	}
	jobs, err := c.LoadBytes(data, format)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return jobs, nil
}

// LoadDir loads every YAML and JSON file in dir in lexical order, so a file
// may reference jobs and flows from files sorting before it.
func (c *Catalog) LoadDir(dir string) ([]*job.Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var all []*job.Job
	for _, f := range files {
		jobs, err := c.LoadFile(f)
		if err != nil {
			return all, err
		}
		all = append(all, jobs...)
	}
	return all, nil
}
