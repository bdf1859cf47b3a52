// Package input loads identifier lists from a comma separated argument or
// from .txt, .json, .yaml, .csv and .parquet files.
package input

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// ErrUnsupported is returned for files whose extension has no loader.
var ErrUnsupported = errors.New("unsupported identifier file")

// Columns searched, in order, when reading tabular files. The first column is
// used when none match.
var Columns = []string{"processo", "processo_numero", "numero", "cnj", "identifier"}

// listDocument is the object form accepted by the JSON and YAML loaders.
type listDocument struct {
	Processos []string `json:"processos" yaml:"processos"`
}

// Load treats source as a path when a file exists there and as a comma
// separated list otherwise. Blank entries are dropped.
func Load(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		return Split(source), nil
	}
	return LoadFile(source)
}

// Split parses a comma separated list.
func Split(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFile dispatches on the file extension.
func LoadFile(path string) ([]string, error) {
	var (
		ids []string
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		ids, err = loadText(path)
	case ".json":
		ids, err = loadJSON(path)
	case ".yaml", ".yml":
		ids, err = loadYAML(path)
	case ".csv":
		ids, err = loadCSV(path)
	case ".parquet":
		ids, err = loadParquet(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return compact(ids), nil
}

func loadText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return strings.Split(string(data), "\n"), nil
}

func loadJSON(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc listDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return doc.Processos, nil
}

func loadYAML(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc listDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return doc.Processos, nil
}

func loadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := pickColumn(header)

	var ids []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if col < len(row) {
			ids = append(ids, row[col])
		}
	}
}

func pickColumn(header []string) int {
	for _, want := range Columns {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), want) {
				return i
			}
		}
	}
	return 0
}

func loadParquet(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	schema := pf.Schema()
	fields := schema.Fields()
	if len(fields) == 0 {
		return nil, nil
	}
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}
	leaf, ok := schema.Lookup(names[pickColumn(names)])
	if !ok {
		return nil, fmt.Errorf("column %s is not a leaf", names[pickColumn(names)])
	}

	var ids []string
	for _, rg := range pf.RowGroups() {
		values, err := readColumn(rg.ColumnChunks()[leaf.ColumnIndex])
		if err != nil {
			return nil, err
		}
		ids = append(ids, values...)
	}
	return ids, nil
}

func readColumn(chunk parquet.ColumnChunk) ([]string, error) {
	pages := chunk.Pages()
	defer pages.Close()

	var out []string
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		buf := make([]parquet.Value, page.NumValues())
		n, err := page.Values().ReadValues(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read values: %w", err)
		}
		for _, v := range buf[:n] {
			if !v.IsNull() {
				out = append(out, v.String())
			}
		}
	}
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
