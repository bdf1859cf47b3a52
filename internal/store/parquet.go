package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/extract"
)

// Row is the persisted shape of a record.
type Row struct {
	Identifier   string  `parquet:"identifier" json:"identifier"`
	ExtractedAt  string  `parquet:"extracted_at" json:"extracted_at"`
	Success      bool    `parquet:"success" json:"success"`
	ErrorMessage *string `parquet:"error_message,optional" json:"error_message,omitempty"`
	ErrorKind    string  `parquet:"error_kind" json:"error_kind,omitempty"`
	SourceURL    string  `parquet:"source_url" json:"source_url,omitempty"`
	Source       string  `parquet:"source" json:"source,omitempty"`
	Class        string  `parquet:"class" json:"class,omitempty"`
	Subject      string  `parquet:"subject" json:"subject,omitempty"`
	Rapporteur   string  `parquet:"rapporteur" json:"rapporteur,omitempty"`
	Origin       string  `parquet:"origin" json:"origin,omitempty"`
	FiledAt      string  `parquet:"filed_at" json:"filed_at,omitempty"`
	Status       string  `parquet:"status" json:"status,omitempty"`
	Parties      string  `parquet:"parties" json:"parties,omitempty"`
	Movements    string  `parquet:"movements" json:"movements,omitempty"`
	Documents    string  `parquet:"documents" json:"documents,omitempty"`
	Decisions    string  `parquet:"decisions" json:"decisions,omitempty"`
	FullText     string  `parquet:"full_text" json:"full_text,omitempty"`
	TextLength   int64   `parquet:"text_length" json:"text_length"`
	Extra        string  `parquet:"extra" json:"extra,omitempty"`
}

// ExtractedTime parses ExtractedAt, returning the zero time when it is not
// a valid timestamp.
func (r Row) ExtractedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.ExtractedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RowFromRecord flattens rec into a Row. Structured fields become JSON text
// and unknown fields are collected into Extra.
func RowFromRecord(rec crawler.Record) (Row, error) {
	row := Row{
		Identifier:  rec.Identifier,
		ExtractedAt: rec.ExtractedAt.UTC().Format(time.RFC3339Nano),
		Success:     rec.Success,
		ErrorKind:   string(rec.ErrorKind),
		SourceURL:   rec.SourceURL,
		Source:      rec.Source,
	}
	if !rec.Success {
		msg := rec.Error
		row.ErrorMessage = &msg
	}

	strFields := map[string]*string{
		extract.FieldClass:      &row.Class,
		extract.FieldSubject:    &row.Subject,
		extract.FieldRapporteur: &row.Rapporteur,
		extract.FieldOrigin:     &row.Origin,
		extract.FieldFiledAt:    &row.FiledAt,
		extract.FieldStatus:     &row.Status,
		extract.FieldFullText:   &row.FullText,
	}
	jsonFields := map[string]*string{
		extract.FieldParties:   &row.Parties,
		extract.FieldMovements: &row.Movements,
		extract.FieldDocuments: &row.Documents,
		extract.FieldDecisions: &row.Decisions,
	}
	extra := make(map[string]any)
	for key, value := range rec.Fields {
		if dst, ok := strFields[key]; ok {
			*dst = fmt.Sprint(value)
			continue
		}
		if dst, ok := jsonFields[key]; ok {
			encoded, err := json.Marshal(value)
			if err != nil {
				return Row{}, fmt.Errorf("encode %s for %s: %w", key, rec.Identifier, err)
			}
			*dst = string(encoded)
			continue
		}
		extra[key] = value
	}
	if len(extra) > 0 {
		encoded, err := json.Marshal(extra)
		if err != nil {
			return Row{}, fmt.Errorf("encode extra fields for %s: %w", rec.Identifier, err)
		}
		row.Extra = string(encoded)
	}
	row.TextLength = int64(len([]rune(row.FullText)))
	return row, nil
}

// Encodable returns rec when it flattens into a Row. Otherwise it returns a
// parse failure for the same identifier carrying the encode error, so the
// identifier is still persisted.
func Encodable(rec crawler.Record) crawler.Record {
	if _, err := RowFromRecord(rec); err != nil {
		return encodeFailure(rec, err)
	}
	return rec
}

func encodeFailure(rec crawler.Record, err error) crawler.Record {
	failed := crawler.FailedRecord(rec.Identifier, crawler.FailureParse, err.Error(), rec.ExtractedAt)
	failed.SourceURL = rec.SourceURL
	failed.Source = rec.Source
	return failed
}

// EncodeRows writes rows as a snappy-compressed parquet file.
func EncodeRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[Row](&buf, parquet.Compression(&parquet.Snappy))
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows reads every row of a parquet file produced by EncodeRows.
func DecodeRows(data []byte) ([]Row, error) {
	if len(data) == 0 {
		return nil, nil
	}
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}

// MergePolicy decides which row survives when two share an identifier.
type MergePolicy string

// Supported merge policies.
const (
	// MergeLastWrite keeps the row merged last.
	MergeLastWrite MergePolicy = "last_write"
	// MergePreferSuccess keeps the latest successful row; a failure only
	// replaces another failure.
	MergePreferSuccess MergePolicy = "prefer_success"
)

// ParseMergePolicy validates a policy name. Empty selects MergeLastWrite.
func ParseMergePolicy(name string) (MergePolicy, error) {
	switch MergePolicy(name) {
	case "", MergeLastWrite:
		return MergeLastWrite, nil
	case MergePreferSuccess:
		return MergePreferSuccess, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", name)
	}
}

// Merge concatenates existing and incoming and keeps one row per identifier.
// Output order follows the first appearance of each identifier.
func Merge(existing, incoming []Row, policy MergePolicy) []Row {
	index := make(map[string]int, len(existing)+len(incoming))
	merged := make([]Row, 0, len(existing)+len(incoming))
	for _, batch := range [][]Row{existing, incoming} {
		for _, row := range batch {
			pos, seen := index[row.Identifier]
			if !seen {
				index[row.Identifier] = len(merged)
				merged = append(merged, row)
				continue
			}
			if policy == MergePreferSuccess && merged[pos].Success && !row.Success {
				continue
			}
			merged[pos] = row
		}
	}
	return merged
}
