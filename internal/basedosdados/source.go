// Package basedosdados answers identifiers from the Base dos Dados public
// BigQuery dataset so they do not have to be fetched from the portal.
package basedosdados

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/cnj"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/extract"
)

// Defaults for Config.
const (
	DefaultTable     = "basedosdados.br_stf_decisoes.decisao"
	DefaultIDColumn  = "numero_processo"
	DefaultChunkSize = 500
)

var (
	tablePattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_]+){1,2}$`)
	columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// columnFields maps dataset columns onto record fields. Every row is also
// kept whole under extract.FieldDecisions.
var columnFields = map[string]string{
	"classe":           extract.FieldClass,
	"assunto_processo": extract.FieldSubject,
	"relator":          extract.FieldRapporteur,
	"procedencia":      extract.FieldOrigin,
	"data_autuacao":    extract.FieldFiledAt,
	"andamento":        extract.FieldStatus,
}

// Config selects the table and how identifiers are matched.
type Config struct {
	Table     string
	IDColumn  string
	ChunkSize int
}

// RowIterator is the part of *bigquery.RowIterator the source reads.
type RowIterator interface {
	Next(dst any) error
}

// Querier runs a parameterized query.
type Querier interface {
	Query(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error)
}

// ClientQuerier runs queries on a BigQuery client.
type ClientQuerier struct {
	Client *bigquery.Client
}

// Query implements Querier.
func (q ClientQuerier) Query(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error) {
	query := q.Client.Query(sql)
	query.Parameters = params
	it, err := query.Read(ctx)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Dial creates a BigQuery client billed to projectID.
func Dial(ctx context.Context, projectID string) (*bigquery.Client, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return client, nil
}

// Source looks identifiers up in the dataset.
type Source struct {
	cfg     Config
	querier Querier
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a Source.
func New(cfg Config, querier Querier, clk crawler.Clock, logger *zap.Logger) (*Source, error) {
	if querier == nil {
		return nil, errors.New("bigquery querier is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = DefaultIDColumn
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if !tablePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if !columnPattern.MatchString(cfg.IDColumn) {
		return nil, fmt.Errorf("invalid id column %q", cfg.IDColumn)
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, querier: querier, clock: clk, logger: logger.Named("basedosdados")}, nil
}

// Lookup returns one successful record per identifier found in the dataset,
// in input order. Identifiers are matched by their bare digits, so the
// dataset may store either the formatted or the unformatted number.
func (s *Source) Lookup(ctx context.Context, identifiers []string) ([]crawler.Record, error) {
	byDigits := make(map[string]string, len(identifiers))
	for _, id := range identifiers {
		byDigits[cnj.Digits(id)] = id
	}
	sql := fmt.Sprintf("SELECT * FROM `%s` WHERE CAST(%s AS STRING) IN UNNEST(@ids)", s.cfg.Table, s.cfg.IDColumn)

	found := make(map[string][]map[string]bigquery.Value)
	for start := 0; start < len(identifiers); start += s.cfg.ChunkSize {
		end := min(start+s.cfg.ChunkSize, len(identifiers))
		keys := make([]string, 0, 2*(end-start))
		for _, id := range identifiers[start:end] {
			keys = append(keys, id, cnj.Digits(id))
		}
		if err := s.query(ctx, sql, keys, byDigits, found); err != nil {
			return nil, err
		}
	}

	records := make([]crawler.Record, 0, len(found))
	for _, id := range identifiers {
		if rows, ok := found[id]; ok {
			records = append(records, s.record(id, rows))
		}
	}
	s.logger.Info("dataset lookup finished",
		zap.Int("requested", len(identifiers)),
		zap.Int("found", len(records)),
	)
	return records, nil
}

func (s *Source) query(
	ctx context.Context,
	sql string,
	keys []string,
	byDigits map[string]string,
	found map[string][]map[string]bigquery.Value,
) error {
	it, err := s.querier.Query(ctx, sql, []bigquery.QueryParameter{{Name: "ids", Value: keys}})
	if err != nil {
		return fmt.Errorf("query %s: %w", s.cfg.Table, err)
	}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.cfg.Table, err)
		}
		raw, ok := row[s.cfg.IDColumn]
		if !ok || raw == nil {
			continue
		}
		id, ok := byDigits[cnj.Digits(fmt.Sprint(raw))]
		if !ok {
			continue
		}
		found[id] = append(found[id], row)
	}
}

func (s *Source) record(id string, rows []map[string]bigquery.Value) crawler.Record {
	fields := make(map[string]any, len(columnFields)+1)
	for column, field := range columnFields {
		if v, ok := rows[0][column]; ok && v != nil {
			fields[field] = fmt.Sprint(v)
		}
	}
	decisions := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		decision := make(map[string]any, len(row))
		for k, v := range row {
			decision[k] = v
		}
		decisions = append(decisions, decision)
	}
	fields[extract.FieldDecisions] = decisions
	return crawler.Record{
		Identifier:  id,
		ExtractedAt: s.clock.Now(),
		Success:     true,
		SourceURL:   "bigquery://" + s.cfg.Table,
		Source:      crawler.SourceBaseDosDados,
		Fields:      fields,
	}
}
