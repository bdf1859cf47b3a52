package store

import (
	"sort"
	"time"
)

// Analysis describes the contents of a dossier file.
type Analysis struct {
	TotalRecords      int            `json:"total_records"`
	Successful        int            `json:"successful"`
	Failed            int            `json:"failed"`
	UniqueIdentifiers int            `json:"unique_identifiers"`
	Duplicates        int            `json:"duplicates"`
	Sources           map[string]int `json:"sources"`
	ErrorKinds        map[string]int `json:"error_kinds"`
	Classes           map[string]int `json:"classes"`
	AvgTextLength     float64        `json:"avg_text_length"`
	FirstExtracted    time.Time      `json:"first_extracted"`
	LastExtracted     time.Time      `json:"last_extracted"`
}

// SuccessRate is the percentage of successful rows.
func (a Analysis) SuccessRate() float64 {
	if a.TotalRecords == 0 {
		return 0
	}
	return float64(a.Successful) / float64(a.TotalRecords) * 100
}

// Analyze summarizes rows. Rows without a source count under "none".
func Analyze(rows []Row) Analysis {
	a := Analysis{
		TotalRecords: len(rows),
		Sources:      make(map[string]int),
		ErrorKinds:   make(map[string]int),
		Classes:      make(map[string]int),
	}
	unique := make(map[string]struct{}, len(rows))
	var textTotal int64
	for _, row := range rows {
		unique[row.Identifier] = struct{}{}
		source := row.Source
		if source == "" {
			source = "none"
		}
		a.Sources[source]++
		if row.Success {
			a.Successful++
			textTotal += row.TextLength
			if row.Class != "" {
				a.Classes[row.Class]++
			}
		} else {
			a.Failed++
			a.ErrorKinds[row.ErrorKind]++
		}
		if at := row.ExtractedTime(); !at.IsZero() {
			if a.FirstExtracted.IsZero() || at.Before(a.FirstExtracted) {
				a.FirstExtracted = at
			}
			if at.After(a.LastExtracted) {
				a.LastExtracted = at
			}
		}
	}
	a.UniqueIdentifiers = len(unique)
	a.Duplicates = len(rows) - len(unique)
	if a.Successful > 0 {
		a.AvgTextLength = float64(textTotal) / float64(a.Successful)
	}
	return a
}

// Ranked returns the keys of counts ordered by count, then name.
func Ranked(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
