// Package core declares interface-only contracts for the collaborators
// spec.md §1 places out of scope: the textual select/where-clause
// parsers, the keyword tokenizer, the CSV ingest tool, per-column
// logging/configuration, and the table façade that composes partitions.
// Nothing in this file is implemented; it exists so the shape a real
// implementation must satisfy to drive core/queryexpr and core/partition
// is recorded somewhere concrete.
package core

import (
	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/queryexpr"
)

// SelectClauseParser turns a textual select clause ("age, name, tags")
// into the ordered column names a query should project.
type SelectClauseParser interface {
	ParseSelect(clause string) ([]string, error)
}

// WhereClauseParser turns a textual where clause ("age >= 10 and age <
// 21") into a queryexpr.QueryExpr tree ready for queryexpr.Evaluate.
type WhereClauseParser interface {
	ParseWhere(clause string) (queryexpr.QueryExpr, error)
}

// KeywordTokenizer splits free text into the terms a category/text
// column's Keywords index should record per row, before
// index.BuildKeywordsIndex runs.
type KeywordTokenizer interface {
	Tokenize(text string) ([]string, error)
}

// CSVIngestor builds a partition-shaped directory — column data files
// plus their ".idx"/".terms" indexes and a "-part.txt" metadata file —
// from an external CSV source, ready for partition.Create or
// partition.Append to consume.
type CSVIngestor interface {
	Ingest(csvPath, destDir string) error
}

// ColumnConfig names the per-column tuning a real ingestion/indexing
// pipeline would need beyond core/column's own DataType (e.g. dictionary
// cardinality hints, index variant overrides).
type ColumnConfig interface {
	ColumnOption(name string) (value string, ok bool)
}

// ColumnLogger receives structured per-column events during ingestion
// independent of internal/logging's partition-level transitions.
type ColumnLogger interface {
	LogColumnEvent(column, event string, fields map[string]any)
}

// TableFacade composes two or more Partitions into a join, resolving the
// cross-partition row correspondence that a single Partition's
// EvaluateJoin deliberately refuses (core/partition.Partition.EvaluateJoin).
type TableFacade interface {
	EvaluateJoin(leftPartition, leftColumn, rightPartition, rightColumn string) (*bitvector.Bitvector, error)
}
