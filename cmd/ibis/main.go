// Command ibis is the CLI for the ibis column store: partition lifecycle
// mutations, ad-hoc query evaluation, index maintenance, and the notify
// hub server.
package main

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/column"
	"github.com/relicstore/ibis/core/index"
	"github.com/relicstore/ibis/core/notify"
	"github.com/relicstore/ibis/core/partition"
	"github.com/relicstore/ibis/core/queryexpr"
	"github.com/relicstore/ibis/core/storage"
	"github.com/relicstore/ibis/internal/config"
	"github.com/relicstore/ibis/internal/logging"
)

const version = "0.1.0"

// CLI defines ibis's command-line interface, noun-first like the
// teacher's own CLI (cmd/capsule/main.go's CLI struct of *Group types).
var CLI struct {
	Config string `name:"config" help:"path to a TOML config file" type:"path"`

	Partition PartitionGroup `cmd:"" help:"partition lifecycle operations (append, commit, rollback, reorder, purge, inspect)"`
	Query     QueryGroup     `cmd:"" help:"query evaluation"`
	Index     IndexGroup     `cmd:"" help:"index maintenance"`
	Serve     ServeCmd       `cmd:"" help:"start the notify hub"`
	Version   VersionCmd     `cmd:"" help:"print version information"`
}

// PartitionGroup contains partition mutation-protocol operations.
type PartitionGroup struct {
	Append   PartitionAppendCmd   `cmd:"" help:"ingest new rows from a source directory"`
	Commit   PartitionCommitCmd   `cmd:"" help:"finalize a two-directory append left in TRANSITION"`
	Rollback PartitionRollbackCmd `cmd:"" help:"discard a two-directory append left in TRANSITION"`
	Reorder  PartitionReorderCmd  `cmd:"" help:"physically re-sort rows by ascending range-width key columns"`
	Purge    PartitionPurgeCmd    `cmd:"" help:"drop rows marked inactive in the partition mask"`
	Inspect  PartitionInspectCmd  `cmd:"" help:"print a partition's state, row count, and columns"`
}

// QueryGroup contains ad-hoc query evaluation.
type QueryGroup struct {
	Eval QueryEvalCmd `cmd:"" help:"evaluate a single-column predicate against a partition"`
}

// IndexGroup contains index maintenance operations.
type IndexGroup struct {
	Rebuild IndexRebuildCmd `cmd:"" help:"rebuild a numeric column's bitmap index from its raw data"`
}

func loadConfig() config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		logging.Error("failed to load config", "error", err)
		return config.DefaultConfig()
	}
	return cfg
}

func openPartition(dir, backupDir string) (*partition.Partition, error) {
	cfg := loadConfig()
	fm := storage.NewFileManager(storage.FileManagerConfig{MaxBytes: cfg.Storage.MaxBytes})
	return partition.Open(fm, dir, backupDir)
}

// --- partition append/commit/rollback/reorder/purge/inspect ---

type PartitionAppendCmd struct {
	Dir       string `arg:"" help:"partition's active directory" type:"path"`
	Src       string `arg:"" help:"source directory holding the new row count" type:"path"`
	BackupDir string `help:"backup directory; non-empty selects the copy-on-write append2 path" type:"path"`
}

func (c *PartitionAppendCmd) Run() error {
	p, err := openPartition(c.Dir, c.BackupDir)
	if err != nil {
		return err
	}
	n, err := p.Append(c.Src)
	if err != nil {
		return err
	}
	if c.BackupDir != "" {
		fmt.Printf("appended %d rows; partition left in %s, run `ibis partition commit` or `rollback`\n", n, p.State())
		return nil
	}
	fmt.Printf("appended %d rows; partition is %s\n", n, p.State())
	return nil
}

type PartitionCommitCmd struct {
	Dir       string `arg:"" help:"partition's active directory" type:"path"`
	BackupDir string `arg:"" help:"partition's backup directory" type:"path"`
}

func (c *PartitionCommitCmd) Run() error {
	p, err := openPartition(c.Dir, c.BackupDir)
	if err != nil {
		return err
	}
	if err := p.Commit(); err != nil {
		return err
	}
	fmt.Printf("committed; partition is %s with %d rows\n", p.State(), p.NRows())
	return nil
}

type PartitionRollbackCmd struct {
	Dir       string `arg:"" help:"partition's active directory" type:"path"`
	BackupDir string `arg:"" help:"partition's backup directory" type:"path"`
}

func (c *PartitionRollbackCmd) Run() error {
	p, err := openPartition(c.Dir, c.BackupDir)
	if err != nil {
		return err
	}
	if err := p.Rollback(); err != nil {
		return err
	}
	fmt.Printf("rolled back; partition is %s with %d rows\n", p.State(), p.NRows())
	return nil
}

type PartitionReorderCmd struct {
	Dir string `arg:"" help:"partition's active directory" type:"path"`
}

func (c *PartitionReorderCmd) Run() error {
	p, err := openPartition(c.Dir, "")
	if err != nil {
		return err
	}
	if err := p.Reorder(); err != nil {
		return err
	}
	fmt.Printf("reordered; partition is %s\n", p.State())
	return nil
}

type PartitionPurgeCmd struct {
	Dir string `arg:"" help:"partition's active directory" type:"path"`
}

func (c *PartitionPurgeCmd) Run() error {
	p, err := openPartition(c.Dir, "")
	if err != nil {
		return err
	}
	n, err := p.PurgeInactive()
	if err != nil {
		return err
	}
	fmt.Printf("purged; %d rows remain, partition is %s\n", n, p.State())
	return nil
}

type PartitionInspectCmd struct {
	Dir       string `arg:"" help:"partition's active directory" type:"path"`
	BackupDir string `help:"optional backup directory" type:"path"`
}

func (c *PartitionInspectCmd) Run() error {
	p, err := openPartition(c.Dir, c.BackupDir)
	if err != nil {
		return err
	}
	meta := p.Metadata()
	fmt.Printf("dataset:  %s\n", meta.DataSetName)
	fmt.Printf("state:    %s\n", p.State())
	fmt.Printf("rows:     %d\n", meta.NumberOfRows)
	fmt.Printf("columns:\n")
	for _, cm := range meta.Columns {
		fmt.Printf("  %-20s %s\n", cm.Name, cm.DataType)
	}
	return nil
}

// --- query eval ---

type QueryEvalCmd struct {
	Dir    string   `arg:"" help:"partition's active directory" type:"path"`
	Column string   `arg:"" help:"column name"`
	Eq     *string  `help:"point query: column == value (numeric or string depending on column type)"`
	GE     *float64 `help:"lower bound, inclusive"`
	LT     *float64 `help:"upper bound, exclusive"`
	In     string   `help:"comma-separated discrete value list"`
	Limit  int      `default:"20" help:"max matching row numbers to print"`
}

func (c *QueryEvalCmd) Run() error {
	p, err := openPartition(c.Dir, "")
	if err != nil {
		return err
	}

	var expr queryexpr.QueryExpr
	switch {
	case c.Eq != nil:
		if f, perr := strconv.ParseFloat(*c.Eq, 64); perr == nil {
			expr = queryexpr.NewPointRange(c.Column, f)
		} else {
			expr = queryexpr.StringEq{Column: c.Column, Value: *c.Eq}
		}
	case c.In != "":
		parts := strings.Split(c.In, ",")
		values := make([]float64, 0, len(parts))
		var allNumeric = true
		for _, part := range parts {
			f, perr := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if perr != nil {
				allNumeric = false
				break
			}
			values = append(values, f)
		}
		if allNumeric {
			expr = queryexpr.NewDiscreteRange(c.Column, values)
		} else {
			trimmed := make([]string, len(parts))
			for i, part := range parts {
				trimmed[i] = strings.TrimSpace(part)
			}
			expr = queryexpr.MultiString{Column: c.Column, Values: trimmed}
		}
	case c.GE != nil || c.LT != nil:
		lo, hi := 0.0, 0.0
		lop, hop := queryexpr.OpUndefined, queryexpr.OpUndefined
		if c.GE != nil {
			lop, lo = queryexpr.OpGE, *c.GE
		}
		if c.LT != nil {
			hop, hi = queryexpr.OpLT, *c.LT
		}
		expr = queryexpr.NewContinuousRange(c.Column, lop, lo, hop, hi)
	default:
		return fmt.Errorf("ibis query eval: one of --eq, --in, --ge/--lt is required")
	}

	bv, err := p.Evaluate(expr)
	if err != nil {
		return err
	}
	matches := setBits(bv)
	fmt.Printf("%d matching rows\n", len(matches))
	for i, row := range matches {
		if i >= c.Limit {
			fmt.Printf("... and %d more\n", len(matches)-c.Limit)
			break
		}
		fmt.Println(row)
	}
	return nil
}

func setBits(bv *bitvector.Bitvector) []int {
	var rows []int
	for i := 0; i < bv.Len(); i++ {
		if bv.GetBit(i) {
			rows = append(rows, i)
		}
	}
	return rows
}

// --- index rebuild ---

type IndexRebuildCmd struct {
	Dir    string `arg:"" help:"partition's active directory" type:"path"`
	Column string `arg:"" help:"numeric column to rebuild"`
}

func (c *IndexRebuildCmd) Run() error {
	p, err := openPartition(c.Dir, "")
	if err != nil {
		return err
	}
	meta := p.Metadata()
	cm, ok := meta.Column(c.Column)
	if !ok {
		return fmt.Errorf("ibis index rebuild: unknown column %q", c.Column)
	}
	if cm.DataType.IsKeyword() {
		return fmt.Errorf("ibis index rebuild: %q is a keyword column; rebuilding its term index requires an external tokenizer (core.KeywordTokenizer)", c.Column)
	}

	evaluator, err := p.Column(c.Column)
	if err != nil {
		return err
	}
	col, ok := evaluator.(*column.Column)
	if !ok {
		return fmt.Errorf("ibis index rebuild: column %q is not a raw numeric column", c.Column)
	}

	n := meta.NumberOfRows
	values := make([]float64, n)
	distinctSet := make(map[float64]struct{})
	for row := 0; row < n; row++ {
		v, isNull, verr := col.Value(row)
		if verr != nil {
			return verr
		}
		if isNull {
			continue
		}
		values[row] = v
		distinctSet[v] = struct{}{}
	}
	distinct := make([]float64, 0, len(distinctSet))
	for v := range distinctSet {
		distinct = append(distinct, v)
	}
	sort.Float64s(distinct)

	bitmaps := make([]*bitvector.Bitvector, len(distinct))
	for i, dv := range distinct {
		bv := bitvector.New(n)
		for row, v := range values {
			if v == dv {
				bv.SetBit(row)
			}
		}
		bitmaps[i] = bv
	}

	var buf bytes.Buffer
	if err := index.WriteRelicIndex(&buf, n, distinct, bitmaps); err != nil {
		return err
	}
	idxPath := filepath.Join(p.Dir(), c.Column+".idx")
	if err := os.WriteFile(idxPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("ibis index rebuild: write %s: %w", idxPath, err)
	}
	fmt.Printf("rebuilt %s: %d rows, %d distinct values\n", idxPath, n, len(distinct))
	return nil
}

// --- serve ---

type ServeCmd struct {
	Addr string `help:"listen address; defaults to the config file's notify.listen_addr"`
}

func (c *ServeCmd) Run() error {
	cfg := loadConfig()
	addr := c.Addr
	if addr == "" {
		addr = cfg.Notify.ListenAddr
	}

	hub := notify.NewHub(cfg.Notify.ClientSendBuf, cfg.Notify.WriteTimeout, cfg.Notify.PingInterval)
	go hub.Run()

	port := 0
	if _, portStr, serr := net.SplitHostPort(addr); serr == nil {
		port, _ = strconv.Atoi(portStr)
	}
	logging.ServerStartup("notify", "ws", port)
	return http.ListenAndServe(addr, hub)
}

// --- version ---

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("ibis", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("ibis"),
		kong.Description("A compressed bitmap-indexed column store."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
