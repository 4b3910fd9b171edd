// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform_test

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
	"github.com/keplerdb/kepler/pkg/sql/opt/testutils/testcat"
	"github.com/keplerdb/kepler/pkg/sql/opt/xform"
)

// TestDataDriven runs the optimizer over the testdata files. Each file
// declares a catalog and then optimizes small statements against it:
//
//	catalog
//	table big cols=a,b rows=1000000 ndv=1000000 dist=b
//	----
//	ok
//
//	plan dist=gather
//	join big small on a=c
//	----
//	<plan shape>
//
// Plan output is the plan shape with cost and row annotations stripped, so
// the files pin plan choices without being sensitive to cost model constants.
func TestDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		var tables []ddTable
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "catalog":
				tables = parseTables(t, d.Input)
				return "ok"

			case "plan":
				return runPlan(t, d, tables)

			default:
				d.Fatalf(t, "unknown command %s", d.Cmd)
				return ""
			}
		})
	})
}

// ddTable is one declared test table.
type ddTable struct {
	name       string
	cols       []string
	rows       float64
	ndv        float64
	inaccurate bool
	distCols   []string
}

func parseTables(t *testing.T, input string) []ddTable {
	t.Helper()
	var tables []ddTable
	for _, line := range strings.Split(strings.TrimSpace(input), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "table" {
			t.Fatalf("cannot parse catalog line %q", line)
		}
		tab := ddTable{name: fields[1]}
		for _, f := range fields[2:] {
			key, val, _ := strings.Cut(f, "=")
			switch key {
			case "cols":
				tab.cols = strings.Split(val, ",")
			case "rows":
				tab.rows, _ = strconv.ParseFloat(val, 64)
			case "ndv":
				tab.ndv, _ = strconv.ParseFloat(val, 64)
			case "dist":
				tab.distCols = strings.Split(val, ",")
			case "inaccurate":
				tab.inaccurate = true
			default:
				t.Fatalf("unknown table attribute %q", f)
			}
		}
		tables = append(tables, tab)
	}
	return tables
}

// planEnv is one freshly built optimizer over the declared catalog, with
// name lookups for tables and columns.
type planEnv struct {
	o      *xform.Optimizer
	md     *opt.Metadata
	tabIDs map[string]opt.TableID
	colIDs map[string]opt.ColumnID
}

func buildEnv(t *testing.T, settings xform.Settings, tables []ddTable) *planEnv {
	t.Helper()
	c := testcat.New()
	env := &planEnv{
		md:     &opt.Metadata{},
		tabIDs: make(map[string]opt.TableID),
		colIDs: make(map[string]opt.ColumnID),
	}
	nextCol := opt.ColumnID(1)
	for _, tab := range tables {
		tt := testcat.NewTable(tab.name, tab.cols...)
		if tab.inaccurate {
			tt = tt.WithInaccurateRowCount(tab.rows)
		} else {
			tt = tt.WithRowCount(tab.rows)
		}
		if tab.ndv > 0 {
			tt = tt.WithUniformStats(tab.ndv)
		}
		for _, col := range tab.distCols {
			ord := -1
			for i, name := range tab.cols {
				if name == col {
					ord = i
				}
			}
			if ord < 0 {
				t.Fatalf("table %s has no column %s", tab.name, col)
			}
			tt.DistOrds = append(tt.DistOrds, ord)
		}
		c.AddTable(tt)
		env.tabIDs[tab.name] = env.md.AddTable(tt)
		for _, col := range tab.cols {
			env.colIDs[col] = nextCol
			nextCol++
		}
	}
	env.o = &xform.Optimizer{}
	env.o.Init(context.Background(), env.md, c, settings)
	return env
}

func (env *planEnv) scan(t *testing.T, name string) memo.ExprID {
	t.Helper()
	tid, ok := env.tabIDs[name]
	if !ok {
		t.Fatalf("unknown table %s", name)
	}
	return env.o.Memo().Insert(memo.RelExpr{
		Op:      opt.ScanOp,
		Private: &memo.ScanPrivate{Table: tid, Cols: env.md.TableColumns(tid)},
	})
}

// buildStatement parses and inserts one statement line:
//
//	scan <table>
//	join <left> <right> on <col>=<col> [hint]
//	agg <table> by <col>
//	limit <table> <n>
func (env *planEnv) buildStatement(t *testing.T, line string, hint memo.JoinHint) memo.GroupID {
	t.Helper()
	fields := strings.Fields(line)
	m := env.o.Memo()
	switch fields[0] {
	case "scan":
		return env.scan(t, fields[1]).Group

	case "join":
		left := env.scan(t, fields[1])
		right := env.scan(t, fields[2])
		eq := strings.SplitN(fields[4], "=", 2)
		id := m.Insert(memo.RelExpr{
			Op:       opt.JoinOp,
			Children: []memo.GroupID{left.Group, right.Group},
			Private: &memo.JoinPrivate{
				JoinType:    memo.InnerJoin,
				LeftEqCols:  opt.ColList{env.colIDs[eq[0]]},
				RightEqCols: opt.ColList{env.colIDs[eq[1]]},
				Hint:        hint,
			},
		})
		return id.Group

	case "agg":
		in := env.scan(t, fields[1])
		id := m.Insert(memo.RelExpr{
			Op:       opt.GroupByOp,
			Children: []memo.GroupID{in.Group},
			Private: &memo.GroupByPrivate{
				GroupingCols: opt.ColList{env.colIDs[fields[3]]},
				AggCols:      opt.ColList{env.md.AddColumn("agg")},
			},
		})
		return id.Group

	case "limit":
		in := env.scan(t, fields[1])
		n, _ := strconv.ParseInt(fields[2], 10, 64)
		id := m.Insert(memo.RelExpr{
			Op:       opt.LimitOp,
			Children: []memo.GroupID{in.Group},
			Private:  &memo.LimitPrivate{Limit: n},
		})
		return id.Group
	}
	t.Fatalf("cannot parse statement %q", line)
	return 0
}

var costAnnotation = regexp.MustCompile(` \[rows=[^]]*\]`)

func runPlan(t *testing.T, d *datadriven.TestData, tables []ddTable) string {
	t.Helper()
	settings := xform.DefaultSettings()
	required := physical.Min
	hint := memo.NoHint
	for _, arg := range d.CmdArgs {
		switch arg.Key {
		case "dist":
			if arg.Vals[0] != "gather" {
				d.Fatalf(t, "unsupported distribution %s", arg.Vals[0])
			}
			required.Distribution = physical.Distribution{Type: physical.Gather}
		case "aggstage":
			switch arg.Vals[0] {
			case "one":
				settings.AggStage = xform.AggStageOnePhase
			case "two":
				settings.AggStage = xform.AggStageTwoPhase
			}
		case "hint":
			switch arg.Vals[0] {
			case "broadcast":
				hint = memo.BroadcastHint
			case "shuffle":
				hint = memo.ShuffleHint
			}
		case "order":
			// handled below; column ids are assigned during build
		default:
			d.Fatalf(t, "unknown argument %s", arg.Key)
		}
	}

	env := buildEnv(t, settings, tables)
	root := env.buildStatement(t, strings.TrimSpace(d.Input), hint)
	for _, arg := range d.CmdArgs {
		if arg.Key == "order" {
			spec := arg.Vals[0]
			col := env.colIDs[spec[1:]]
			required.Ordering = opt.Ordering{opt.MakeOrderingColumn(col, spec[0] == '-')}
		}
	}

	env.o.Memo().SetRoot(root)
	plan, err := env.o.Optimize(required)
	if err != nil {
		return err.Error()
	}
	return strings.TrimRight(costAnnotation.ReplaceAllString(plan.String(), ""), "\n")
}
