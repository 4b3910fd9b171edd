// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"bytes"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// FormatMemo returns a human-readable dump of the memo: every group with its
// member expressions, statistics, and winner table. Output is deterministic
// so it can back golden-file tests.
func (m *Memo) FormatMemo() string {
	var buf bytes.Buffer
	for g := GroupID(1); int(g) < len(m.groups); g++ {
		grp := m.group(g)
		fmt.Fprintf(&buf, "G%d:", g)
		if grp.stats != nil {
			fmt.Fprintf(&buf, " %s", grp.stats)
		}
		buf.WriteByte('\n')
		for i, e := range grp.exprs {
			fmt.Fprintf(&buf, "  #%d %s", i, e)
			if e.Private != nil {
				fmt.Fprintf(&buf, " %s", e.Private.Fingerprint())
			}
			if e.unused {
				buf.WriteString(" [unused]")
			}
			buf.WriteByte('\n')
		}
		required := maps.Keys(grp.winnerMap)
		slices.Sort(required)
		for _, req := range required {
			w := grp.winners[grp.winnerMap[req]]
			fmt.Fprintf(&buf, "  best %s -> #%d cost=%s\n",
				m.LookupPhysicalProps(req), w.expr, w.cost)
		}
	}
	return buf.String()
}
