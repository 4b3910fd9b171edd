// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import "time"

// AggStagePreference is the session preference for aggregation staging.
type AggStagePreference uint8

const (
	// AggStageAuto lets the search choose between one-phase and two-phase
	// aggregation by cost and admission heuristics.
	AggStageAuto AggStagePreference = iota

	// AggStageOnePhase forces single-stage aggregation.
	AggStageOnePhase

	// AggStageTwoPhase forces split (partial + final) aggregation.
	AggStageTwoPhase
)

// Settings carries the session-scoped configuration the search reads at its
// decision points. The optimizer never mutates a Settings value.
type Settings struct {
	// AggStage constrains aggregation staging; see AggStagePreference.
	AggStage AggStagePreference

	// BroadcastRowCountLimit is the estimated row count above which a join
	// build side is not considered for broadcast (unless hinted).
	BroadcastRowCountLimit float64

	// DegreeOfParallelism is the per-node execution parallelism, used to
	// scale the broadcast admission comparison and exchange costs.
	DegreeOfParallelism int

	// JoinReorderEnabled enables the join commutativity transformation.
	JoinReorderEnabled bool

	// RuntimeFilterEnabled enables the runtime-filter selectivity refinement
	// applied when statistics are re-derived after children are bound.
	RuntimeFilterEnabled bool

	// CompileBudget bounds the wall time of one optimization pass; zero
	// means unbounded. The budget is checked between tasks.
	CompileBudget time.Duration
}

// DefaultSettings returns the settings used when the session does not
// override them.
func DefaultSettings() Settings {
	return Settings{
		AggStage:               AggStageAuto,
		BroadcastRowCountLimit: 15_000_000,
		DegreeOfParallelism:    4,
		JoinReorderEnabled:     true,
		RuntimeFilterEnabled:   false,
	}
}
