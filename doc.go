// Package release holds the data model shared by the policy release engine.
//
// A release run starts from two repository snapshot references, resolves the
// policy versions that changed between them, validates each candidate, and
// publishes the valid ones to every configured target. The types in this
// package describe that run:
//
//   - [Ref] identifies one policy version (name, version, content hash).
//   - [Candidate] pairs a Ref with the file tree it was computed from.
//   - [ValidationResult] records the ordered check results for a candidate.
//   - [Target] and [Attempt] describe publish destinations and outcomes.
//   - [State] aggregates everything for one run and enforces its invariants.
//   - [RecoveryPolicy] configures retry and rollback behavior.
//
// The engine itself lives in subpackages: [resolve], [validate], [backend],
// [orchestrator], and [recovery].
//
// # Quick Start
//
//	resolver := resolve.New(snapshot.NewDir("./snapshots"))
//	pipeline, err := validate.NewPipeline(validate.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	o, err := orchestrator.New(resolver, pipeline, adapters,
//	    orchestrator.WithStrategy(release.StrategyAtomic),
//	)
//	if err != nil {
//	    return err
//	}
//	rep, err := o.Run(ctx, "v1.0.0", "v1.1.0")
package release
