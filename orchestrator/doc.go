// Package orchestrator runs a policy release from snapshot diff to terminal
// phase.
//
// A run moves through Resolving, Validating, Publishing and Reconciling and
// always ends in Succeeded, Failed or PartiallySucceeded with a report.
// Only a resolution error or a broken state invariant aborts a run early;
// every validation and publish failure is captured per unit of work.
//
//	o, err := orchestrator.New(resolver, pipeline, adapters,
//		orchestrator.WithStrategy(release.StrategyBestEffort),
//		orchestrator.WithMaxParallelJobs(8),
//	)
//	if err != nil {
//		return err
//	}
//	rep, err := o.Run(ctx, "v1.4.0", "v1.5.0")
package orchestrator
