// Package recovery decides what happens to (candidate, target) pairs after
// publishing: retry, compensating rollback, or manual action.
//
// Plan and Reconcile are pure functions of a release.State and a
// release.RecoveryPolicy. Manager executes the rollbacks a plan asks for
// and records the results back into the state.
package recovery
