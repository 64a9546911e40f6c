// Package action defines the closed set of structured user intents accepted
// by the execution pipeline and the validator that normalises raw parser
// output into typed values. Validation is pure and always runs before any
// handler executes, so malformed input never reaches durable storage.
package action
