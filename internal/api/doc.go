// Package api exposes the HTTP surface of the settlement pipeline: action
// submission, queue inspection, health and metrics endpoints. The layer is
// deliberately thin; validation, dispatch and persistence all live below it.
package api
