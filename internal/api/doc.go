// Package api is the HTTP boundary of the gateway.
//
// It decodes the three command routes into canonical command requests,
// hands them to the dispatcher and encodes the outcome:
//
//	POST /api/recipe/execute   {company, robotId?, recipe}
//	POST /api/image/capture    {company, robotId?, params}
//	POST /api/unscrew          {company, robotId?, params}
//
// Successes are written as 200 {"status":"success","data":...}. Failures
// carry {"status":"failure","kind":...,"message":...} with a status code
// derived from the failure kind; vendor diagnostics appear under
// "vendor.detail" only when enabled. Read-only routes expose health, the
// vendor listing, the telemetry stream and Prometheus metrics.
package api
