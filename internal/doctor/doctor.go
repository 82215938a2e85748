// Package doctor provides health check utilities for validating a
// rwlockd deployment's connection to its store.
package doctor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nikolasavic/rwlockd/internal/store"
)

// Status represents the result of a health check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckResult contains the result of a single health check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Overall computes the overall status from multiple check results.
// Returns "fail" if any check failed, "warn" if any warned, "ok" otherwise.
func Overall(results []CheckResult) Status {
	for _, r := range results {
		if r.Status == StatusFail {
			return StatusFail
		}
	}
	for _, r := range results {
		if r.Status == StatusWarn {
			return StatusWarn
		}
	}
	return StatusOK
}

// ClockSkewWarnThreshold is the drift between the store's TIME and the
// local wall clock past which CheckClockSkew warns. Admission decisions
// always use the store's clock, never the local one, but a large skew
// still makes CLI-reported deadlines misleading.
const ClockSkewWarnThreshold = 2 * time.Second

// CheckPing verifies the store answers PING within ctx's deadline.
func CheckPing(ctx context.Context, st *store.Store) CheckResult {
	result := CheckResult{Name: "ping"}

	if err := st.Client().Ping(ctx).Err(); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("store did not respond to PING: %v", err)
		return result
	}

	result.Status = StatusOK
	return result
}

// CheckClockSkew compares the store's TIME to the local wall clock.
func CheckClockSkew(ctx context.Context, st *store.Store) CheckResult {
	result := CheckResult{Name: "clock_skew"}

	storeNow, err := st.Now(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read store TIME: %v", err)
		return result
	}

	skew := storeNow.Sub(time.Now())
	if math.Abs(skew.Seconds()) > ClockSkewWarnThreshold.Seconds() {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("store clock differs from local clock by %v", skew)
		return result
	}

	result.Status = StatusOK
	return result
}

// CheckScriptable confirms EVAL is permitted against the store. Some
// managed Redis-compatible offerings disable Lua scripting entirely,
// which this service cannot function without.
func CheckScriptable(ctx context.Context, st *store.Store) CheckResult {
	result := CheckResult{Name: "scriptable"}

	if err := st.Client().Eval(ctx, "return 1", nil).Err(); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("EVAL is not permitted: %v", err)
		return result
	}

	result.Status = StatusOK
	return result
}

// CheckNamespaceFree counts existing keys under the configured namespace
// and warns if any are already present, which would indicate a collision
// with another deployment sharing the same store.
func CheckNamespaceFree(ctx context.Context, st *store.Store, namespace string) CheckResult {
	result := CheckResult{Name: "namespace_free"}

	pattern := namespace + ":*"
	var cursor uint64
	var count int64
	for {
		keys, next, err := st.Client().Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("cannot scan namespace %q: %v", namespace, err)
			return result
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if count == 0 {
		result.Status = StatusOK
		return result
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("%d key(s) already present under namespace %q", count, namespace)
	return result
}

// RunAll runs every check against st and returns their results in a
// stable order.
func RunAll(ctx context.Context, st *store.Store, namespace string) []CheckResult {
	return []CheckResult{
		CheckPing(ctx, st),
		CheckClockSkew(ctx, st),
		CheckScriptable(ctx, st),
		CheckNamespaceFree(ctx, st, namespace),
	}
}
