package api

import (
	"net/url"
	"strconv"
)

const maxLimit = 1000

// ==== Параметры листинга ====

type ListParams struct {
	Limit  int // 0 — без ограничения
	Offset int
}

func parseListParams(q url.Values) ListParams {
	var lp ListParams
	if n, ok := intParam(q, "limit"); ok && n <= maxLimit {
		lp.Limit = n
	}
	if n, ok := intParam(q, "offset"); ok {
		lp.Offset = n
	}
	return lp
}

// intParam читает неотрицательное число из name или _name; мусор игнорируется.
func intParam(q url.Values, name string) (int, bool) {
	v := q.Get("_" + name)
	if v == "" {
		v = q.Get(name)
	}
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// page режет список по offset/limit.
func page[T any](all []T, lp ListParams) []T {
	start := lp.Offset
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if lp.Limit > 0 && start+lp.Limit < end {
		end = start + lp.Limit
	}
	return all[start:end]
}
