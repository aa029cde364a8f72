package catalog

import "errors"

// Catalog-specific error values; not-found conditions reuse the coin
// package sentinels so callers handle one taxonomy.
var (
	ErrNotCompany         = errors.New("account does not belong to a company")
	ErrInvalidDescription = errors.New("invalid advantage description")
	ErrInvalidConfig      = errors.New("invalid catalog config")
)
