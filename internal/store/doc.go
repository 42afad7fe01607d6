// Package store defines interfaces for persistence dependencies (the crawl run
// journal). Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
