// Package crawler implements the crawl orchestration engine: the request
// frontier with its dedup set, the per-domain robots policy cache, the retry
// policy, and the worker lifecycle that fetches pages and hands them to the
// embedding crawler's hooks.
//
// An Engine owns every piece of shared crawl state for exactly one run. Two
// engines in the same process never share a seen-URL set or a robots cache.
package crawler
