// Package bso3 harvests DataCite metadata dumps, detects French affiliations
// and prepares enriched documents for indexing.
package bso3

// AppName is used for cache and data directories.
const AppName = "bso3"

// Version of the tools.
const Version = "0.3.1"
