// Package api serves sentiment prediction, read-only review queries and the
// run ledger over HTTP.
package api
