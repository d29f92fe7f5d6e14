// Package pipeline runs the ETL for a list of aggregate requests.
//
// Each ticker goes through four steps in order: acquire, process, export and
// verify. Tickers run one after another and the first failure stops the run.
// The step states of every attempted ticker are collected in a Report, which
// the caller logs and can print.
package pipeline
