// Package report collects finished device reports and writes them out as
// an inventory CSV and a JSON run summary.
package report
