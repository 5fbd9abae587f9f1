// Package items stores content items and their generated asset rows.
//
// An item carries the outputs of each pipeline stage (fetched PDF, parsed
// text, per-language analysis, caption maps, package paths). Those output
// columns are what gate stage eligibility, so they are addressed through
// the closed Field type rather than arbitrary column names.
package items
