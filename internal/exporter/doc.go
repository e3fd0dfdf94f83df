// Package exporter writes license key inventories to spreadsheet formats.
//
// Two writers are provided:
//
// CSVWriter: plain CSV with an optional UTF-8 BOM for Excel compatibility,
// plus a StreamWriter for large inventories.
//
// XLSXWriter: a formatted workbook with a frozen, filterable header row.
//
// Both consume the same rows built by KeyRows, so the column layout is
// identical across formats. Codes are written in full; exports are meant for
// distribution to resellers and must be handled as secrets.
//
// Example usage:
//
//	keys, _ := store.ListKeys(ctx, domain.KeyFilter{State: domain.KeyStateUnused})
//	n, err := exporter.ExportKeys("exports/unused.xlsx", keys, logger)
package exporter
