package exporter

import (
	"fmt"
	"log/slog"

	"keyledger/pkg/contracts/domain"
)

// ExportKeys writes keys to filePath as XLSX or CSV depending on the
// extension and returns the number of keys written
func ExportKeys(filePath string, keys []domain.LicenseKey, logger *slog.Logger) (int, error) {
	rows := KeyRows(keys)

	var err error
	if IsXLSX(filePath) {
		err = NewXLSXWriter(logger).WriteFile(filePath, KeysSheet, KeyHeaders, rows)
	} else {
		err = NewCSVWriter(logger).WriteCSV(filePath, WriteOptions{
			Headers:   KeyHeaders,
			Records:   rows,
			BOMPrefix: true,
		})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to export %d keys: %w", len(keys), err)
	}
	return len(rows), nil
}
