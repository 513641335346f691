package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"circflow/internal/staging"
)

// expected CSV header for collector hand-off files.
var inputHeader = []string{
	"source_id", "series_id", "series_description", "period_date",
	"value", "unit", "frequency", "adjustment_type", "price_basis",
}

// LoadBatches reads every CSV file in dir into per-file source batches.
// Files are returned in name order so passes are deterministic.
func LoadBatches(dir string) ([]SourceBatch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	batches := make([]SourceBatch, 0, len(names))
	for _, name := range names {
		batch, err := loadFile(filepath.Join(dir, name), name)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func loadFile(path, name string) (SourceBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return SourceBatch{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(inputHeader)

	header, err := reader.Read()
	if err != nil {
		return SourceBatch{}, fmt.Errorf("read header of %s: %w", name, err)
	}
	if err := checkHeader(header); err != nil {
		return SourceBatch{}, fmt.Errorf("%s: %w", name, err)
	}

	batch := SourceBatch{SourceFile: name}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return SourceBatch{}, fmt.Errorf("read %s: %w", name, err)
		}
		batch.Rows = append(batch.Rows, staging.RawRow{
			SourceID:          record[0],
			SourceFile:        name,
			SeriesID:          record[1],
			SeriesDescription: record[2],
			PeriodDate:        record[3],
			Value:             record[4],
			Unit:              record[5],
			Frequency:         record[6],
			AdjustmentType:    record[7],
			PriceBasis:        record[8],
		})
	}
	return batch, nil
}

func checkHeader(header []string) error {
	if len(header) != len(inputHeader) {
		return fmt.Errorf("unexpected header width %d", len(header))
	}
	for i, col := range inputHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != col {
			return fmt.Errorf("unexpected column %q, want %q", header[i], col)
		}
	}
	return nil
}
