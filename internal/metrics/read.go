package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"meshmon/internal/model"
)

// ReadCSV loads packet rows from a CSV file written by WriteCSV or AppendCSV.
func ReadCSV(path string) ([]model.PacketEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.PacketEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == csvHeader[0] {
		start = 1
	}

	items := make([]model.PacketEntry, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < 7 {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		hops, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, fmt.Errorf("invalid hops at line %d: %w", i+1, err)
		}
		entry := model.PacketEntry{
			Time:     rec[0],
			FromID:   rec[1],
			FromName: rec[2],
			Hops:     hops,
			Signal:   rec[4],
			Kind:     rec[5],
			Summary:  rec[6],
		}
		if len(rec) > 7 {
			entry.RowID = rec[7]
		}
		items = append(items, entry)
	}

	return items, nil
}
