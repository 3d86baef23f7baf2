package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"crossbench/internal/model"
)

// Read loads every row of the dataset. A missing file is an empty dataset.
func Read(path string) ([]model.ExperimentParameters, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.ExperimentParameters, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	items := make([]model.ExperimentParameters, 0, len(records))
	for i, rec := range records {
		bw, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bandwidth at line %d: %w", i+1, err)
		}
		ct, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cross traffic at line %d: %w", i+1, err)
		}
		items = append(items, model.ExperimentParameters{AvailableBandwidth: bw, CrossTraffic: ct})
	}

	return items, nil
}
