package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// NumLabels is the number of AG News topic classes.
const NumLabels = 4

var LabelNames = []string{"World", "Sports", "Business", "Sci/Tech"}

// LabelName returns the topic name for a 0-based label index.
func LabelName(label int) string {
	if label < 0 || label >= NumLabels {
		return "unknown"
	}
	return LabelNames[label]
}

type Example struct {
	Label int
	Text  string
}

// ReadCSV parses an AG News style CSV: class index (1-based), title,
// description. Title and description are joined into a single input text.
func ReadCSV(r io.Reader) ([]Example, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var examples []Example
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv record: %w", err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("malformed csv record %d: expected at least 2 fields, got %d", len(examples)+1, len(record))
		}

		class, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed class index %q in record %d: %w", record[0], len(examples)+1, err)
		}
		if class < 1 || class > NumLabels {
			return nil, fmt.Errorf("class index %d in record %d out of range [1, %d]", class, len(examples)+1, NumLabels)
		}

		examples = append(examples, Example{
			Label: class - 1,
			Text:  strings.TrimSpace(strings.Join(record[1:], " ")),
		})
	}

	return examples, nil
}

func ReadCSVFile(path string) ([]Example, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening dataset file %s: %w", path, err)
	}
	defer file.Close()

	return ReadCSV(file)
}

// WriteCSVFile writes examples back out in the same format, used to persist
// per-client shards.
func WriteCSVFile(path string, examples []Example) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating shard file %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	for _, ex := range examples {
		if err := writer.Write([]string{strconv.Itoa(ex.Label + 1), ex.Text}); err != nil {
			return fmt.Errorf("error writing shard record: %w", err)
		}
	}
	writer.Flush()

	return writer.Error()
}
