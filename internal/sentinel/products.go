package sentinel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

// WriteProductList writes products as CSV with the product name first.
func WriteProductList(w io.Writer, products []Product) error {
	if err := gocsv.Marshal(&products, w); err != nil {
		return fmt.Errorf("failed to write product list: %w", err)
	}
	return nil
}

// ReadProductList returns the first column of every row. A leading "name"
// header is skipped, so both written lists and bare id lists load.
func ReadProductList(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var names []string
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read product list: %w", err)
		}
		name := strings.TrimSpace(record[0])
		if name == "" || (line == 1 && name == "name") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func ReadProductListFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open product list: %w", err)
	}
	defer file.Close()
	return ReadProductList(file)
}
