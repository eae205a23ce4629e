package csvparser

import (
	"os"
)

// ParseFile reads subscriber rows from the CSV file at path.
func ParseFile(path string, maxRows int) ([]SubscriberRow, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseSubscriberRows(f, maxRows)
}
