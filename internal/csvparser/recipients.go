package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// DefaultMaxRows caps a parse when no limit is given.
const DefaultMaxRows = 10000

// SubscriberRow is one subscriber read from a CSV. Columns other than e-mail,
// names and groups end up in Fields.
type SubscriberRow struct {
	Email     string
	FirstName string
	LastName  string
	Groups    []string
	Fields    map[string]string
}

var columnAliases = map[string]string{
	"email":      "email",
	"e-mail":     "email",
	"mail":       "email",
	"first_name": "first_name",
	"firstname":  "first_name",
	"first name": "first_name",
	"last_name":  "last_name",
	"lastname":   "last_name",
	"last name":  "last_name",
	"groups":     "groups",
	"group":      "groups",
}

// ParseSubscriberRows parses a CSV with a header row that contains an e-mail
// column (case-insensitive). A "groups" column holds group names separated by
// semicolons. Malformed rows and rows without an e-mail are skipped.
func ParseSubscriberRows(r io.Reader, maxRows int) ([]SubscriberRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(headers))
	emailIdx := -1
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if known, ok := columnAliases[strings.ToLower(h)]; ok {
			h = known
		}
		columns[i] = h
		if h == "email" {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv must contain an email column")
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	rows := make([]SubscriberRow, 0)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				continue
			}
			return nil, err
		}

		row := SubscriberRow{Fields: make(map[string]string)}
		for i, value := range record {
			value = strings.TrimSpace(value)
			switch columns[i] {
			case "email":
				row.Email = value
			case "first_name":
				row.FirstName = value
			case "last_name":
				row.LastName = value
			case "groups":
				row.Groups = splitGroups(value)
			case "":
			default:
				row.Fields[columns[i]] = value
			}
		}
		if row.Email == "" {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("csv must contain at least one data row")
	}
	return rows, nil
}

func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ";") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
