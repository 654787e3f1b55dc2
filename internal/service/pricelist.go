package service

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	appErr "github.com/stroymat/matrag/internal/pkg/errors"
)

// ParsePriceList reads a CSV price list into batch items. Russian price
// lists commonly use `;` as the separator, so the delimiter is sniffed
// from the first line. Expected columns: name, unit, price; a header
// row is skipped when the price column is not numeric.
func ParsePriceList(r io.Reader) ([]BatchItem, error) {
	buffered := bufio.NewReader(r)
	firstLine, err := buffered.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	delimiter := ','
	if line := string(firstLine); strings.Count(line, ";") > strings.Count(line, ",") {
		delimiter = ';'
	}

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var items []BatchItem
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, appErr.ErrInvalid
		}
		if len(record) == 0 {
			continue
		}
		name := strings.TrimSpace(record[0])
		if name == "" {
			continue
		}
		unit := ""
		if len(record) > 1 {
			unit = strings.TrimSpace(record[1])
		}
		price := 0.0
		priceOK := true
		if len(record) > 2 {
			raw := strings.ReplaceAll(strings.TrimSpace(record[2]), ",", ".")
			if raw != "" {
				price, err = strconv.ParseFloat(raw, 64)
				if err != nil {
					price = 0
					priceOK = false
				}
			}
		}
		if first && !priceOK {
			// header row
			first = false
			continue
		}
		first = false
		items = append(items, BatchItem{Name: name, Unit: unit, Price: price})
	}
	if len(items) == 0 {
		return nil, appErr.ErrInvalid
	}
	return items, nil
}
