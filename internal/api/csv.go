package api

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"campus/pkg/types"
)

// Timetable export columns.
var timetableColumns = []string{"Course Name", "Day", "Start Time", "End Time", "Location"}

var (
	errNotUTF8      = errors.New("file must be UTF-8 encoded")
	errEmptyCSV     = errors.New("CSV file is empty")
	errMissingCols  = errors.New("CSV file is missing required columns")
	errMalformedCSV = errors.New("CSV file is malformed")
)

// parseTimetableCSV reads a timetable export. Cell values are trimmed but not
// validated: entries with unknown days or times are stored and later skipped
// by the reminder scan.
func parseTimetableCSV(data []byte) ([]*types.ScheduleEntry, error) {
	if !utf8.Valid(data) {
		return nil, errNotUTF8
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCSV, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range timetableColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", errMissingCols, strings.Join(missing, ", "))
	}

	cell := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	entries := []*types.ScheduleEntry{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedCSV, err)
		}
		entries = append(entries, &types.ScheduleEntry{
			CourseName: cell(record, "Course Name"),
			DayOfWeek:  cell(record, "Day"),
			StartTime:  cell(record, "Start Time"),
			EndTime:    cell(record, "End Time"),
			Location:   cell(record, "Location"),
		})
	}
	return entries, nil
}
