package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/timebridge/internal/model"
)

// ErrLegacySpreadsheet is returned for .xls files, which are not supported.
var ErrLegacySpreadsheet = errors.New("legacy .xls spreadsheets are not supported; save the file as .xlsx or .csv")

// Column aliases, lower-cased. The first alias with a non-blank value wins.
var (
	dateAliases        = []string{"date", "workdate", "work date", "work_date", "day"}
	durationAliases    = []string{"hours", "duration", "time", "timespent", "time spent", "time_spent", "h"}
	userAliases        = []string{"email", "useremail", "user email", "user_email", "user", "author"}
	descriptionAliases = []string{"description", "comment", "notes", "note", "desc", "summary"}
	projectAliases     = []string{"projectkey", "project key", "project_key", "project", "proj"}
	issueAliases       = []string{"issuekey", "issue key", "issue_key", "issue", "ticket", "jira"}
	activityAliases    = []string{"activity", "type", "category", "work type"}
)

var knownAliases = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, group := range [][]string{
		dateAliases, durationAliases, userAliases, descriptionAliases,
		projectAliases, issueAliases, activityAliases,
	} {
		for _, a := range group {
			set[a] = struct{}{}
		}
	}
	return set
}()

// table is a parsed file: a header and its data rows.
type table struct {
	headers []string
	rows    []tableRow
}

type tableRow struct {
	num    int // 1-based row number in the file; the header is row 1
	values []string

	// raw holds unformatted spreadsheet values, used as a fallback when a
	// formatted date does not parse. Nil for CSV.
	raw []string
}

// ParseTabular reads an uploaded file into candidate entries. The file
// extension selects the format: .xlsx/.xlsm are spreadsheets, .xls is
// rejected, anything else is read as CSV.
//
// A returned error is a file-level failure; row-level failures are
// reported in Batch.Errors.
func ParseTabular(sourceID int64, filename string, r io.Reader, importedAt time.Time) (Batch, error) {
	var (
		t   table
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		t, err = readSpreadsheet(r)
	case ".xls":
		err = ErrLegacySpreadsheet
	default:
		t, err = readCSV(r)
	}
	if err != nil {
		return Batch{}, err
	}

	columns := make(map[string]int, len(t.headers))
	for i, h := range t.headers {
		key := strings.ToLower(h)
		if _, dup := columns[key]; h != "" && !dup {
			columns[key] = i
		}
	}

	var batch Batch
	for _, row := range t.rows {
		e, rowErrs := parseRow(t.headers, columns, row)
		if len(rowErrs) > 0 {
			batch.Errors = append(batch.Errors, rowErrs...)
			continue
		}
		e.SourceID = sourceID
		e.SourceKind = model.SourceUpload
		e.ImportedAt = importedAt
		e.ExternalID, err = model.ContentKey(model.RowContent{
			SourceID:        sourceID,
			WorkDate:        e.WorkDate,
			UserIdentifier:  e.UserIdentifier,
			DurationSeconds: e.DurationSeconds,
			Description:     e.Description,
			ProjectKey:      model.Deref(e.ProjectKey),
			IssueKey:        model.Deref(e.IssueKey),
		})
		if err != nil {
			return Batch{}, fmt.Errorf("row %d: %w", row.num, err)
		}
		batch.Candidates = append(batch.Candidates, e)
	}
	return batch, nil
}

func readCSV(r io.Reader) (table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return table{}, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return table{}, nil
	}
	if err != nil {
		return table{}, fmt.Errorf("read csv header: %w", err)
	}

	t := table{headers: trimAll(header)}
	for num := 2; ; num++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table{}, fmt.Errorf("read csv: %w", err)
		}
		t.rows = append(t.rows, tableRow{num: num, values: trimAll(rec)})
	}
	return t, nil
}

func readSpreadsheet(r io.Reader) (table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return table{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return table{}, errors.New("spreadsheet contains no worksheets")
	}

	formatted, err := f.GetRows(sheets[0])
	if err != nil {
		return table{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	raw, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return table{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(formatted) == 0 {
		return table{}, nil
	}

	t := table{headers: trimAll(formatted[0])}
	for i := 1; i < len(formatted); i++ {
		values := trimAll(formatted[i])
		if allBlank(values) {
			continue
		}
		row := tableRow{num: i + 1, values: values}
		if i < len(raw) {
			row.raw = trimAll(raw[i])
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func parseRow(headers []string, columns map[string]int, row tableRow) (model.Entry, []string) {
	field := func(aliases []string) (string, bool) {
		for _, a := range aliases {
			if i, ok := columns[a]; ok {
				if v := cell(row.values, i); v != "" {
					return v, true
				}
			}
		}
		return "", false
	}

	dateStr, hasDate := field(dateAliases)
	durStr, hasDur := field(durationAliases)
	user, hasUser := field(userAliases)

	var errs []string
	if !hasDate {
		errs = append(errs, fmt.Sprintf("Row %d: missing date column.", row.num))
	}
	if !hasDur {
		errs = append(errs, fmt.Sprintf("Row %d: missing hours column.", row.num))
	}
	if !hasUser {
		errs = append(errs, fmt.Sprintf("Row %d: missing email column.", row.num))
	}
	if len(errs) > 0 {
		return model.Entry{}, errs
	}

	workDate, ok := ParseWorkDate(dateStr)
	if !ok && row.raw != nil {
		// Date-formatted spreadsheet cells carry the serial number raw.
		for _, a := range dateAliases {
			if i, found := columns[a]; found && cell(row.values, i) == dateStr {
				workDate, ok = parseSerialDate(cell(row.raw, i))
				break
			}
		}
	}
	if !ok {
		return model.Entry{}, []string{fmt.Sprintf("Row %d: cannot parse date '%s'.", row.num, dateStr)}
	}

	seconds, ok := ParseDuration(durStr)
	if !ok || seconds <= 0 {
		return model.Entry{}, []string{fmt.Sprintf("Row %d: cannot parse hours '%s'.", row.num, durStr)}
	}

	e := model.Entry{
		UserIdentifier:  user,
		WorkDate:        workDate,
		DurationSeconds: seconds,
	}
	e.Description, _ = field(descriptionAliases)
	if v, ok := field(projectAliases); ok {
		e.ProjectKey = &v
	}
	if v, ok := field(issueAliases); ok {
		e.IssueKey = &v
	}
	if v, ok := field(activityAliases); ok {
		e.Activity = &v
	}

	for i, h := range headers {
		if h == "" {
			continue
		}
		if _, known := knownAliases[strings.ToLower(h)]; known {
			continue
		}
		if v := cell(row.values, i); v != "" {
			if _, exists := e.Metadata.Lookup(h); !exists {
				e.Metadata.SetString(h, v)
			}
		}
	}
	return e, nil
}

// Explicit date layouts, tried in order before the generic fallbacks.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2.1.2006",
	"2.1.06",
	"2006/01/02",
	"02-01-2006",
	"01-02-2006",
}

var fallbackDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006",
	"1/2/06",
	"01-02-06",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"2 January 2006",
}

// ParseWorkDate parses a date cell. Explicit layouts are tried first, then
// generic layouts, then a spreadsheet serial number.
func ParseWorkDate(s string) (model.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Date{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.DateOf(t), true
		}
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.DateOf(t), true
		}
	}
	return parseSerialDate(s)
}

// serialEpoch is day zero of the 1900 spreadsheet date system, offset for
// its phantom 1900-02-29.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

func parseSerialDate(s string) (model.Date, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || f < 1 || f > maxSerial {
		return model.Date{}, false
	}
	return model.DateOf(serialEpoch.AddDate(0, 0, int(math.Floor(f)))), true
}

// ParseDuration parses a duration cell into seconds. It accepts clock form
// H:MM or H:MM:SS (hours 0-23) and decimal hours with a '.' separator.
func ParseDuration(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, false
	}
	return int(h * 3600), true
}

func parseClock(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	h, ok := clockPart(parts[0], 1, 23)
	if !ok {
		return 0, false
	}
	m, ok := clockPart(parts[1], 2, 59)
	if !ok {
		return 0, false
	}
	sec := 0
	if len(parts) == 3 {
		if sec, ok = clockPart(parts[2], 2, 59); !ok {
			return 0, false
		}
	}
	return h*3600 + m*60 + sec, true
}

// clockPart parses a run of minDigits..2 ASCII digits no larger than limit.
func clockPart(s string, minDigits, limit int) (int, bool) {
	if len(s) < minDigits || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, n <= limit
}

func cell(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func allBlank(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}
