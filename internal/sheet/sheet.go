// Package sheet keeps the spreadsheet copy of the seat counters.  Each
// schedule owns one row: column A is the schedule id and columns B..G are
// child total, child free, child pending, adult total, adult free and
// adult pending.  Rows are always written whole.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/iliyamo/event-seat-bot/internal/model"
)

// ErrRowMissing is returned when the sheet has no row for a schedule.
var ErrRowMissing = errors.New("schedule row missing from sheet")

// values is the slice of the Sheets values API the ledger needs.
type values interface {
	Get(ctx context.Context, rng string) ([][]interface{}, error)
	Update(ctx context.Context, rng string, rows [][]interface{}) error
	Append(ctx context.Context, rng string, rows [][]interface{}) error
}

// Ledger implements inventory.SheetStore on a Google spreadsheet.
type Ledger struct {
	api      values
	sheet    string // tab name, e.g. "Ledger"
	firstRow int    // 1-based row of the first data row
	lastCol  string

	mu   sync.Mutex
	rows map[uint64]int // schedule id -> 1-based row number
}

// Open connects to the spreadsheet with a service account credentials file.
// rng is the data range such as "Ledger!A2:G".
func Open(ctx context.Context, spreadsheetID, rng, credentialsFile string) (*Ledger, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return New(&apiValues{srv: srv, id: spreadsheetID}, rng)
}

// New builds a Ledger over any values implementation.
func New(api values, rng string) (*Ledger, error) {
	sheetName, first, lastCol, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	return &Ledger{api: api, sheet: sheetName, firstRow: first, lastCol: lastCol, rows: make(map[uint64]int)}, nil
}

// parseRange splits "Ledger!A2:G" into its tab, first row and last column.
func parseRange(rng string) (string, int, string, error) {
	tab, cells, ok := strings.Cut(rng, "!")
	if !ok || tab == "" {
		return "", 0, "", fmt.Errorf("sheet range %q: missing tab", rng)
	}
	from, to, ok := strings.Cut(cells, ":")
	if !ok || !strings.HasPrefix(from, "A") || to == "" {
		return "", 0, "", fmt.Errorf("sheet range %q: want A<row>:<col>", rng)
	}
	first, err := strconv.Atoi(from[1:])
	if err != nil || first < 1 {
		return "", 0, "", fmt.Errorf("sheet range %q: bad first row", rng)
	}
	return tab, first, strings.TrimRight(to, "0123456789"), nil
}

func (l *Ledger) dataRange() string {
	return fmt.Sprintf("%s!A%d:%s", l.sheet, l.firstRow, l.lastCol)
}

func (l *Ledger) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", l.sheet, row, l.lastCol, row)
}

// ReadCounters reads the row of one schedule.
func (l *Ledger) ReadCounters(ctx context.Context, scheduleID uint64) (model.Counters, error) {
	all, err := l.load(ctx)
	if err != nil {
		return model.Counters{}, err
	}
	c, ok := all[scheduleID]
	if !ok {
		return model.Counters{}, fmt.Errorf("schedule %d: %w", scheduleID, ErrRowMissing)
	}
	return c, nil
}

// WriteCounters overwrites the row of one schedule, appending it when the
// sheet has none yet.
func (l *Ledger) WriteCounters(ctx context.Context, scheduleID uint64, c model.Counters) error {
	row, ok := l.rowOf(scheduleID)
	if !ok {
		if _, err := l.load(ctx); err != nil {
			return err
		}
		row, ok = l.rowOf(scheduleID)
	}
	data := [][]interface{}{encode(scheduleID, c)}
	if !ok {
		return l.api.Append(ctx, l.dataRange(), data)
	}
	return l.api.Update(ctx, l.rowRange(row), data)
}

func (l *Ledger) rowOf(id uint64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[id]
	return r, ok
}

// load reads the whole data range and refreshes the row index.
func (l *Ledger) load(ctx context.Context) (map[uint64]model.Counters, error) {
	rows, err := l.api.Get(ctx, l.dataRange())
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]model.Counters, len(rows))
	index := make(map[uint64]int, len(rows))
	for i, r := range rows {
		id, c, err := decode(r)
		if err != nil {
			// Blank or hand-edited rows are skipped.
			continue
		}
		out[id] = c
		index[id] = l.firstRow + i
	}
	l.mu.Lock()
	l.rows = index
	l.mu.Unlock()
	return out, nil
}

func encode(id uint64, c model.Counters) []interface{} {
	return []interface{}{id, c.ChildTotal, c.ChildFree, c.ChildPending, c.AdultTotal, c.AdultFree, c.AdultPending}
}

func decode(row []interface{}) (uint64, model.Counters, error) {
	if len(row) < 7 {
		return 0, model.Counters{}, fmt.Errorf("short row: %d cells", len(row))
	}
	id, err := strconv.ParseUint(cell(row[0]), 10, 64)
	if err != nil {
		return 0, model.Counters{}, err
	}
	var n [6]int
	for i := range n {
		if n[i], err = strconv.Atoi(cell(row[i+1])); err != nil {
			return 0, model.Counters{}, err
		}
	}
	return id, model.Counters{
		ChildTotal: n[0], ChildFree: n[1], ChildPending: n[2],
		AdultTotal: n[3], AdultFree: n[4], AdultPending: n[5],
	}, nil
}

func cell(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// apiValues adapts the generated Sheets client.
type apiValues struct {
	srv *sheets.Service
	id  string
}

func (a *apiValues) Get(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := a.srv.Spreadsheets.Values.Get(a.id, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (a *apiValues) Update(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := a.srv.Spreadsheets.Values.Update(a.id, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (a *apiValues) Append(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := a.srv.Spreadsheets.Values.Append(a.id, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}
