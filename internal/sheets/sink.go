package sheets

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/metrics"
)

const (
	inputUserEntered = "USER_ENTERED"
	inputRaw         = "RAW"
)

// DefaultTimeout bounds a single values API call.
const DefaultTimeout = 30 * time.Second

// valuesAPI is the slice of the Sheets values API the sink uses.
type valuesAPI interface {
	Get(ctx context.Context, rng string) ([][]any, error)
	Update(ctx context.Context, rng string, values [][]any, inputOption string) error
	Append(ctx context.Context, rng string, values [][]any, inputOption string) error
}

// Sink is a resumable upsert target. Any API failure disables it for the
// rest of the run; a disabled sink skips writes and reports position 0.
type Sink struct {
	api     valuesAPI
	tab     string
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	headerOK bool
	disabled bool
}

var _ catalog.Sink = (*Sink)(nil)

// Disabled returns a sink that skips every write.
func Disabled(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger, disabled: true}
}

// NewWithAPI builds a sink over an existing values API.
func NewWithAPI(api valuesAPI, tab string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if api == nil {
		return Disabled(logger)
	}
	if tab == "" {
		tab = "Products"
	}
	return &Sink{api: api, tab: tab, timeout: DefaultTimeout, logger: logger}
}

// WithTimeout sets the per-call deadline. Non-positive values keep the default.
func (s *Sink) WithTimeout(d time.Duration) *Sink {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Enabled reports whether writes still reach the sheet.
func (s *Sink) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// ResumePosition returns the largest POSITION value in the sheet, or 0.
func (s *Sink) ResumePosition(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return 0
	}
	if err := s.ensureHeader(ctx); err != nil {
		s.disable("ensure header", err)
		return 0
	}
	col := columnLetter(columnIndex("POSITION"))
	rows, err := s.get(ctx, s.rangeOf(fmt.Sprintf("%s2:%s", col, col)))
	if err != nil {
		s.disable("read positions", err)
		return 0
	}
	maxPos := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if n, ok := parsePosition(row[0]); ok && n > maxPos {
			maxPos = n
		}
	}
	return maxPos
}

// Upsert overwrites the row whose PRODUCT_URL matches row.Key() or appends a
// new one.
func (s *Sink) Upsert(ctx context.Context, row catalog.SheetRow) catalog.WriteResult {
	result := s.upsert(ctx, row)
	metrics.ObserveSinkWrite(string(result))
	return result
}

func (s *Sink) upsert(ctx context.Context, row catalog.SheetRow) catalog.WriteResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return catalog.WriteSkipped
	}
	if err := s.ensureHeader(ctx); err != nil {
		s.disable("ensure header", err)
		return catalog.WriteSkipped
	}

	index, err := s.findRow(ctx, row.Key())
	if err != nil {
		s.disable("scan keys", err)
		return catalog.WriteSkipped
	}
	values := [][]any{Values(row)}
	last := columnLetter(len(Columns))
	if index > 0 {
		rng := s.rangeOf(fmt.Sprintf("A%d:%s%d", index, last, index))
		if err := s.update(ctx, rng, values, inputUserEntered); err != nil {
			s.disable("update row", err)
			return catalog.WriteSkipped
		}
		return catalog.WriteUpdated
	}
	if err := s.appendRow(ctx, s.rangeOf("A1"), values, inputUserEntered); err != nil {
		s.disable("append row", err)
		return catalog.WriteSkipped
	}
	return catalog.WriteNew
}

// ensureHeader rewrites row 1 when it differs from Columns, blanking any
// wider stale header cells. It runs once per sink; data rows are never touched.
func (s *Sink) ensureHeader(ctx context.Context) error {
	if s.headerOK {
		return nil
	}
	rows, err := s.get(ctx, s.rangeOf("1:1"))
	if err != nil {
		return err
	}
	var current []any
	if len(rows) > 0 {
		current = rows[0]
	}
	if !headerMatches(current) {
		header := make([]any, max(len(Columns), len(current)))
		for i := range header {
			header[i] = ""
			if i < len(Columns) {
				header[i] = Columns[i]
			}
		}
		last := columnLetter(len(header))
		if err := s.update(ctx, s.rangeOf("A1:"+last+"1"), [][]any{header}, inputRaw); err != nil {
			return err
		}
		s.logger.Info("sheet header written", zap.String("tab", s.tab), zap.Int("previous_columns", len(current)))
	}
	s.headerOK = true
	return nil
}

func (s *Sink) findRow(ctx context.Context, key string) (int, error) {
	col := columnLetter(columnIndex("PRODUCT_URL"))
	rows, err := s.get(ctx, s.rangeOf(fmt.Sprintf("%s2:%s", col, col)))
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		if len(row) > 0 && cellString(row[0]) == key {
			return i + 2, nil
		}
	}
	return 0, nil
}

func (s *Sink) get(ctx context.Context, rng string) ([][]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.api.Get(callCtx, rng)
}

func (s *Sink) update(ctx context.Context, rng string, values [][]any, inputOption string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.api.Update(callCtx, rng, values, inputOption)
}

func (s *Sink) appendRow(ctx context.Context, rng string, values [][]any, inputOption string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.api.Append(callCtx, rng, values, inputOption)
}

func (s *Sink) disable(op string, err error) {
	if !s.disabled {
		s.logger.Warn("sheet sink disabled", zap.String("op", op), zap.String("tab", s.tab), zap.Error(err))
	}
	s.disabled = true
}

// rangeOf prefixes an A1 range with the quoted tab name.
func (s *Sink) rangeOf(rng string) string {
	return "'" + strings.ReplaceAll(s.tab, "'", "''") + "'!" + rng
}

// headerMatches reports whether current starts with Columns and has nothing
// but blank cells after them.
func headerMatches(current []any) bool {
	if len(current) < len(Columns) {
		return false
	}
	for i, c := range Columns {
		if cellString(current[i]) != c {
			return false
		}
	}
	for _, extra := range current[len(Columns):] {
		if cellString(extra) != "" {
			return false
		}
	}
	return true
}

func cellString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parsePosition(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), t == math.Trunc(t)
	case int:
		return t, true
	}
	text := cellString(v)
	if text == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && f == math.Trunc(f) {
		return int(f), true
	}
	return 0, false
}
