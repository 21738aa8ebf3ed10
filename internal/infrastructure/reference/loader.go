package reference

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/turtacn/RegScan/internal/domain/bridge"
	"github.com/turtacn/RegScan/internal/domain/classification"
	"github.com/turtacn/RegScan/internal/domain/impact"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// TableSpec names one bridge table document.
type TableSpec struct {
	Name       string `mapstructure:"name"`
	Path       string `mapstructure:"path"`
	Precedence int    `mapstructure:"precedence"`
}

// Metrics receives row counts per loaded table.
type Metrics interface {
	RecordReferenceRows(table string, n int)
}

// Loader reads reference tables from a Source. Every failure is a REF error
// and is meant to abort startup.
type Loader struct {
	src     Source
	metrics Metrics
	logger  logging.Logger
}

// NewLoader creates a loader. metrics may be nil.
func NewLoader(src Source, metrics Metrics, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Loader{src: src, metrics: metrics, logger: logger}
}

var (
	codeColumns  = []string{"local_code", "code", "ingredient_code"}
	nameColumns  = []string{"name", "generic_name", "ingredient_name", "substance"}
	atcColumns   = []string{"atc_code", "atc"}
	kindColumns  = []string{"kind", "type"}
	dateColumns  = []string{"expires", "expiry", "expires_on"}
	srcColumns   = []string{"source", "reference"}
	labelColumns = []string{"name", "label", "description"}
)

// LoadBridge reads every table in specs.
func (l *Loader) LoadBridge(ctx context.Context, specs []TableSpec) ([]bridge.Table, error) {
	if len(specs) == 0 {
		return nil, errors.New(errors.ErrCodeReferenceSourceAbsent, "no bridge table configured")
	}
	tables := make([]bridge.Table, 0, len(specs))
	for _, spec := range specs {
		name := spec.Name
		if name == "" {
			name = spec.Path
		}
		var rows []substance.BridgeEntry
		err := l.read(ctx, name, spec.Path, []columnSpec{
			{names: codeColumns, required: true},
			{names: nameColumns, required: true},
			{names: atcColumns},
		}, func(rec []string) error {
			rows = append(rows, substance.BridgeEntry{LocalCode: rec[0], Name: rec[1], ATCCode: rec[2]})
			return nil
		})
		if err != nil {
			return nil, err
		}
		tables = append(tables, bridge.Table{Name: name, Precedence: spec.Precedence, Rows: rows})
	}
	return tables, nil
}

// LoadClassification reads the classification table at path.
func (l *Loader) LoadClassification(ctx context.Context, path string) ([]classification.Entry, error) {
	var entries []classification.Entry
	err := l.read(ctx, "classification", path, []columnSpec{
		{names: []string{"code", "atc_code"}, required: true},
		{names: labelColumns, required: true},
	}, func(rec []string) error {
		entries = append(entries, classification.Entry{Code: rec[0], Name: rec[1]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LoadExclusivity reads exclusivity boundaries at path. Expiry dates use the
// YYYY-MM-DD layout.
func (l *Loader) LoadExclusivity(ctx context.Context, path string) ([]impact.ExclusivityRow, error) {
	var rows []impact.ExclusivityRow
	err := l.read(ctx, "exclusivity", path, []columnSpec{
		{names: nameColumns, required: true},
		{names: kindColumns},
		{names: dateColumns, required: true},
		{names: srcColumns},
	}, func(rec []string) error {
		expires, err := time.Parse("2006-01-02", rec[2])
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeReferenceMalformed, "invalid expiry "+rec[2])
		}
		kind := rec[1]
		if kind == "" {
			kind = "patent"
		}
		rows = append(rows, impact.ExclusivityRow{
			Name:            rec[0],
			ExclusivityInfo: substance.ExclusivityInfo{Kind: kind, Expires: expires, Source: rec[3]},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type columnSpec struct {
	names    []string
	required bool
}

// read streams path through fn, one projected record per data row. Blank
// lines are skipped; a document with a header but no rows is REF_002.
func (l *Loader) read(ctx context.Context, table, path string, cols []columnSpec, fn func([]string) error) error {
	if path == "" {
		return errors.Newf(errors.ErrCodeReferenceSourceAbsent, "no path configured for %s table", table)
	}
	rc, err := l.src.Open(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()

	where := l.src.Describe(path)
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err == io.EOF {
		return errors.Newf(errors.ErrCodeReferenceEmpty, "%s table %s is empty", table, where)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReferenceMalformed, "read header of "+where)
	}
	idx, err := project(header, cols)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReferenceMalformed, where)
	}

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeReferenceLoadFailed, "loading "+where)
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeReferenceMalformed, "parse "+where)
		}
		if blank(rec) {
			continue
		}
		line, _ := r.FieldPos(0)
		out := make([]string, len(idx))
		for i, j := range idx {
			if j >= 0 && j < len(rec) {
				out[i] = strings.TrimSpace(rec[j])
			}
		}
		if err := fn(out); err != nil {
			return errors.Wrap(err, errors.ErrCodeReferenceMalformed, fmt.Sprintf("%s line %d", where, line))
		}
		n++
	}
	if n == 0 {
		return errors.Newf(errors.ErrCodeReferenceEmpty, "%s table %s has no rows", table, where)
	}

	if l.metrics != nil {
		l.metrics.RecordReferenceRows(table, n)
	}
	l.logger.Info("reference table loaded",
		logging.String("table", table),
		logging.String("source", where),
		logging.Int("rows", n))
	return nil
}

// project maps each column spec to its header index, -1 when absent.
func project(header []string, cols []columnSpec) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = -1
		for _, name := range c.names {
			if j, ok := pos[name]; ok {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 && c.required {
			return nil, errors.Newf(errors.ErrCodeReferenceMalformed, "missing column %q", c.names[0])
		}
	}
	return idx, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
