// Package ingest decodes and validates fact records arriving over HTTP, Kafka
// or the command line and turns them into substance.SourceFact values.
//
// Records that fail validation are rejected individually and reported; only
// malformed input (broken JSON) fails a whole decode.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// MaxLineSize bounds a single JSON Lines record.
const MaxLineSize = 1 << 20

// Record is the wire form of one source fact.
type Record struct {
	Source            string               `json:"source" validate:"required,regsource"`
	Name              string               `json:"name" validate:"required_without=LocalCode,max=512"`
	LocalCode         string               `json:"local_code,omitempty" validate:"max=64"`
	ApprovalDate      string               `json:"approval_date,omitempty" validate:"omitempty,factdate"`
	Status            string               `json:"status,omitempty" validate:"max=64"`
	Designations      []string             `json:"designations,omitempty" validate:"dive,designation"`
	BrandName         string               `json:"brand_name,omitempty" validate:"max=512"`
	Indication        string               `json:"indication,omitempty" validate:"max=4096"`
	ATCCode           string               `json:"atc_code,omitempty" validate:"omitempty,alphanum,max=7"`
	ApplicationNumber string               `json:"application_number,omitempty" validate:"max=64"`
	Trial             *TrialRecord         `json:"trial,omitempty"`
	Reimbursement     *ReimbursementRecord `json:"reimbursement,omitempty"`
}

// TrialRecord is the wire form of trial-registry fields.
type TrialRecord struct {
	TrialID string `json:"trial_id" validate:"required,max=64"`
	Phase   string `json:"phase,omitempty" validate:"max=32"`
	Status  string `json:"status,omitempty" validate:"max=64"`
	Title   string `json:"title,omitempty" validate:"max=2048"`
	Sponsor string `json:"sponsor,omitempty" validate:"max=512"`
}

// ReimbursementRecord is the wire form of reimbursement-registry fields.
type ReimbursementRecord struct {
	State        string   `json:"state" validate:"required,max=64"`
	PriceCeiling *float64 `json:"price_ceiling,omitempty" validate:"omitempty,gte=0"`
	Criteria     string   `json:"criteria,omitempty" validate:"max=4096"`
	ListedDate   string   `json:"listed_date,omitempty" validate:"omitempty,factdate"`
}

// Rejection describes one record that was not converted.
type Rejection struct {
	Index  int    `json:"index"`
	Source string `json:"source,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// Result is the outcome of a decode.
type Result struct {
	Facts    []substance.SourceFact `json:"-"`
	Total    int                    `json:"total"`
	Accepted int                    `json:"accepted"`
	Rejected []Rejection            `json:"rejected,omitempty"`
}

// Decoder validates records and converts them into facts.
type Decoder struct {
	validate *validator.Validate
	strict   bool
	maxBatch int
}

// Option configures a Decoder.
type Option func(*Decoder)

// Strict makes the first invalid record fail the whole decode.
func Strict() Option {
	return func(d *Decoder) { d.strict = true }
}

// WithMaxRecords caps the number of records in one decode. Zero disables the cap.
func WithMaxRecords(n int) Option {
	return func(d *Decoder) { d.maxBatch = n }
}

// NewDecoder creates a Decoder with the fact validation rules registered.
func NewDecoder(opts ...Option) *Decoder {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("regsource", func(fl validator.FieldLevel) bool {
		_, err := substance.ParseSource(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("designation", func(fl validator.FieldLevel) bool {
		_, ok := substance.ParseDesignation(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("factdate", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})

	d := &Decoder{validate: v}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DecodeJSON reads a JSON array of records.
func (d *Decoder) DecodeJSON(r io.Reader) (*Result, error) {
	var records []Record
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFactDecodeError, "decode fact array")
	}
	if dec.More() {
		return nil, errors.New(errors.ErrCodeFactDecodeError, "unexpected data after fact array")
	}
	return d.Convert(records)
}

// DecodeJSONLines reads one record per line. Blank lines are skipped.
func (d *Decoder) DecodeJSONLines(r io.Reader) (*Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	var records []Record
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFactDecodeError, fmt.Sprintf("decode fact on line %d", line))
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFactDecodeError, "read fact lines")
	}
	return d.Convert(records)
}

// Decode picks the format from the first non-space byte: '[' means a JSON
// array, anything else JSON Lines.
func (d *Decoder) Decode(r io.Reader) (*Result, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return &Result{}, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFactDecodeError, "read facts")
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		_ = br.UnreadByte()
		if b == '[' {
			return d.DecodeJSON(br)
		}
		return d.DecodeJSONLines(br)
	}
}

// Convert validates records and converts the valid ones.
func (d *Decoder) Convert(records []Record) (*Result, error) {
	if d.maxBatch > 0 && len(records) > d.maxBatch {
		return nil, errors.Newf(errors.ErrCodeFactInvalid, "batch of %d records exceeds the limit of %d", len(records), d.maxBatch)
	}
	res := &Result{Total: len(records), Facts: make([]substance.SourceFact, 0, len(records))}
	for i := range records {
		fact, err := d.convert(&records[i])
		if err != nil {
			if d.strict {
				return nil, errors.Wrap(err, errors.ErrCodeFactInvalid, fmt.Sprintf("record %d", i))
			}
			res.Rejected = append(res.Rejected, Rejection{
				Index:  i,
				Source: records[i].Source,
				Name:   records[i].Name,
				Reason: err.Error(),
			})
			continue
		}
		res.Facts = append(res.Facts, fact)
	}
	res.Accepted = len(res.Facts)
	return res, nil
}

func (d *Decoder) convert(rec *Record) (substance.SourceFact, error) {
	if err := d.validate.Struct(rec); err != nil {
		return substance.SourceFact{}, describe(err)
	}
	src, _ := substance.ParseSource(rec.Source)
	if rec.Trial != nil && rec.Reimbursement != nil {
		return substance.SourceFact{}, fmt.Errorf("trial and reimbursement are mutually exclusive")
	}

	fact := substance.SourceFact{
		Source:            src,
		RawName:           strings.TrimSpace(rec.Name),
		LocalCode:         strings.TrimSpace(rec.LocalCode),
		Status:            substance.ParseApprovalStatus(rec.Status),
		BrandName:         strings.TrimSpace(rec.BrandName),
		Indication:        strings.TrimSpace(rec.Indication),
		ATCCode:           strings.ToUpper(rec.ATCCode),
		ApplicationNumber: strings.TrimSpace(rec.ApplicationNumber),
	}
	if rec.ApprovalDate != "" {
		t, _ := ParseDate(rec.ApprovalDate)
		fact.ApprovalDate = &t
	}
	for _, name := range rec.Designations {
		des, _ := substance.ParseDesignation(name)
		if !fact.Designations.Has(des) {
			fact.Designations = append(fact.Designations, des)
		}
	}
	if rec.Trial != nil {
		fact.Trial = &substance.TrialDetail{
			TrialID: strings.TrimSpace(rec.Trial.TrialID),
			Phase:   substance.ParsePhase(rec.Trial.Phase),
			Status:  substance.ParseTrialStatus(rec.Trial.Status),
			Title:   rec.Trial.Title,
			Sponsor: rec.Trial.Sponsor,
		}
	}
	if rec.Reimbursement != nil {
		fact.Reimbursement = &substance.ReimbursementDetail{
			State:        substance.ParseReimbursementState(rec.Reimbursement.State),
			PriceCeiling: rec.Reimbursement.PriceCeiling,
			Criteria:     rec.Reimbursement.Criteria,
		}
		if rec.Reimbursement.ListedDate != "" {
			t, _ := ParseDate(rec.Reimbursement.ListedDate)
			fact.Reimbursement.ListedDate = &t
		}
	}
	return fact, nil
}

// FromFact is the inverse of conversion, used when re-emitting facts.
func FromFact(f *substance.SourceFact) Record {
	rec := Record{
		Source:            string(f.Source),
		Name:              f.RawName,
		LocalCode:         f.LocalCode,
		Status:            string(f.Status),
		BrandName:         f.BrandName,
		Indication:        f.Indication,
		ATCCode:           f.ATCCode,
		ApplicationNumber: f.ApplicationNumber,
	}
	if f.ApprovalDate != nil {
		rec.ApprovalDate = f.ApprovalDate.Format(dateLayout)
	}
	for _, d := range f.Designations {
		rec.Designations = append(rec.Designations, string(d))
	}
	if f.Trial != nil {
		rec.Trial = &TrialRecord{
			TrialID: f.Trial.TrialID,
			Phase:   string(f.Trial.Phase),
			Status:  string(f.Trial.Status),
			Title:   f.Trial.Title,
			Sponsor: f.Trial.Sponsor,
		}
	}
	if f.Reimbursement != nil {
		rec.Reimbursement = &ReimbursementRecord{
			State:        string(f.Reimbursement.State),
			PriceCeiling: f.Reimbursement.PriceCeiling,
			Criteria:     f.Reimbursement.Criteria,
		}
		if f.Reimbursement.ListedDate != nil {
			rec.Reimbursement.ListedDate = f.Reimbursement.ListedDate.Format(dateLayout)
		}
	}
	return rec
}

const dateLayout = "2006-01-02"

var dateLayouts = []string{dateLayout, time.RFC3339, "20060102", "2006.01.02", "2006/01/02"}

// ParseDate accepts ISO dates, RFC 3339 timestamps and the compact and
// dotted forms used by domestic registries. The result is in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// describe flattens validator errors into one readable line.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Record.")
		switch fe.Tag() {
		case "required", "required_without":
			parts = append(parts, field+" is required")
		case "regsource":
			parts = append(parts, fmt.Sprintf("%s: unknown source %q", field, fe.Value()))
		case "designation":
			parts = append(parts, fmt.Sprintf("%s: unknown designation %q", field, fe.Value()))
		case "factdate":
			parts = append(parts, fmt.Sprintf("%s: unrecognised date %q", field, fe.Value()))
		default:
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
			} else {
				parts = append(parts, fmt.Sprintf("%s fails %s", field, fe.Tag()))
			}
		}
	}
	return stderrors.New(strings.Join(parts, "; "))
}
