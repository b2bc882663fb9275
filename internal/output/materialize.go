// Package output materializes the aggregate record set as CSV, Parquet and
// Excel files plus a JSON run manifest.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"carbontrace/internal/normalize"
	"carbontrace/internal/runner"
)

// Columns is the fixed output schema. It is emitted in full even when the
// run produced zero records, so downstream consumers never see the schema
// drop.
var Columns = []string{
	"concept_local",
	"entity_lei",
	"period_start",
	"period_end",
	"value",
	"unit",
	"decimals",
	"source_doc",
}

// Output filenames under the output root.
const (
	ExcelName    = "CarbonTrace_latest.xlsx"
	CSVName      = "facts_latest.csv"
	ParquetName  = "facts_latest.parquet"
	ManifestName = "manifest.json"
)

// Manifest summarizes one execution. Written last, after all data files.
type Manifest struct {
	Version        string        `json:"version"`
	GeneratedAtUTC string        `json:"generated_at_utc"`
	Rows           int           `json:"rows"`
	Columns        []string      `json:"columns"`
	Files          ManifestFiles `json:"files"`
	Notes          string        `json:"notes"`
}

// ManifestFiles lists the data files the manifest describes.
type ManifestFiles struct {
	Excel   string `json:"excel"`
	CSV     string `json:"csv"`
	Parquet string `json:"parquet"`
}

// factRow is the Parquet projection of a record. Pointer fields map to
// optional columns.
type factRow struct {
	ConceptLocal string  `parquet:"concept_local"`
	EntityLEI    *string `parquet:"entity_lei,optional"`
	PeriodStart  *string `parquet:"period_start,optional"`
	PeriodEnd    *string `parquet:"period_end,optional"`
	Value        string  `parquet:"value"`
	Unit         *string `parquet:"unit,optional"`
	Decimals     *string `parquet:"decimals,optional"`
	SourceDoc    string  `parquet:"source_doc"`
}

// Materializer writes the run's outputs under a single directory.
type Materializer struct {
	dir   string
	notes string
	log   *zap.Logger
	now   func() time.Time
}

// NewMaterializer creates a materializer writing into dir. notes is the
// free-text manifest field. A nil logger disables logging.
func NewMaterializer(dir, notes string, log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Materializer{dir: dir, notes: notes, log: log, now: time.Now}
}

// Materialize writes all three serializations of the aggregate table plus
// the manifest. Every file goes to a temporary path first and is renamed
// into place only after all writers succeeded, manifest last, so a crash
// mid-run never leaves a mix of updated and stale outputs. Errors here are
// fatal to the run: no partial output is considered valid.
func (m *Materializer) Materialize(records []normalize.Record, downloads []runner.Download) (*Manifest, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	now := m.now().UTC()
	manifest := &Manifest{
		Version:        now.Format("20060102-150405"),
		GeneratedAtUTC: now.Format(time.RFC3339),
		Rows:           len(records),
		Columns:        Columns,
		Files: ManifestFiles{
			Excel:   ExcelName,
			CSV:     CSVName,
			Parquet: ParquetName,
		},
		Notes: m.notes,
	}

	type artifact struct {
		name  string
		write func(path string) error
	}
	artifacts := []artifact{
		{CSVName, func(p string) error { return m.writeCSV(p, records) }},
		{ParquetName, func(p string) error { return m.writeParquet(p, records) }},
		{ExcelName, func(p string) error { return m.writeExcel(p, records, downloads) }},
		{ManifestName, func(p string) error { return writeManifest(p, manifest) }},
	}

	for _, a := range artifacts {
		tmp := filepath.Join(m.dir, a.name+".tmp")
		if err := a.write(tmp); err != nil {
			for _, b := range artifacts {
				os.Remove(filepath.Join(m.dir, b.name+".tmp"))
			}
			return nil, fmt.Errorf("write %s: %w", a.name, err)
		}
	}
	// All writers succeeded: commit in order, manifest last.
	for _, a := range artifacts {
		tmp := filepath.Join(m.dir, a.name+".tmp")
		if err := os.Rename(tmp, filepath.Join(m.dir, a.name)); err != nil {
			return nil, fmt.Errorf("commit %s: %w", a.name, err)
		}
	}

	m.log.Info("outputs materialized",
		zap.String("dir", m.dir),
		zap.Int("rows", manifest.Rows),
		zap.String("version", manifest.Version))
	return manifest, nil
}

// rowCells flattens a record in column order, nil for null fields.
func rowCells(r normalize.Record) []*string {
	return []*string{
		&r.ConceptLocal,
		r.EntityLEI,
		r.PeriodStart,
		r.PeriodEnd,
		&r.Value,
		r.Unit,
		r.Decimals,
		&r.SourceDoc,
	}
}

func (m *Materializer) writeCSV(path string, records []normalize.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(Columns))
		for i, cell := range rowCells(rec) {
			if cell != nil {
				row[i] = *cell
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func (m *Materializer) writeParquet(path string, records []normalize.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows := make([]factRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, factRow{
			ConceptLocal: rec.ConceptLocal,
			EntityLEI:    rec.EntityLEI,
			PeriodStart:  rec.PeriodStart,
			PeriodEnd:    rec.PeriodEnd,
			Value:        rec.Value,
			Unit:         rec.Unit,
			Decimals:     rec.Decimals,
			SourceDoc:    rec.SourceDoc,
		})
	}

	w := parquet.NewGenericWriter[factRow](f)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}

func (m *Materializer) writeExcel(path string, records []normalize.Record, downloads []runner.Download) error {
	f := excelize.NewFile()
	defer f.Close()

	const facts, sources = "Facts", "Sources"
	if err := f.SetSheetName(f.GetSheetName(0), facts); err != nil {
		return err
	}
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(facts, "A1", &header); err != nil {
		return err
	}
	for i, rec := range records {
		row := make([]any, len(Columns))
		for j, cell := range rowCells(rec) {
			if cell != nil {
				row[j] = *cell
			}
		}
		if err := f.SetSheetRow(facts, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(sources); err != nil {
		return err
	}
	if err := f.SetSheetRow(sources, "A1", &[]any{"url", "saved_as"}); err != nil {
		return err
	}
	for i, dl := range downloads {
		if err := f.SetSheetRow(sources, fmt.Sprintf("A%d", i+2), &[]any{dl.URL, dl.SavedAs}); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
