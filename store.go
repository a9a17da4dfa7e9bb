package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.elastic.co/apm"
	_ "modernc.org/sqlite"
)

// Store is the persistence used by the workflow and the search fallback.
type Store interface {
	AssessmentStore
	ConditionSearcher
	ConditionLogStore
	ListAssessments(ctx context.Context, patientId string, limit int) ([]*Assessment, error)
	CountConditions(ctx context.Context) (int, error)
	Close() error
}

// StoredCondition is the searchable projection of a FHIR Condition. Code,
// System and Display come from the first coding; Displays holds every coding
// display. NoteText is the first note.
type StoredCondition struct {
	Id           string
	CodeText     string
	Display      string
	Displays     []string
	Code         string
	System       string
	NoteText     string
	RecordedDate time.Time
}

type SQLiteStore struct {
	db *sql.DB
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newSQLiteStoreFromDB wraps an open handle without touching the schema.
func newSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		status TEXT NOT NULL,
		protocol_id TEXT DEFAULT '',
		record TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_patient ON assessments(patient_id);
	CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);

	CREATE TABLE IF NOT EXISTS conditions (
		id TEXT PRIMARY KEY,
		code_text TEXT DEFAULT '',
		display TEXT DEFAULT '',
		code TEXT DEFAULT '',
		system TEXT DEFAULT '',
		note_text TEXT DEFAULT '',
		recorded_date TEXT,
		resource TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conditions_recorded_date ON conditions(recorded_date);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	if err := addMissingColumns(db, "conditions", conditionColumns); err != nil {
		return err
	}

	// Rows written before search_text existed
	if _, err := db.Exec(`
		UPDATE conditions
		SET displays = display, search_text = lower(code_text || char(10) || display || char(10) || note_text)
		WHERE search_text = '' AND (code_text != '' OR display != '' OR note_text != '')`); err != nil {
		return err
	}

	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_conditions_patient_onset ON conditions(patient_id, onset_date)")
	return err
}

// Columns added after the first release of the conditions table
var conditionColumns = []struct {
	name string
	decl string
}{
	{"displays", "TEXT DEFAULT ''"},
	{"search_text", "TEXT DEFAULT ''"},
	{"patient_id", "TEXT DEFAULT ''"},
	{"onset_date", "TEXT"},
}

func addMissingColumns(db *sql.DB, table string, columns []struct {
	name string
	decl string
}) error {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return err
	}

	existing := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, column := range columns {
		if existing[column.name] {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column.name, column.decl)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", column.name, err)
		}
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(s scanner) (*Assessment, error) {
	var record string
	if err := s.Scan(&record); err != nil {
		return nil, err
	}

	var assessment Assessment
	if err := json.Unmarshal([]byte(record), &assessment); err != nil {
		return nil, fmt.Errorf("error unmarshalling assessment: %w", err)
	}
	return &assessment, nil
}

func scanCondition(s scanner) (StoredCondition, error) {
	var c StoredCondition
	var displays string
	var recorded sql.NullString

	if err := s.Scan(&c.Id, &c.CodeText, &displays, &c.Code, &c.System, &c.NoteText, &recorded); err != nil {
		return StoredCondition{}, err
	}

	if displays != "" {
		c.Displays = strings.Split(displays, "\n")
		c.Display = c.Displays[0]
	}

	if recorded.Valid && recorded.String != "" {
		t, err := time.Parse(timeLayout, recorded.String)
		if err != nil {
			return StoredCondition{}, fmt.Errorf("error parsing recorded date: %w", err)
		}
		c.RecordedDate = t
	}
	return c, nil
}

func (s *SQLiteStore) SaveAssessment(ctx context.Context, a *Assessment) error {
	span, ctx := apm.StartSpan(ctx, "SaveAssessment", "SQLite")
	defer span.End()

	record, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("error marshalling assessment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, patient_id, status, protocol_id, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_id = excluded.patient_id,
			status = excluded.status,
			protocol_id = excluded.protocol_id,
			record = excluded.record,
			updated_at = excluded.updated_at
	`,
		a.Id,
		a.PatientId,
		a.Status,
		a.SelectedProtocolId,
		string(record),
		a.CreatedAt.UTC().Format(timeLayout),
		a.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// GetAssessment returns nil without an error when no assessment has the id.
func (s *SQLiteStore) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	span, ctx := apm.StartSpan(ctx, "GetAssessment", "SQLite")
	defer span.End()

	row := s.db.QueryRowContext(ctx, "SELECT record FROM assessments WHERE id = ?", id)
	assessment, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return assessment, nil
}

// ListAssessments returns the newest assessments first, optionally for one patient.
func (s *SQLiteStore) ListAssessments(ctx context.Context, patientId string, limit int) ([]*Assessment, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	query := "SELECT record FROM assessments"
	args := []interface{}{}
	if patientId != "" {
		query += " WHERE patient_id = ?"
		args = append(args, patientId)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	assessments := []*Assessment{}
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		assessments = append(assessments, assessment)
	}
	return assessments, rows.Err()
}

func (s *SQLiteStore) SaveCondition(ctx context.Context, condition *Condition, raw []byte) error {
	if condition.Id == "" {
		return fmt.Errorf("%w: condition id is required", errValidation)
	}

	span, ctx := apm.StartSpan(ctx, "SaveCondition", "SQLite")
	defer span.End()

	var code, system string
	if len(condition.Code.Coding) > 0 {
		code = condition.Code.Coding[0].Code
		system = condition.Code.Coding[0].System
	}

	displays := make([]string, 0, len(condition.Code.Coding))
	for _, coding := range condition.Code.Coding {
		if coding.Display != "" {
			displays = append(displays, coding.Display)
		}
	}

	notes := make([]string, 0, len(condition.Note))
	for _, note := range condition.Note {
		notes = append(notes, note.Text)
	}
	var firstNote string
	if len(notes) > 0 {
		firstNote = notes[0]
	}

	// Lowered here rather than in SQL, where lower() only folds ASCII
	searchText := strings.ToLower(strings.Join(append(append([]string{condition.Code.Text}, displays...), notes...), "\n"))

	var recorded, onset interface{}
	if !condition.RecordedDate.IsZero() {
		recorded = condition.RecordedDate.UTC().Format(timeLayout)
	}
	if !condition.OnsetDateTime.IsZero() {
		onset = condition.OnsetDateTime.UTC().Format(timeLayout)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conditions (id, code_text, display, displays, code, system, note_text, search_text, patient_id, onset_date, recorded_date, resource)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code_text = excluded.code_text,
			display = excluded.display,
			displays = excluded.displays,
			code = excluded.code,
			system = excluded.system,
			note_text = excluded.note_text,
			search_text = excluded.search_text,
			patient_id = excluded.patient_id,
			onset_date = excluded.onset_date,
			recorded_date = excluded.recorded_date,
			resource = excluded.resource
	`,
		condition.Id,
		condition.Code.Text,
		firstString(displays),
		strings.Join(displays, "\n"),
		code,
		system,
		firstNote,
		searchText,
		condition.patientId(),
		onset,
		recorded,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save condition: %w", err)
	}
	return nil
}

// SearchConditions matches any term against code text, every coding display
// and every note, case-insensitively. Newest recorded conditions come first.
func (s *SQLiteStore) SearchConditions(ctx context.Context, terms []string, limit int) ([]StoredCondition, error) {
	if len(terms) == 0 {
		return []StoredCondition{}, nil
	}

	span, ctx := apm.StartSpan(ctx, "SearchConditions", "SQLite")
	defer span.End()

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		clauses = append(clauses, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
	}
	args = append(args, limit)

	query := `
		SELECT id, code_text, displays, code, system, note_text, recorded_date
		FROM conditions
		WHERE ` + strings.Join(clauses, " OR ") + `
		ORDER BY recorded_date IS NULL, recorded_date DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search conditions: %w", err)
	}
	defer rows.Close()

	conditions := []StoredCondition{}
	for rows.Next() {
		condition, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		conditions = append(conditions, condition)
	}
	return conditions, rows.Err()
}

// ListPatientConditions returns the stored resources of a patient's
// Conditions with an onset in [start, end), oldest onset first.
func (s *SQLiteStore) ListPatientConditions(ctx context.Context, patientId string, start, end time.Time) ([]json.RawMessage, error) {
	span, ctx := apm.StartSpan(ctx, "ListPatientConditions", "SQLite")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource
		FROM conditions
		WHERE patient_id = ? AND onset_date >= ? AND onset_date < ?
		ORDER BY onset_date, id`,
		patientId,
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient conditions: %w", err)
	}
	defer rows.Close()

	resources := []json.RawMessage{}
	for rows.Next() {
		var resource string
		if err := rows.Scan(&resource); err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		resources = append(resources, json.RawMessage(resource))
	}
	return resources, rows.Err()
}

func (s *SQLiteStore) CountConditions(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conditions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conditions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func firstString(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

// ImportBundle loads the Conditions of a FHIR Bundle, or a single Condition,
// into the store. Other resource types are skipped.
func ImportBundle(ctx context.Context, store Store, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("error reading bundle: %w", err)
	}

	imported := 0
	err = parseFHIR(data, func(resourceType string, raw []byte) error {
		if resourceType != "Condition" {
			return nil
		}

		var condition Condition
		if err := json.Unmarshal(raw, &condition); err != nil {
			return fmt.Errorf("error unmarshalling Condition: %w", err)
		}
		if err := store.SaveCondition(ctx, &condition, raw); err != nil {
			return err
		}
		imported++
		return nil
	})
	if err != nil {
		return imported, err
	}

	return imported, nil
}
