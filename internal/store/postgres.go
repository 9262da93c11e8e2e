package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/observability/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is a Store on database/sql with the lib/pq driver.
type Postgres struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// OpenPostgres connects to dsn and optionally applies migrations.
func OpenPostgres(ctx context.Context, dsn string, migrate bool) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, mapError("ping", err)
	}
	if migrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return NewPostgres(db), nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, metrics: metrics.DefaultMetrics}
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info().Msg("Database migrations applied")
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return mapError("ping", p.db.PingContext(ctx))
}

func (p *Postgres) CreateEncounter(ctx context.Context, patientID string, f EncounterFields) (*Encounter, error) {
	now := time.Now().UTC()
	e := &Encounter{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Reason:    f.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO encounters (id, patient_id, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(ctx, query, e.ID, e.PatientID, e.Reason, e.CreatedAt, e.UpdatedAt)
	err = mapError("create encounter", err)
	p.metrics.RecordStoreWrite("CreateEncounter", err)
	if err != nil {
		return nil, err
	}
	return e, nil
}

const encounterColumns = `id, patient_id, reason, transcript, diagnosis, treatments, soap_note, deleted, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEncounter(row scanner) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.Reason,
		&e.Transcript,
		&e.Diagnosis,
		&e.Treatments,
		&e.SoapNote,
		&e.Deleted,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) GetEncounter(ctx context.Context, encounterID string) (*Encounter, error) {
	if _, err := uuid.Parse(encounterID); err != nil {
		return nil, fmt.Errorf("encounter %s: %w", encounterID, ErrNotFound)
	}
	query := `SELECT ` + encounterColumns + ` FROM encounters WHERE id = $1 AND NOT deleted`
	e, err := scanEncounter(p.db.QueryRowContext(ctx, query, encounterID))
	if err != nil {
		return nil, mapError("get encounter", err)
	}
	return e, nil
}

func (p *Postgres) UpdateTranscript(ctx context.Context, patientID, encounterID, text string) error {
	return p.updateField(ctx, "UpdateTranscript", "transcript", patientID, encounterID, text)
}

func (p *Postgres) UpdateDiagnosis(ctx context.Context, patientID, encounterID, text string) error {
	return p.updateField(ctx, "UpdateDiagnosis", "diagnosis", patientID, encounterID, text)
}

func (p *Postgres) UpdateTreatments(ctx context.Context, patientID, encounterID, text string) error {
	return p.updateField(ctx, "UpdateTreatments", "treatments", patientID, encounterID, text)
}

func (p *Postgres) UpdateSoapNote(ctx context.Context, patientID, encounterID, text string) error {
	return p.updateField(ctx, "UpdateSoapNote", "soap_note", patientID, encounterID, text)
}

// updateField sets one text column. column is always a constant from this
// file, never caller input.
func (p *Postgres) updateField(ctx context.Context, op, column, patientID, encounterID, text string) (err error) {
	defer func() { p.metrics.RecordStoreWrite(op, err) }()

	query := `UPDATE encounters SET ` + column + ` = $1, updated_at = $2 WHERE id = $3 AND patient_id = $4 AND NOT deleted`
	res, err := p.db.ExecContext(ctx, query, text, time.Now().UTC(), encounterID, patientID)
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: encounter %s: %w", op, encounterID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) MarkDeleted(ctx context.Context, encounterID string) (err error) {
	defer func() { p.metrics.RecordStoreWrite("MarkDeleted", err) }()

	res, err := p.db.ExecContext(ctx, `UPDATE encounters SET deleted = true, updated_at = $1 WHERE id = $2`, time.Now().UTC(), encounterID)
	if err != nil {
		return mapError("mark deleted", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark deleted: encounter %s: %w", encounterID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetPatientData(ctx context.Context, patientID string) (*PatientData, error) {
	data := &PatientData{}
	err := p.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM patients WHERE id = $1`, patientID).
		Scan(&data.Patient.ID, &data.Patient.Name, &data.Patient.CreatedAt)
	if err != nil {
		return nil, mapError("get patient", err)
	}

	query := `SELECT ` + encounterColumns + ` FROM encounters WHERE patient_id = $1 AND NOT deleted ORDER BY created_at DESC`
	rows, err := p.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, mapError("list encounters", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, mapError("scan encounter", err)
		}
		data.Encounters = append(data.Encounters, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list encounters", err)
	}
	return data, nil
}

// mapError folds driver errors into the store taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23503": // foreign_key_violation: unknown patient
			return fmt.Errorf("%s: %w: %s", op, ErrNotFound, pqErr.Message)
		case pqErr.Code == "42501", pqErr.Code.Class() == "28":
			return fmt.Errorf("%s: %w: %s", op, ErrPermissionDenied, pqErr.Message)
		}
		return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, pqErr.Message)
	}

	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
