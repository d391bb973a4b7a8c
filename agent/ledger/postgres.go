package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PostgresConfig configures the bun-backed ledger. An empty DSN means the
// process runs on the in-memory ledger instead.
type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true"`
}

type slotRow struct {
	bun.BaseModel `bun:"table:schedule_slots,alias:s"`

	Date      string `bun:"date,pk"`
	TimeLabel string `bun:"time_label,pk"`
	Status    string `bun:"status,notnull"`
}

type patientRow struct {
	bun.BaseModel `bun:"table:patients,alias:p"`

	Name            string `bun:"name,pk"`
	Age             int    `bun:"age"`
	Phone           string `bun:"phone"`
	Insurance       string `bun:"insurance"`
	LastAppointment string `bun:"last_appointment"`
	NextAppointment string `bun:"next_appointment"`
}

// PostgresLedger persists the schedule and roster in Postgres. Booking uses
// a conditional UPDATE inside a transaction, so the one-winner property
// holds even across processes sharing the database.
type PostgresLedger struct {
	db     *bun.DB
	window Window
}

func NewPostgresLedger(cfg PostgresConfig, window Window) (*PostgresLedger, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresLedger{db: db, window: window}, nil
}

// Init creates the ledger tables if needed and loads the snapshot into them,
// replacing any rows for the same keys.
func (l *PostgresLedger) Init(ctx context.Context, snap Snapshot) error {
	if _, err := l.db.NewCreateTable().Model((*slotRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create schedule_slots: %w", err)
	}
	if _, err := l.db.NewCreateTable().Model((*patientRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create patients: %w", err)
	}

	slots := make([]slotRow, 0, len(snap.Schedule)*24)
	for date, day := range snap.Schedule {
		for label, status := range day {
			slots = append(slots, slotRow{Date: date, TimeLabel: label, Status: string(status)})
		}
	}
	if len(slots) > 0 {
		if _, err := l.db.NewInsert().
			Model(&slots).
			On("CONFLICT (date, time_label) DO UPDATE").
			Set("status = EXCLUDED.status").
			Exec(ctx); err != nil {
			return fmt.Errorf("seed schedule_slots: %w", err)
		}
	}

	patients := make([]patientRow, 0, len(snap.Patients))
	for _, p := range snap.Patients {
		patients = append(patients, patientRow{
			Name:            p.Name,
			Age:             p.Age,
			Phone:           p.Phone,
			Insurance:       p.Insurance,
			LastAppointment: p.LastAppointment,
			NextAppointment: p.NextAppointment,
		})
	}
	if len(patients) > 0 {
		if _, err := l.db.NewInsert().
			Model(&patients).
			On("CONFLICT (name) DO UPDATE").
			Set("next_appointment = EXCLUDED.next_appointment").
			Exec(ctx); err != nil {
			return fmt.Errorf("seed patients: %w", err)
		}
	}
	return nil
}

func (l *PostgresLedger) ReadSlot(ctx context.Context, date, timeLabel string) (SlotStatus, error) {
	var row slotRow
	err := l.db.NewSelect().
		Model(&row).
		Where("date = ?", date).
		Where("time_label = ?", timeLabel).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: date=%s time=%s", ErrUnknownSlot, date, timeLabel)
	}
	if err != nil {
		return "", fmt.Errorf("read slot: %w", err)
	}
	return SlotStatus(row.Status), nil
}

func (l *PostgresLedger) ReadPatient(ctx context.Context, name string) (PatientRecord, error) {
	var row patientRow
	err := l.db.NewSelect().
		Model(&row).
		Where("lower(name) = lower(?)", strings.TrimSpace(name)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return PatientRecord{}, fmt.Errorf("%w: %s", ErrUnknownPatient, name)
	}
	if err != nil {
		return PatientRecord{}, fmt.Errorf("read patient: %w", err)
	}
	return PatientRecord{
		Name:            row.Name,
		Age:             row.Age,
		Phone:           row.Phone,
		Insurance:       row.Insurance,
		LastAppointment: row.LastAppointment,
		NextAppointment: row.NextAppointment,
	}, nil
}

func (l *PostgresLedger) Book(ctx context.Context, date, timeLabel, name string) error {
	if !l.window.Contains(date) {
		return fmt.Errorf("%w: date=%s", ErrOutOfWindow, date)
	}

	return l.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*slotRow)(nil)).
			Set("status = ?", string(SlotBooked)).
			Where("date = ?", date).
			Where("time_label = ?", timeLabel).
			Where("status = ?", string(SlotOpen)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("book slot: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("book slot: %w", err)
		}
		if affected == 0 {
			// Lost the race or the slot was never open; classify from a re-read.
			var row slotRow
			err := tx.NewSelect().
				Model(&row).
				Where("date = ?", date).
				Where("time_label = ?", timeLabel).
				Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: date=%s time=%s", ErrUnknownSlot, date, timeLabel)
			}
			if err != nil {
				return fmt.Errorf("classify slot: %w", err)
			}
			if SlotStatus(row.Status) == SlotClosed {
				return fmt.Errorf("%w: date=%s time=%s", ErrSlotClosed, date, timeLabel)
			}
			return fmt.Errorf("%w: date=%s time=%s", ErrAlreadyBooked, date, timeLabel)
		}

		res, err = tx.NewUpdate().
			Model((*patientRow)(nil)).
			Set("next_appointment = ?", date).
			Where("lower(name) = lower(?)", strings.TrimSpace(name)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		if affected == 0 {
			// Rolls back the slot transition too.
			return fmt.Errorf("%w: %s", ErrUnknownPatient, name)
		}
		return nil
	})
}

func (l *PostgresLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	var slots []slotRow
	if err := l.db.NewSelect().Model(&slots).Scan(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot slots: %w", err)
	}
	var patients []patientRow
	if err := l.db.NewSelect().Model(&patients).Scan(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot patients: %w", err)
	}

	snap := Snapshot{
		Schedule: make(map[string]map[string]SlotStatus),
		Patients: make(map[string]PatientRecord, len(patients)),
	}
	for _, s := range slots {
		day, ok := snap.Schedule[s.Date]
		if !ok {
			day = make(map[string]SlotStatus, 24)
			snap.Schedule[s.Date] = day
		}
		day[s.TimeLabel] = SlotStatus(s.Status)
	}
	for _, p := range patients {
		snap.Patients[p.Name] = PatientRecord{
			Name:            p.Name,
			Age:             p.Age,
			Phone:           p.Phone,
			Insurance:       p.Insurance,
			LastAppointment: p.LastAppointment,
			NextAppointment: p.NextAppointment,
		}
	}
	return snap, nil
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
