package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"licenselock/internal/config"
	"licenselock/internal/license"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type licenseRow struct {
	Identifier      string     `gorm:"column:identifier;primaryKey"`
	ActivationState string     `gorm:"column:activation_state"`
	BoundDeviceID   *string    `gorm:"column:bound_device_id"`
	Suspended       bool       `gorm:"column:suspended"`
	Origin          string     `gorm:"column:origin"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	ActivatedAt     *time.Time `gorm:"column:activated_at"`
	SuspendedAt     *time.Time `gorm:"column:suspended_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (licenseRow) TableName() string { return "licenses" }

func rowFromRecord(rec license.Record) licenseRow {
	row := licenseRow{
		Identifier:      rec.Identifier,
		ActivationState: string(rec.State),
		Suspended:       rec.Suspended,
		Origin:          string(rec.Origin),
		CreatedAt:       rec.CreatedAt,
		ActivatedAt:     rec.ActivatedAt,
		SuspendedAt:     rec.SuspendedAt,
		UpdatedAt:       rec.CreatedAt,
	}
	if rec.BoundDeviceID != "" {
		device := rec.BoundDeviceID
		row.BoundDeviceID = &device
	}
	if row.Origin == "" {
		row.Origin = string(license.OriginProvisioned)
	}
	return row
}

func (r licenseRow) record() license.Record {
	rec := license.Record{
		Identifier:  r.Identifier,
		State:       license.ActivationState(r.ActivationState),
		Suspended:   r.Suspended,
		Origin:      license.Origin(r.Origin),
		CreatedAt:   r.CreatedAt.UTC(),
		ActivatedAt: r.ActivatedAt,
		SuspendedAt: r.SuspendedAt,
	}
	if r.BoundDeviceID != nil {
		rec.BoundDeviceID = *r.BoundDeviceID
	}
	return rec
}

// ConnectPostgres opens and validates a gorm connection pool.
func ConnectPostgres(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*gorm.DB, error) {
	logger.InfoContext(ctx, "postgres connect started", slog.String("operation", "connect"))

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.InfoContext(ctx, "postgres connect completed", slog.String("operation", "connect"))
	return db, nil
}

// RunMigrations applies embedded SQL migrations in lexical order.
func RunMigrations(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := db.WithContext(ctx).Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		logger.InfoContext(ctx, "migration applied", slog.String("migration", name))
	}
	return nil
}

// PostgresStore keeps license records in the licenses table. Conditional
// updates provide the compare-and-set guarantees across processes.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, identifier string) (license.Record, error) {
	var row licenseRow
	if err := s.db.WithContext(ctx).Where("identifier = ?", identifier).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return license.Record{}, license.ErrNotFound
		}
		return license.Record{}, err
	}
	return row.record(), nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, rec license.Record) (license.Record, error) {
	if err := rec.Validate(); err != nil {
		return license.Record{}, err
	}

	row := rowFromRecord(rec)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "identifier"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return license.Record{}, res.Error
	}
	if res.RowsAffected == 0 {
		return license.Record{}, license.ErrAlreadyExists
	}
	return row.record(), nil
}

func (s *PostgresStore) CompareAndSetActivation(ctx context.Context, identifier string, expected, next license.ActivationState, deviceID string, at time.Time) (license.Record, error) {
	updates := map[string]any{
		"activation_state": string(next),
		"updated_at":       at.UTC(),
	}
	switch next {
	case license.StateLocked:
		if deviceID == "" {
			return license.Record{}, errEmptyDevice
		}
		updates["bound_device_id"] = deviceID
		updates["activated_at"] = at.UTC()
	case license.StateUnredeemed:
		updates["bound_device_id"] = nil
		updates["activated_at"] = nil
	default:
		return license.Record{}, errUnknownState(next)
	}

	return s.conditionalUpdate(ctx, identifier, updates, "activation_state = ?", string(expected))
}

func (s *PostgresStore) SetSuspended(ctx context.Context, identifier string, at time.Time) (license.Record, error) {
	rec, err := s.conditionalUpdate(ctx, identifier, map[string]any{
		"suspended":    true,
		"suspended_at": at.UTC(),
		"updated_at":   at.UTC(),
	}, "suspended = ?", false)
	if errors.Is(err, license.ErrConflict) {
		// Already suspended; the flag never goes back down here.
		return s.Get(ctx, identifier)
	}
	return rec, err
}

func (s *PostgresStore) Reset(ctx context.Context, identifier string, clearSuspension bool) (license.Record, error) {
	updates := map[string]any{
		"activation_state": string(license.StateUnredeemed),
		"bound_device_id":  nil,
		"activated_at":     nil,
		"updated_at":       time.Now().UTC(),
	}
	if clearSuspension {
		updates["suspended"] = false
		updates["suspended_at"] = nil
	}
	return s.conditionalUpdate(ctx, identifier, updates, "")
}

// conditionalUpdate applies updates to the row when guard holds. A missed
// update is reported as ErrNotFound or ErrConflict depending on whether the
// row exists.
func (s *PostgresStore) conditionalUpdate(ctx context.Context, identifier string, updates map[string]any, guard string, guardArgs ...any) (license.Record, error) {
	var rows []licenseRow
	query := s.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("identifier = ?", identifier)
	if guard != "" {
		query = query.Where(guard, guardArgs...)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return license.Record{}, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		if _, err := s.Get(ctx, identifier); err != nil {
			return license.Record{}, err
		}
		return license.Record{}, license.ErrConflict
	}
	return rows[0].record(), nil
}

func (s *PostgresStore) ListAll(ctx context.Context) iter.Seq2[license.Record, error] {
	return func(yield func(license.Record, error) bool) {
		rows, err := s.db.WithContext(ctx).Model(&licenseRow{}).Order("identifier ASC").Rows()
		if err != nil {
			yield(license.Record{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row licenseRow
			if err := s.db.ScanRows(rows, &row); err != nil {
				yield(license.Record{}, err)
				return
			}
			if !yield(row.record(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(license.Record{}, err)
		}
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
