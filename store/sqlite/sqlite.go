/*
Package sqlite provides a SQLite-backed implementation of grd.Repository.

PURPOSE:
  Persists episodes, the GRD catalog, agreement price quotations and
  patients. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  episodes:         Hospitalization records plus their derived fields
  grd_rules:        GRD catalog, upserted by code
  agreement_prices: Price quotations, append-only, latest created_at wins
  patients:         Foreign key target of episodes

NUMBERS:
  Weights, prices and amounts are stored as decimal TEXT so that values
  round-trip exactly through decimal.Decimal.

OPTIMISTIC VERSIONING:
  UPDATE episodes ... WHERE id = ? AND version = ?; zero affected rows on an
  existing id means another writer won and ErrConcurrentModification is
  returned.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/grd.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := grd.NewService(store, grd.StandardDefaults(), logger)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
)

// Store implements grd.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ grd.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives as long as its single connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Patients
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		document_id TEXT,
		name TEXT,
		birth_date TEXT,
		created_at TEXT NOT NULL
	);

	-- GRD catalog (upsert by code)
	CREATE TABLE IF NOT EXISTS grd_rules (
		code TEXT PRIMARY KEY,
		description TEXT,
		weight TEXT,
		lower_cutoff TEXT,
		upper_cutoff TEXT,
		percentile_50 TEXT,
		percentile_75 TEXT,
		updated_at TEXT NOT NULL
	);

	-- Agreement price quotations (append-only)
	CREATE TABLE IF NOT EXISTS agreement_prices (
		id TEXT PRIMARY KEY,
		agreement_code TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		effective_start TEXT,
		effective_end TEXT,
		price TEXT NOT NULL,
		created_at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	-- Hot path: all quotations of one agreement, newest last
	CREATE INDEX IF NOT EXISTS idx_agreement_prices_agreement_created
		ON agreement_prices(agreement_code, created_at, seq);

	-- Episodes
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		patient_id TEXT,
		admission_date TEXT,
		discharge_date TEXT,
		grd_code TEXT,
		agreement_code TEXT NOT NULL DEFAULT '',
		group_weight TEXT,
		technology_flag BOOLEAN NOT NULL DEFAULT FALSE,
		technology_detail TEXT,
		technology_amount TEXT,
		delay_days INTEGER NOT NULL DEFAULT 0,
		manual_delay_payment TEXT,
		manual_outlier_payment TEXT,
		outside_normal_group BOOLEAN NOT NULL DEFAULT FALSE,
		override_group_value TEXT,
		override_final_amount TEXT,
		validation TEXT NOT NULL DEFAULT 'pending',
		calc_length_of_stay INTEGER NOT NULL DEFAULT 0,
		calc_classification TEXT NOT NULL DEFAULT '',
		calc_base_price TEXT,
		calc_group_value TEXT NOT NULL DEFAULT '0',
		calc_delay_payment TEXT NOT NULL DEFAULT '0',
		calc_outlier_payment TEXT NOT NULL DEFAULT '0',
		calc_final_amount TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_agreement
		ON episodes(agreement_code);
	CREATE INDEX IF NOT EXISTS idx_episodes_grd
		ON episodes(grd_code);
	CREATE INDEX IF NOT EXISTS idx_episodes_validation
		ON episodes(validation);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// EPISODES (grd.EpisodeStore)
// =============================================================================

const episodeColumns = `
	id, patient_id, admission_date, discharge_date, grd_code, agreement_code, group_weight,
	technology_flag, technology_detail, technology_amount, delay_days,
	manual_delay_payment, manual_outlier_payment, outside_normal_group,
	override_group_value, override_final_amount, validation,
	calc_length_of_stay, calc_classification, calc_base_price, calc_group_value,
	calc_delay_payment, calc_outlier_payment, calc_final_amount,
	version, created_at, updated_at`

// GetEpisode returns a single episode.
func (s *Store) GetEpisode(ctx context.Context, id generic.EpisodeID) (*grd.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+episodeColumns+" FROM episodes WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query episode: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrEpisodeNotFound
	}
	ep, err := scanEpisode(rows)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListEpisodes returns episodes matching the filter, ordered by id.
func (s *Store) ListEpisodes(ctx context.Context, filter grd.EpisodeFilter) ([]grd.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.AgreementCode != "" {
		where = append(where, "agreement_code = ?")
		args = append(args, grd.NormalizeAgreement(filter.AgreementCode))
	}
	if filter.GrdCode != "" {
		where = append(where, "grd_code = ?")
		args = append(args, filter.GrdCode)
	}
	if filter.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	if filter.Validation != "" {
		where = append(where, "validation = ?")
		args = append(args, filter.Validation)
	}

	query := "SELECT " + episodeColumns + " FROM episodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []grd.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// CreateEpisode inserts a new episode at version 1.
func (s *Store) CreateEpisode(ctx context.Context, ep grd.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO episodes (` + episodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	ep.Version = 1
	args := append([]any{ep.ID}, episodeValues(ep)...)
	args = append(args, ep.Version, formatTime(ep.CreatedAt), formatTime(ep.UpdatedAt))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	return nil
}

// UpdateEpisode replaces all mutable columns if the version matches.
func (s *Store) UpdateEpisode(ctx context.Context, ep grd.Episode, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE episodes SET
			patient_id = ?, admission_date = ?, discharge_date = ?, grd_code = ?, agreement_code = ?,
			group_weight = ?, technology_flag = ?, technology_detail = ?, technology_amount = ?,
			delay_days = ?, manual_delay_payment = ?, manual_outlier_payment = ?,
			outside_normal_group = ?, override_group_value = ?, override_final_amount = ?,
			validation = ?, calc_length_of_stay = ?, calc_classification = ?, calc_base_price = ?,
			calc_group_value = ?, calc_delay_payment = ?, calc_outlier_payment = ?,
			calc_final_amount = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	args := episodeValues(ep)
	args = append(args, formatTime(ep.UpdatedAt), ep.ID, expectedVersion)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update episode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM episodes WHERE id = ?", ep.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return generic.ErrEpisodeNotFound
	}
	return generic.ErrConcurrentModification
}

// DeleteEpisode removes an episode.
func (s *Store) DeleteEpisode(ctx context.Context, id generic.EpisodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM episodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrEpisodeNotFound
	}
	return nil
}

// episodeValues returns the mutable columns in UPDATE order, which is also
// the INSERT order after id.
func episodeValues(ep grd.Episode) []any {
	c := ep.Calculated
	return []any{
		nullString(string(ep.PatientID)),
		nullTime(ep.AdmissionDate),
		nullTime(ep.DischargeDate),
		nullStringPtr(ep.GrdCode),
		grd.NormalizeAgreement(ep.AgreementCode),
		nullDecimal(ep.GroupWeight),
		ep.Technology.Flag,
		nullString(ep.Technology.Detail),
		nullDecimal(ep.Technology.Amount),
		ep.DelayDays,
		nullDecimal(ep.ManualDelayPayment),
		nullDecimal(ep.ManualOutlierPayment),
		ep.OutsideNormalGroup,
		nullDecimal(ep.Overrides.GroupValue),
		nullDecimal(ep.Overrides.FinalAmount),
		string(ep.Validation),
		c.LengthOfStay,
		string(c.Classification),
		nullDecimal(c.BasePrice),
		c.GroupValue.String(),
		c.DelayPayment.String(),
		c.OutlierPayment.String(),
		c.FinalAmount.String(),
	}
}

func scanEpisode(rows *sql.Rows) (grd.Episode, error) {
	var (
		ep                               grd.Episode
		patientID, grdCode, techDetail   sql.NullString
		admission, discharge             sql.NullString
		weight, techAmount               sql.NullString
		manualDelay, manualOutlier       sql.NullString
		overrideGroup, overrideFinal     sql.NullString
		validation, classification       string
		basePrice                        sql.NullString
		groupValue, delayPay, outlierPay string
		finalAmount                      string
		createdAt, updatedAt             string
	)

	err := rows.Scan(
		&ep.ID, &patientID, &admission, &discharge, &grdCode, &ep.AgreementCode, &weight,
		&ep.Technology.Flag, &techDetail, &techAmount, &ep.DelayDays,
		&manualDelay, &manualOutlier, &ep.OutsideNormalGroup,
		&overrideGroup, &overrideFinal, &validation,
		&ep.Calculated.LengthOfStay, &classification, &basePrice, &groupValue,
		&delayPay, &outlierPay, &finalAmount,
		&ep.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return ep, fmt.Errorf("failed to scan episode: %w", err)
	}

	var cols columnDecoder
	ep.PatientID = generic.PatientID(patientID.String)
	ep.AdmissionDate = parseNullTime(admission)
	ep.DischargeDate = parseNullTime(discharge)
	if grdCode.Valid {
		code := grdCode.String
		ep.GrdCode = &code
	}
	ep.GroupWeight = cols.nullDecimal("group_weight", weight)
	ep.Technology.Detail = techDetail.String
	ep.Technology.Amount = cols.nullDecimal("technology_amount", techAmount)
	ep.ManualDelayPayment = cols.nullDecimal("manual_delay_payment", manualDelay)
	ep.ManualOutlierPayment = cols.nullDecimal("manual_outlier_payment", manualOutlier)
	ep.Overrides.GroupValue = cols.nullDecimal("override_group_value", overrideGroup)
	ep.Overrides.FinalAmount = cols.nullDecimal("override_final_amount", overrideFinal)
	ep.Validation = grd.ValidationStatus(validation)

	ep.Calculated.Classification = grd.Classification(classification)
	ep.Calculated.BasePrice = cols.nullDecimal("calc_base_price", basePrice)
	ep.Calculated.GroupValue = cols.decimal("calc_group_value", groupValue)
	ep.Calculated.DelayPayment = cols.decimal("calc_delay_payment", delayPay)
	ep.Calculated.OutlierPayment = cols.decimal("calc_outlier_payment", outlierPay)
	ep.Calculated.FinalAmount = cols.decimal("calc_final_amount", finalAmount)
	if cols.err != nil {
		return ep, fmt.Errorf("failed to scan episode %s: %w", ep.ID, cols.err)
	}

	ep.CreatedAt = parseTime(createdAt)
	ep.UpdatedAt = parseTime(updatedAt)
	return ep, nil
}

// =============================================================================
// CATALOG (grd.CatalogStore)
// =============================================================================

// GetGrdRule returns a GRD rule by code.
func (s *Store) GetGrdRule(ctx context.Context, code string) (*grd.GrdRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, description, weight, lower_cutoff, upper_cutoff, percentile_50, percentile_75, updated_at
		FROM grd_rules WHERE code = ?`, ruleKey(code))
	if err != nil {
		return nil, fmt.Errorf("failed to query grd rule: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrGrdRuleNotFound
	}
	r, err := scanRule(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListGrdRules returns the whole catalog ordered by code.
func (s *Store) ListGrdRules(ctx context.Context) ([]grd.GrdRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, description, weight, lower_cutoff, upper_cutoff, percentile_50, percentile_75, updated_at
		FROM grd_rules ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query grd rules: %w", err)
	}
	defer rows.Close()

	var rules []grd.GrdRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertGrdRule inserts or replaces a rule by code.
func (s *Store) UpsertGrdRule(ctx context.Context, rule grd.GrdRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRule(ctx, s.db, rule)
}

func upsertRule(ctx context.Context, db execer, rule grd.GrdRule) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO grd_rules (code, description, weight, lower_cutoff, upper_cutoff, percentile_50, percentile_75, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			description = excluded.description,
			weight = excluded.weight,
			lower_cutoff = excluded.lower_cutoff,
			upper_cutoff = excluded.upper_cutoff,
			percentile_50 = excluded.percentile_50,
			percentile_75 = excluded.percentile_75,
			updated_at = excluded.updated_at`,
		ruleKey(rule.Code),
		rule.Description,
		nullDecimal(rule.Weight),
		nullDecimal(rule.LowerCutoff),
		nullDecimal(rule.UpperCutoff),
		nullDecimal(rule.Percentile50),
		nullDecimal(rule.Percentile75),
		formatTime(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert grd rule %s: %w", rule.Code, err)
	}
	return nil
}

func scanRule(rows *sql.Rows) (grd.GrdRule, error) {
	var (
		r                    grd.GrdRule
		description          sql.NullString
		weight, lower, upper sql.NullString
		p50, p75             sql.NullString
		updatedAt            string
	)
	if err := rows.Scan(&r.Code, &description, &weight, &lower, &upper, &p50, &p75, &updatedAt); err != nil {
		return r, fmt.Errorf("failed to scan grd rule: %w", err)
	}
	var cols columnDecoder
	r.Description = description.String
	r.Weight = cols.nullDecimal("weight", weight)
	r.LowerCutoff = cols.nullDecimal("lower_cutoff", lower)
	r.UpperCutoff = cols.nullDecimal("upper_cutoff", upper)
	r.Percentile50 = cols.nullDecimal("percentile_50", p50)
	r.Percentile75 = cols.nullDecimal("percentile_75", p75)
	if cols.err != nil {
		return r, fmt.Errorf("failed to scan grd rule %s: %w", r.Code, cols.err)
	}
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// ListPriceEntries returns quotations in creation order (insertion order on ties).
func (s *Store) ListPriceEntries(ctx context.Context, agreement string) ([]grd.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, agreement_code, tier, effective_start, effective_end, price, created_at
		FROM agreement_prices`
	var args []any
	if code := grd.NormalizeAgreement(agreement); code != "" {
		query += " WHERE agreement_code = ?"
		args = append(args, code)
	}
	query += " ORDER BY created_at ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []grd.PriceEntry
	for rows.Next() {
		var (
			p          grd.PriceEntry
			start, end sql.NullString
			price      string
			createdAt  string
		)
		if err := rows.Scan(&p.ID, &p.AgreementCode, &p.Tier, &start, &end, &price, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		var cols columnDecoder
		p.Effective = generic.Period{Start: parseNullTime(start), End: parseNullTime(end)}
		p.Price = cols.decimal("price", price)
		if cols.err != nil {
			return nil, fmt.Errorf("failed to scan price %s: %w", p.ID, cols.err)
		}
		p.CreatedAt = parseTime(createdAt)
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// AddPriceEntry appends one quotation.
func (s *Store) AddPriceEntry(ctx context.Context, entry grd.PriceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPrice(ctx, s.db, entry)
}

func insertPrice(ctx context.Context, db execer, p grd.PriceEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO agreement_prices (id, agreement_code, tier, effective_start, effective_end, price, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM agreement_prices))`,
		p.ID,
		grd.NormalizeAgreement(p.AgreementCode),
		strings.ToUpper(strings.TrimSpace(p.Tier)),
		nullTime(p.Effective.Start),
		nullTime(p.Effective.End),
		p.Price.String(),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert price %s: %w", p.ID, err)
	}
	return nil
}

// ImportCatalog upserts rules and appends prices in one transaction.
func (s *Store) ImportCatalog(ctx context.Context, rules []grd.GrdRule, prices []grd.PriceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rules {
		if err := upsertRule(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, p := range prices {
		if err := insertPrice(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// PATIENTS (grd.PatientStore)
// =============================================================================

// SavePatient inserts or replaces a patient.
func (s *Store) SavePatient(ctx context.Context, p grd.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO patients (id, document_id, name, birth_date, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.DocumentID, p.Name, nullTime(p.BirthDate), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save patient: %w", err)
	}
	return nil
}

// GetPatient returns a patient by id.
func (s *Store) GetPatient(ctx context.Context, id generic.PatientID) (*grd.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p         grd.Patient
		doc, name sql.NullString
		birth     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, name, birth_date, created_at FROM patients WHERE id = ?", id,
	).Scan(&p.ID, &doc, &name, &birth, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	p.DocumentID = doc.String
	p.Name = name.String
	p.BirthDate = parseNullTime(birth)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for demo scenarios and tests).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"episodes", "agreement_prices", "grd_rules", "patients"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func ruleKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// columnDecoder parses decimal TEXT columns and keeps the first failure,
// so a row with a corrupt amount is reported instead of read as zero.
type columnDecoder struct {
	err error
}

func (c *columnDecoder) decimal(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("column %s: invalid decimal %q: %w", column, s, err)
		}
		return decimal.Zero
	}
	return d
}

func (c *columnDecoder) nullDecimal(column string, ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := c.decimal(column, ns.String)
	return &d
}

// timeLayout is fixed-width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
