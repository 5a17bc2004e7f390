package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"brickcache-api/internal/model"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name        string
	keyType     string
	textType    string
	boolType    string
	amountType  string
	numbered    bool // $1, $2 placeholders instead of ?
	inlineIndex bool // indexes declared inside CREATE TABLE
	upsert      func(cols []string) string
}

func conflictUpsert(cols []string) string {
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + " = excluded." + c
	}
	return "ON CONFLICT (primary_id) DO UPDATE SET " + strings.Join(set, ", ")
}

func duplicateKeyUpsert(cols []string) string {
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + " = VALUES(" + c + ")"
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(set, ", ")
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		keyType:    "TEXT",
		textType:   "TEXT",
		boolType:   "INTEGER",
		amountType: "REAL",
		upsert:     conflictUpsert,
	}
	postgresDialect = dialect{
		name:       "postgres",
		keyType:    "TEXT",
		textType:   "TEXT",
		boolType:   "BOOLEAN",
		amountType: "NUMERIC(14,2)",
		numbered:   true,
		upsert:     conflictUpsert,
	}
	mysqlDialect = dialect{
		name:        "mysql",
		keyType:     "VARCHAR(191)",
		textType:    "TEXT",
		boolType:    "BOOLEAN",
		amountType:  "DECIMAL(14,2)",
		inlineIndex: true,
		upsert:      duplicateKeyUpsert,
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var (
	metadataColumns = []string{"primary_id", "name", "image_url", "invalid", "available_colors", "set_id", "updated_at"}
	priceColumns    = []string{
		"primary_id", "kind", "secondary_id",
		"min_new", "max_new", "avg_new", "min_used", "max_used", "avg_used",
		"currency_code", "expires_at", "is_expired", "updated_at",
	}
)

// sqlMetadataRepository implements MetadataRepository over database/sql.
// Timestamps are stored as unix milliseconds so the due query compares
// integers on every backend. Color lists are stored as JSON text.
type sqlMetadataRepository struct {
	db     *sql.DB
	d      dialect
	tables Collections
}

func newSQLMetadataRepository(db *sql.DB, d dialect, tables Collections) (*sqlMetadataRepository, error) {
	r := &sqlMetadataRepository{db: db, d: d, tables: tables.withDefaults()}
	if err := r.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return r, nil
}

func (r *sqlMetadataRepository) createTables(ctx context.Context) error {
	d := r.d
	var stmts []string
	for _, t := range []string{r.tables.Part, r.tables.Figure} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			primary_id %s PRIMARY KEY,
			name %s NOT NULL,
			image_url %s NULL,
			invalid %s NOT NULL DEFAULT FALSE,
			available_colors %s NOT NULL,
			set_id %s NULL,
			updated_at BIGINT NOT NULL
		)`, t, d.keyType, d.textType, d.textType, d.boolType, d.textType, d.textType))
	}

	priceIndex := ""
	if d.inlineIndex {
		priceIndex = ",\n\t\tINDEX idx_" + r.tables.Price + "_expires (expires_at)"
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			primary_id %s PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			secondary_id %s NULL,
			min_new %s NULL,
			max_new %s NULL,
			avg_new %s NULL,
			min_used %s NULL,
			max_used %s NULL,
			avg_used %s NULL,
			currency_code VARCHAR(8) NOT NULL,
			expires_at BIGINT NOT NULL,
			is_expired %s NOT NULL DEFAULT FALSE,
			updated_at BIGINT NOT NULL%s
		)`, r.tables.Price, d.keyType, d.textType,
		d.amountType, d.amountType, d.amountType, d.amountType, d.amountType, d.amountType,
		d.boolType, priceIndex))
	if !d.inlineIndex {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)", r.tables.Price, r.tables.Price))
	}

	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id %s PRIMARY KEY,
			trigger_name VARCHAR(32) NOT NULL,
			started_at BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL,
			attempted INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			batches INTEGER NOT NULL,
			error_message %s NULL
		)`, r.tables.Runs, d.keyType, d.textType))

	// One statement per Exec: the MySQL driver rejects multi-statement strings.
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner, kind model.Kind) (*model.MetadataRecord, error) {
	var (
		rec       model.MetadataRecord
		imageURL  sql.NullString
		setID     sql.NullString
		colors    string
		updatedAt int64
	)
	if err := row.Scan(&rec.PrimaryID, &rec.Name, &imageURL, &rec.Invalid, &colors, &setID, &updatedAt); err != nil {
		return nil, err
	}
	rec.Kind = kind
	if imageURL.Valid {
		rec.ImageURL = &imageURL.String
	}
	rec.SetID = setID.String
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if err := json.Unmarshal([]byte(colors), &rec.AvailableColors); err != nil {
		return nil, fmt.Errorf("decode colors of %s: %v: %w", rec.PrimaryID, err, model.ErrMalformedCache)
	}
	if rec.AvailableColors == nil {
		rec.AvailableColors = []model.ColorEntry{}
	}
	return &rec, nil
}

func scanPrice(row rowScanner) (*model.PriceRecord, error) {
	var (
		rec                       model.PriceRecord
		kind                      string
		secondaryID               sql.NullString
		minNew, maxNew, avgNew    sql.NullFloat64
		minUsed, maxUsed, avgUsed sql.NullFloat64
		expiresAt, updatedAt      int64
	)
	err := row.Scan(&rec.PrimaryID, &kind, &secondaryID,
		&minNew, &maxNew, &avgNew, &minUsed, &maxUsed, &avgUsed,
		&rec.CurrencyCode, &expiresAt, &rec.IsExpired, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = model.Kind(kind)
	if secondaryID.Valid {
		rec.SecondaryID = &secondaryID.String
	}
	rec.MinNew = nullFloat(minNew)
	rec.MaxNew = nullFloat(maxNew)
	rec.AvgNew = nullFloat(avgNew)
	rec.MinUsed = nullFloat(minUsed)
	rec.MaxUsed = nullFloat(maxUsed)
	rec.AvgUsed = nullFloat(avgUsed)
	rec.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// GetMetadata finds one part or figure record by primary ID.
func (r *sqlMetadataRepository) GetMetadata(ctx context.Context, kind model.Kind, primaryID string) (*model.MetadataRecord, error) {
	table, err := r.tables.metadataName(kind)
	if err != nil {
		return nil, err
	}
	query := r.d.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE primary_id = ?", strings.Join(metadataColumns, ", "), table))

	rec, err := scanMetadata(r.db.QueryRowContext(ctx, query, primaryID), kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if errors.Is(err, model.ErrMalformedCache) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get %s metadata: %w", kind, err)
	}
	return rec, nil
}

// GetMetadataMany returns the stored records among ids. Rows whose color
// list cannot be decoded are left out so callers re-fetch them.
func (r *sqlMetadataRepository) GetMetadataMany(ctx context.Context, kind model.Kind, ids []string) (map[string]*model.MetadataRecord, error) {
	table, err := r.tables.metadataName(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.MetadataRecord, len(ids))
	for _, part := range chunk(ids, maxInClause) {
		query := r.d.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE primary_id IN (%s)",
			strings.Join(metadataColumns, ", "), table, placeholders(len(part))))
		rows, err := r.db.QueryContext(ctx, query, stringArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s metadata: %w", kind, err)
		}
		for rows.Next() {
			rec, err := scanMetadata(rows, kind)
			if err != nil {
				if errors.Is(err, model.ErrMalformedCache) {
					continue
				}
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s metadata: %w", kind, err)
			}
			out[rec.PrimaryID] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s metadata: %w", kind, err)
		}
	}
	return out, nil
}

// UpsertMetadata inserts or replaces a record by primary ID.
func (r *sqlMetadataRepository) UpsertMetadata(ctx context.Context, kind model.Kind, rec *model.MetadataRecord) error {
	table, err := r.tables.metadataName(kind)
	if err != nil {
		return err
	}
	colors := rec.AvailableColors
	if colors == nil {
		colors = []model.ColorEntry{}
	}
	colorJSON, err := json.Marshal(colors)
	if err != nil {
		return fmt.Errorf("failed to encode colors: %w", err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := r.d.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		table, strings.Join(metadataColumns, ", "), placeholders(len(metadataColumns)),
		r.d.upsert(metadataColumns[1:])))
	_, err = r.db.ExecContext(ctx, query,
		rec.PrimaryID, rec.Name, rec.ImageURL, rec.Invalid, string(colorJSON),
		model.StringPtr(rec.SetID), updatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert %s metadata: %w", kind, err)
	}
	return nil
}

// GetPrice finds the price record for a primary ID.
func (r *sqlMetadataRepository) GetPrice(ctx context.Context, primaryID string) (*model.PriceRecord, error) {
	query := r.d.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE primary_id = ?", strings.Join(priceColumns, ", "), r.tables.Price))
	rec, err := scanPrice(r.db.QueryRowContext(ctx, query, primaryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return rec, nil
}

// GetPrices returns the stored price records among ids.
func (r *sqlMetadataRepository) GetPrices(ctx context.Context, ids []string) (map[string]*model.PriceRecord, error) {
	out := make(map[string]*model.PriceRecord, len(ids))
	for _, part := range chunk(ids, maxInClause) {
		query := r.d.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE primary_id IN (%s)",
			strings.Join(priceColumns, ", "), r.tables.Price, placeholders(len(part))))
		recs, err := r.queryPrices(ctx, query, stringArgs(part)...)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out[rec.PrimaryID] = rec
		}
	}
	return out, nil
}

// UpsertPrice supersedes the price record for rec.PrimaryID.
func (r *sqlMetadataRepository) UpsertPrice(ctx context.Context, rec *model.PriceRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	query := r.d.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		r.tables.Price, strings.Join(priceColumns, ", "), placeholders(len(priceColumns)),
		r.d.upsert(priceColumns[1:])))
	_, err := r.db.ExecContext(ctx, query,
		rec.PrimaryID, string(rec.Kind), rec.SecondaryID,
		rec.MinNew, rec.MaxNew, rec.AvgNew, rec.MinUsed, rec.MaxUsed, rec.AvgUsed,
		rec.CurrencyCode, rec.ExpiresAt.UnixMilli(), rec.IsExpired, updatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// ListDuePrices returns records past expiry or flagged expired, oldest first.
func (r *sqlMetadataRepository) ListDuePrices(ctx context.Context, now time.Time) ([]*model.PriceRecord, error) {
	query := r.d.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE expires_at < ? OR is_expired = ? ORDER BY expires_at",
		strings.Join(priceColumns, ", "), r.tables.Price))
	return r.queryPrices(ctx, query, now.UnixMilli(), true)
}

// MarkPricesExpired flags the given records as expired.
func (r *sqlMetadataRepository) MarkPricesExpired(ctx context.Context, ids []string) (int64, error) {
	var total int64
	for _, part := range chunk(ids, maxInClause) {
		query := r.d.rebind(fmt.Sprintf("UPDATE %s SET is_expired = ? WHERE primary_id IN (%s)",
			r.tables.Price, placeholders(len(part))))
		args := append([]any{true}, stringArgs(part)...)
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to mark prices expired: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *sqlMetadataRepository) queryPrices(ctx context.Context, query string, args ...any) ([]*model.PriceRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var out []*model.PriceRecord
	for rows.Next() {
		rec, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prices: %w", err)
	}
	return out, nil
}

// GetStats returns per-collection counts and the number of due prices.
func (r *sqlMetadataRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"backend": r.d.name}
	for key, table := range map[string]string{
		"part_records":   r.tables.Part,
		"figure_records": r.tables.Figure,
		"price_records":  r.tables.Price,
	} {
		var count int64
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[key] = count
	}

	var due int64
	query := r.d.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE expires_at < ? OR is_expired = ?", r.tables.Price))
	if err := r.db.QueryRowContext(ctx, query, time.Now().UnixMilli(), true).Scan(&due); err == nil {
		stats["due_prices"] = due
	}
	return stats, nil
}

// Ping checks the connection.
func (r *sqlMetadataRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *sqlMetadataRepository) Close() error {
	return r.db.Close()
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

var _ Repository = (*sqlMetadataRepository)(nil)
