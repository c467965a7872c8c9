// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/ioc"
	"github.com/linnemanlabs/warden/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts and triage results in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by the
// Store from here on; Close shuts it down.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const alertColumns = `id, alert_name, alert_level, source_ip, destination_ip, host_ip,
	first_alert_time, last_alert_time, upload_time, raw_data`

// SaveAlert inserts or updates an alert.
func (s *Store) SaveAlert(ctx context.Context, a *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.SaveAlert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	query := `INSERT INTO alerts (` + alertColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		alert_name       = EXCLUDED.alert_name,
		alert_level      = EXCLUDED.alert_level,
		source_ip        = EXCLUDED.source_ip,
		destination_ip   = EXCLUDED.destination_ip,
		host_ip          = EXCLUDED.host_ip,
		first_alert_time = EXCLUDED.first_alert_time,
		last_alert_time  = EXCLUDED.last_alert_time,
		upload_time      = EXCLUDED.upload_time,
		raw_data         = EXCLUDED.raw_data`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Name, a.Level, a.SourceIP, a.DestIP, a.HostIP,
		a.FirstTime, a.LastTime, a.UploadTime, a.Raw,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetAlert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// ListAlerts returns one page of alerts matching opts, plus the total match
// count before pagination. The verdict filter uses the latest triage result
// per alert, preferring the analysis conclusion over the early verdict.
func (s *Store) ListAlerts(ctx context.Context, opts triage.ListOptions) ([]*alert.Alert, int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAlerts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		conds []string
		args  []any
	)
	if opts.Level != "" {
		args = append(args, opts.Level)
		conds = append(conds, fmt.Sprintf("a.alert_level = $%d", len(args)))
	}
	if opts.Verdict != "" {
		args = append(args, opts.Verdict)
		conds = append(conds, fmt.Sprintf("COALESCE(r.analysis->>'conclusion', r.verdict) = $%d", len(args)))
	}

	from := ` FROM alerts a
	LEFT JOIN LATERAL (
		SELECT verdict, analysis FROM triage_results
		WHERE alert_id = a.id ORDER BY created_at DESC LIMIT 1
	) r ON true`
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*)"+from+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	sortBy := opts.SortBy
	if !slices.Contains(triage.ListSortFields, sortBy) {
		sortBy = "upload_time"
	}
	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}
	orderBy := fmt.Sprintf(" ORDER BY a.%s %s, a.id", sortBy, dir)
	if sortBy == "alert_level" {
		orderBy = fmt.Sprintf(
			" ORDER BY array_position(ARRAY['Info','Low','Medium','High','Critical'], a.alert_level) %s, a.id", dir)
	}

	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	query := "SELECT " + prefixColumns("a", alertColumns) + from + where + orderBy +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*alert.Alert{}
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, total, nil
}

const resultColumns = `id, alert_id, status, verdict, base_info, classification, attack_mapping,
	analysis, total_checked, malicious_found, processing_time_ms, errors, created_at, completed_at`

// SaveResult inserts or updates a triage result along with its entity and
// threat-intel match rows.
func (s *Store) SaveResult(ctx context.Context, r *triage.Result) error {
	ctx, span := tracer.Start(ctx, "pgstore.SaveResult", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertResult(ctx, tx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := replaceEntities(ctx, tx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := replaceTIMatches(ctx, tx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get retrieves a triage result by ID.
func (s *Store) GetResult(ctx context.Context, id string) (*triage.Result, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetResult", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + resultColumns + ` FROM triage_results WHERE id = $1`
	return s.getResult(ctx, span, query, id)
}

// GetResultByAlert retrieves the most recent triage result for an alert.
func (s *Store) GetResultByAlert(ctx context.Context, alertID string) (*triage.Result, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetResultByAlert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + resultColumns + ` FROM triage_results WHERE alert_id = $1 ORDER BY created_at DESC LIMIT 1`
	return s.getResult(ctx, span, query, alertID)
}

func (s *Store) getResult(ctx context.Context, span trace.Span, query, arg string) (*triage.Result, bool, error) {
	r, err := scanResultRow(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	if err := s.loadEntities(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if err := s.loadTIMatches(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return r, true, nil
}

// Stats aggregates stored alerts by level and latest triage results by
// effective verdict.
func (s *Store) Stats(ctx context.Context) (*triage.Stats, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Stats", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	st := &triage.Stats{
		ByLevel:   make(map[string]int),
		ByVerdict: make(map[string]int),
	}

	rows, err := s.pool.Query(ctx, `SELECT alert_level, COUNT(*) FROM alerts GROUP BY alert_level`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query level stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan level stats: %w", err)
		}
		st.ByLevel[level] += n
		st.TotalAlerts += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate level stats: %w", err)
	}

	vrows, err := s.pool.Query(ctx, `
		SELECT v, COUNT(*) FROM (
			SELECT DISTINCT ON (alert_id) COALESCE(analysis->>'conclusion', verdict) AS v
			FROM triage_results ORDER BY alert_id, created_at DESC
		) latest WHERE v IS NOT NULL GROUP BY v`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query verdict stats: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var v string
		var n int
		if err := vrows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("scan verdict stats: %w", err)
		}
		st.ByVerdict[v] = n
	}
	if err := vrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdict stats: %w", err)
	}
	return st, nil
}

func upsertResult(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	baseInfo, err := marshalSection(r.BaseInfo)
	if err != nil {
		return fmt.Errorf("marshal base_info: %w", err)
	}
	classification, err := marshalSection(r.Classification)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	attackMapping, err := marshalSection(r.AttackMapping)
	if err != nil {
		return fmt.Errorf("marshal attack_mapping: %w", err)
	}
	analysis, err := marshalSection(r.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	var verdict *string
	if r.Verdict != nil {
		v := string(*r.Verdict)
		verdict = &v
	}
	var totalChecked, maliciousFound *int
	if r.TIMatching != nil {
		totalChecked = &r.TIMatching.TotalChecked
		maliciousFound = &r.TIMatching.MaliciousFound
	}
	var completedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}

	query := `INSERT INTO triage_results (` + resultColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (id) DO UPDATE SET
		status             = EXCLUDED.status,
		verdict            = EXCLUDED.verdict,
		base_info          = EXCLUDED.base_info,
		classification     = EXCLUDED.classification,
		attack_mapping     = EXCLUDED.attack_mapping,
		analysis           = EXCLUDED.analysis,
		total_checked      = EXCLUDED.total_checked,
		malicious_found    = EXCLUDED.malicious_found,
		processing_time_ms = EXCLUDED.processing_time_ms,
		errors             = EXCLUDED.errors,
		completed_at       = EXCLUDED.completed_at`

	_, err = tx.Exec(ctx, query,
		r.ID, r.AlertID, string(r.Status), verdict, baseInfo, classification, attackMapping,
		analysis, totalChecked, maliciousFound, r.ProcessingTimeMs, errs, r.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

func replaceEntities(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE result_id = $1`, r.ID); err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	if r.Entities == nil {
		return nil
	}
	for seq, row := range r.Entities.Rows() {
		_, err := tx.Exec(ctx,
			`INSERT INTO entities (result_id, seq, entity_type, entity_value) VALUES ($1,$2,$3,$4)`,
			r.ID, seq, row.Kind, row.Value,
		)
		if err != nil {
			return fmt.Errorf("insert entity %s: %w", row.Kind, err)
		}
	}
	return nil
}

func replaceTIMatches(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	if _, err := tx.Exec(ctx, `DELETE FROM ti_matches WHERE result_id = $1`, r.ID); err != nil {
		return fmt.Errorf("delete ti_matches: %w", err)
	}
	if r.TIMatching == nil {
		return nil
	}
	for seq, item := range r.TIMatching.Results {
		_, err := tx.Exec(ctx,
			`INSERT INTO ti_matches (result_id, seq, entity_type, entity_value, malicious, total_engines)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			r.ID, seq, item.EntityType, item.EntityValue, item.Malicious, item.Total,
		)
		if err != nil {
			return fmt.Errorf("insert ti_match %s: %w", item.EntityValue, err)
		}
	}
	return nil
}

// loadEntities rebuilds the Entities section from entity rows, folding the
// hash sub-types back into the generic hash list.
func (s *Store) loadEntities(ctx context.Context, r *triage.Result) error {
	rows, err := s.pool.Query(ctx,
		`SELECT entity_type, entity_value FROM entities WHERE result_id = $1 ORDER BY seq`, r.ID)
	if err != nil {
		return fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var e triage.Entities
	found := false
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		found = true
		switch {
		case kind == string(ioc.KindIP):
			e.IPs = append(e.IPs, value)
		case kind == string(ioc.KindDomain):
			e.Domains = append(e.Domains, value)
		case kind == string(ioc.KindURL):
			e.URLs = append(e.URLs, value)
		case strings.HasPrefix(kind, "hash"):
			e.Hashes = append(e.Hashes, value)
		case kind == string(ioc.KindFilePath):
			e.FilePaths = append(e.FilePaths, value)
		case kind == string(ioc.KindProcessPath):
			e.ProcessPaths = append(e.ProcessPaths, value)
		case kind == string(ioc.KindCmdline):
			e.Cmdlines = append(e.Cmdlines, value)
		case kind == string(ioc.KindAccount):
			e.Accounts = append(e.Accounts, value)
		case kind == string(ioc.KindEmail):
			e.Emails = append(e.Emails, value)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}
	if found {
		r.Entities = &e
	}
	return nil
}

func (s *Store) loadTIMatches(ctx context.Context, r *triage.Result) error {
	if r.TIMatching == nil {
		return nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT entity_type, entity_value, malicious, total_engines
		 FROM ti_matches WHERE result_id = $1 ORDER BY seq`, r.ID)
	if err != nil {
		return fmt.Errorf("query ti_matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item triage.TiMatchItem
		if err := rows.Scan(&item.EntityType, &item.EntityValue, &item.Malicious, &item.Total); err != nil {
			return fmt.Errorf("scan ti_match: %w", err)
		}
		r.TIMatching.Results = append(r.TIMatching.Results, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate ti_matches: %w", err)
	}
	return nil
}

// marshalSection renders an optional section as JSONB, mapping nil to NULL.
func marshalSection[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	var a alert.Alert
	err := row.Scan(
		&a.ID, &a.Name, &a.Level, &a.SourceIP, &a.DestIP, &a.HostIP,
		&a.FirstTime, &a.LastTime, &a.UploadTime, &a.Raw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	return &a, nil
}

// scanResultRow scans a single row into a triage.Result (without entity and
// ti_match rows). Returns (nil, nil) when no row is found.
func scanResultRow(row pgx.Row) (*triage.Result, error) {
	var (
		r              triage.Result
		status         string
		verdict        *string
		baseInfo       []byte
		classification []byte
		attackMapping  []byte
		analysis       []byte
		totalChecked   *int
		maliciousFound *int
		completedAt    *time.Time
	)

	err := row.Scan(
		&r.ID, &r.AlertID, &status, &verdict, &baseInfo, &classification, &attackMapping,
		&analysis, &totalChecked, &maliciousFound, &r.ProcessingTimeMs, &r.Errors, &r.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}

	r.Status = triage.Status(status)
	if verdict != nil {
		v := triage.Verdict(*verdict)
		r.Verdict = &v
	}
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	if totalChecked != nil {
		r.TIMatching = &triage.TIMatching{TotalChecked: *totalChecked}
		if maliciousFound != nil {
			r.TIMatching.MaliciousFound = *maliciousFound
		}
	}

	if err := unmarshalSection(baseInfo, &r.BaseInfo); err != nil {
		return nil, fmt.Errorf("unmarshal base_info: %w", err)
	}
	if err := unmarshalSection(classification, &r.Classification); err != nil {
		return nil, fmt.Errorf("unmarshal classification: %w", err)
	}
	if err := unmarshalSection(attackMapping, &r.AttackMapping); err != nil {
		return nil, fmt.Errorf("unmarshal attack_mapping: %w", err)
	}
	if err := unmarshalSection(analysis, &r.Analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &r, nil
}

func unmarshalSection[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
