package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func unixTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

// ActiveSite returns the most recently changed registered site, or nil when
// no site has registered yet.
func (s *Store) ActiveSite(ctx context.Context) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, nmi, lfdi, sfdi, aggregator_id, registration_pin,
		       device_category, changed_time, created_time
		FROM sites
		ORDER BY changed_time DESC, id DESC
		LIMIT 1`)
	var site Site
	var changed, created int64
	err := row.Scan(&site.ID, &site.NMI, &site.LFDI, &site.SFDI,
		&site.AggregatorID, &site.RegistrationPIN, &site.DeviceCategory,
		&changed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active site: %w", err)
	}
	site.ChangedTime = unixTime(changed)
	site.CreatedTime = unixTime(created)
	return &site, nil
}

// SiteCount returns the number of registered sites.
func (s *Store) SiteCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sites: %w", err)
	}
	return n, nil
}

// LatestDERSetting returns the most recently changed DERSettings record for
// the site, or nil when the client has not posted one.
func (s *Store) LatestDERSetting(ctx context.Context, siteID int64) (*DERSetting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, grad_w, set_max_w_value, set_max_w_multiplier,
		       set_max_var_value, set_max_var_multiplier, changed_time
		FROM site_der_settings
		WHERE site_id = ?
		ORDER BY changed_time DESC, id DESC
		LIMIT 1`, siteID)
	var rec DERSetting
	var gradW, varVal, varMult sql.NullInt64
	var changed int64
	err := row.Scan(&rec.ID, &rec.SiteID, &gradW, &rec.SetMaxWValue,
		&rec.SetMaxWMultiplier, &varVal, &varMult, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query der setting: %w", err)
	}
	rec.GradW = nullableInt(gradW)
	rec.SetMaxVarValue = nullableInt(varVal)
	rec.SetMaxVarMultiplier = nullableInt(varMult)
	rec.ChangedTime = unixTime(changed)
	return &rec, nil
}

// LatestDERRating returns the most recently changed DERCapability record for
// the site, or nil when the client has not posted one.
func (s *Store) LatestDERRating(ctx context.Context, siteID int64) (*DERRating, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, max_w_value, max_w_multiplier,
		       max_va_value, max_va_multiplier, changed_time
		FROM site_der_ratings
		WHERE site_id = ?
		ORDER BY changed_time DESC, id DESC
		LIMIT 1`, siteID)
	var rec DERRating
	var vaVal, vaMult sql.NullInt64
	var changed int64
	err := row.Scan(&rec.ID, &rec.SiteID, &rec.MaxWValue, &rec.MaxWMultiplier,
		&vaVal, &vaMult, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query der rating: %w", err)
	}
	rec.MaxVaValue = nullableInt(vaVal)
	rec.MaxVaMultiplier = nullableInt(vaMult)
	rec.ChangedTime = unixTime(changed)
	return &rec, nil
}

// LatestDERStatus returns the most recently changed DERStatus record for the
// site, or nil when the client has not posted one.
func (s *Store) LatestDERStatus(ctx context.Context, siteID int64) (*DERStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, gen_connect_status, operational_mode_status, changed_time
		FROM site_der_statuses
		WHERE site_id = ?
		ORDER BY changed_time DESC, id DESC
		LIMIT 1`, siteID)
	var rec DERStatus
	var gen, op sql.NullInt64
	var changed int64
	err := row.Scan(&rec.ID, &rec.SiteID, &gen, &op, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query der status: %w", err)
	}
	rec.GenConnectStatus = nullableInt(gen)
	rec.OperationalModeStatus = nullableInt(op)
	rec.ChangedTime = unixTime(changed)
	return &rec, nil
}

// ReadingTypesFor returns the site's reading types matching uom, role flags
// and data qualifier exactly.
func (s *Store) ReadingTypesFor(ctx context.Context, siteID, uom, roleFlags, dataQualifier int64) ([]ReadingType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, uom, data_qualifier, flow_direction,
		       accumulation_behaviour, kind, phase, power_of_ten_multiplier,
		       role_flags, changed_time
		FROM site_reading_types
		WHERE site_id = ? AND uom = ? AND role_flags = ? AND data_qualifier = ?
		ORDER BY id`, siteID, uom, roleFlags, dataQualifier)
	if err != nil {
		return nil, fmt.Errorf("query reading types: %w", err)
	}
	defer rows.Close()

	var types []ReadingType
	for rows.Next() {
		var rt ReadingType
		var changed int64
		if err := rows.Scan(&rt.ID, &rt.SiteID, &rt.Uom, &rt.DataQualifier,
			&rt.FlowDirection, &rt.AccumulationBehaviour, &rt.Kind, &rt.Phase,
			&rt.PowerOfTenMultiplier, &rt.RoleFlags, &changed); err != nil {
			return nil, fmt.Errorf("scan reading type: %w", err)
		}
		rt.ChangedTime = unixTime(changed)
		types = append(types, rt)
	}
	return types, rows.Err()
}

// ReadingsForType returns the posted readings of one type ordered by period
// start.
func (s *Store) ReadingsForType(ctx context.Context, readingTypeID int64) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reading_type_id, time_period_start, time_period_seconds,
		       value, quality_flags, changed_time
		FROM site_readings
		WHERE reading_type_id = ?
		ORDER BY time_period_start, id`, readingTypeID)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var start, changed int64
		if err := rows.Scan(&r.ID, &r.ReadingTypeID, &start, &r.TimePeriodSeconds,
			&r.Value, &r.QualityFlags, &changed); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.TimePeriodStart = unixTime(start)
		r.ChangedTime = unixTime(changed)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// ReadingCountForType returns how many readings of one type have been posted.
func (s *Store) ReadingCountForType(ctx context.Context, readingTypeID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM site_readings WHERE reading_type_id = ?`,
		readingTypeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

// ControlGroupByPrimacy returns the control group at the given primacy, or
// nil when none exists.
func (s *Store) ControlGroupByPrimacy(ctx context.Context, primacy int64) (*ControlGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, primacy, changed_time
		FROM control_groups
		WHERE primacy = ?`, primacy)
	var g ControlGroup
	var changed int64
	err := row.Scan(&g.ID, &g.Description, &g.Primacy, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query control group: %w", err)
	}
	g.ChangedTime = unixTime(changed)
	return &g, nil
}

const controlColumns = `id, group_id, start_time, duration_seconds,
	import_limit_watts, export_limit_watts, generation_limit_watts,
	load_limit_watts, set_energized, changed_time, created_time`

func scanControl(scan func(dest ...any) error) (Control, error) {
	var c Control
	var start, changed, created int64
	var imp, exp, gen, load sql.NullFloat64
	var energized sql.NullInt64
	err := scan(&c.ID, &c.GroupID, &start, &c.DurationSeconds,
		&imp, &exp, &gen, &load, &energized, &changed, &created)
	if err != nil {
		return Control{}, err
	}
	c.StartTime = unixTime(start)
	c.ImportLimitWatts = nullableFloat(imp)
	c.ExportLimitWatts = nullableFloat(exp)
	c.GenerationLimitWatts = nullableFloat(gen)
	c.LoadLimitWatts = nullableFloat(load)
	if energized.Valid {
		b := energized.Int64 != 0
		c.SetEnergized = &b
	}
	c.ChangedTime = unixTime(changed)
	c.CreatedTime = unixTime(created)
	return c, nil
}

// ActiveControls returns every live (non-cancelled) control.
func (s *Store) ActiveControls(ctx context.Context) ([]Control, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+controlColumns+` FROM controls ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query controls: %w", err)
	}
	defer rows.Close()

	var controls []Control
	for rows.Next() {
		c, err := scanControl(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan control: %w", err)
		}
		controls = append(controls, c)
	}
	return controls, rows.Err()
}

// ArchivedControls returns every cancelled control.
func (s *Store) ArchivedControls(ctx context.Context) ([]ArchivedControl, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, start_time, duration_seconds,
		       import_limit_watts, export_limit_watts, generation_limit_watts,
		       load_limit_watts, set_energized, changed_time, created_time,
		       archived_time
		FROM controls_archive ORDER BY id, archived_time`)
	if err != nil {
		return nil, fmt.Errorf("query archived controls: %w", err)
	}
	defer rows.Close()

	var archived []ArchivedControl
	for rows.Next() {
		var a ArchivedControl
		var start, changed, created, archivedAt int64
		var imp, exp, gen, load sql.NullFloat64
		var energized sql.NullInt64
		if err := rows.Scan(&a.ID, &a.GroupID, &start, &a.DurationSeconds,
			&imp, &exp, &gen, &load, &energized, &changed, &created, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan archived control: %w", err)
		}
		a.StartTime = unixTime(start)
		a.ImportLimitWatts = nullableFloat(imp)
		a.ExportLimitWatts = nullableFloat(exp)
		a.GenerationLimitWatts = nullableFloat(gen)
		a.LoadLimitWatts = nullableFloat(load)
		if energized.Valid {
			b := energized.Int64 != 0
			a.SetEnergized = &b
		}
		a.ChangedTime = unixTime(changed)
		a.CreatedTime = unixTime(created)
		a.ArchivedTime = unixTime(archivedAt)
		archived = append(archived, a)
	}
	return archived, rows.Err()
}

// DefaultControls returns every live DefaultDERControl version, oldest first.
func (s *Store) DefaultControls(ctx context.Context) ([]DefaultControl, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, import_limit_watts, export_limit_watts,
		       generation_limit_watts, load_limit_watts, changed_time
		FROM default_controls ORDER BY changed_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query default controls: %w", err)
	}
	defer rows.Close()

	var defaults []DefaultControl
	for rows.Next() {
		var d DefaultControl
		var imp, exp, gen, load sql.NullFloat64
		var changed int64
		if err := rows.Scan(&d.ID, &imp, &exp, &gen, &load, &changed); err != nil {
			return nil, fmt.Errorf("scan default control: %w", err)
		}
		d.ImportLimitWatts = nullableFloat(imp)
		d.ExportLimitWatts = nullableFloat(exp)
		d.GenerationLimitWatts = nullableFloat(gen)
		d.LoadLimitWatts = nullableFloat(load)
		d.ChangedTime = unixTime(changed)
		defaults = append(defaults, d)
	}
	return defaults, rows.Err()
}

// ArchivedDefaultControls returns every superseded default version.
func (s *Store) ArchivedDefaultControls(ctx context.Context) ([]ArchivedDefaultControl, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, import_limit_watts, export_limit_watts,
		       generation_limit_watts, load_limit_watts, changed_time,
		       archived_time
		FROM default_controls_archive ORDER BY changed_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query archived defaults: %w", err)
	}
	defer rows.Close()

	var archived []ArchivedDefaultControl
	for rows.Next() {
		var a ArchivedDefaultControl
		var imp, exp, gen, load sql.NullFloat64
		var changed, archivedAt int64
		if err := rows.Scan(&a.ID, &imp, &exp, &gen, &load, &changed, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan archived default: %w", err)
		}
		a.ImportLimitWatts = nullableFloat(imp)
		a.ExportLimitWatts = nullableFloat(exp)
		a.GenerationLimitWatts = nullableFloat(gen)
		a.LoadLimitWatts = nullableFloat(load)
		a.ChangedTime = unixTime(changed)
		a.ArchivedTime = unixTime(archivedAt)
		archived = append(archived, a)
	}
	return archived, rows.Err()
}

// CurrentRates returns the advertised poll/post rates, or nil when unset.
func (s *Store) CurrentRates(ctx context.Context) (*Rates, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT poll_rate_seconds, post_rate_seconds, changed_time FROM site_rates WHERE id = 1`)
	var poll, post sql.NullInt64
	var changed int64
	err := row.Scan(&poll, &post, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query rates: %w", err)
	}
	return &Rates{
		PollRateSeconds: nullableInt(poll),
		PostRateSeconds: nullableInt(post),
		ChangedTime:     unixTime(changed),
	}, nil
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
