package store

import (
	"context"
	"fmt"
	"time"
)

func boolToNullable(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func floatToNullable(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func intToNullable(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

// RegisterSite inserts a new site, replacing any previous registration with
// the same LFDI. Returns the site id.
func (s *Store) RegisterSite(ctx context.Context, site Site) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (nmi, lfdi, sfdi, aggregator_id, registration_pin,
		                   device_category, changed_time, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lfdi) DO UPDATE SET
		    nmi = excluded.nmi,
		    sfdi = excluded.sfdi,
		    aggregator_id = excluded.aggregator_id,
		    registration_pin = excluded.registration_pin,
		    device_category = excluded.device_category,
		    changed_time = excluded.changed_time`,
		site.NMI, site.LFDI, site.SFDI, site.AggregatorID, site.RegistrationPIN,
		site.DeviceCategory, site.ChangedTime.Unix(), site.CreatedTime.Unix())
	if err != nil {
		return 0, fmt.Errorf("register site: %w", err)
	}
	// LastInsertId is unreliable on the upsert's update path, so read the
	// id back by LFDI.
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sites WHERE lfdi = ?`, site.LFDI).Scan(&id); err != nil {
		return 0, fmt.Errorf("register site: %w", err)
	}
	return id, nil
}

// InsertDERSetting records a posted DERSettings document.
func (s *Store) InsertDERSetting(ctx context.Context, rec DERSetting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_der_settings (site_id, grad_w, set_max_w_value,
		    set_max_w_multiplier, set_max_var_value, set_max_var_multiplier,
		    changed_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SiteID, intToNullable(rec.GradW), rec.SetMaxWValue,
		rec.SetMaxWMultiplier, intToNullable(rec.SetMaxVarValue),
		intToNullable(rec.SetMaxVarMultiplier), rec.ChangedTime.Unix())
	if err != nil {
		return fmt.Errorf("insert der setting: %w", err)
	}
	return nil
}

// InsertDERRating records a posted DERCapability document.
func (s *Store) InsertDERRating(ctx context.Context, rec DERRating) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_der_ratings (site_id, max_w_value, max_w_multiplier,
		    max_va_value, max_va_multiplier, changed_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SiteID, rec.MaxWValue, rec.MaxWMultiplier,
		intToNullable(rec.MaxVaValue), intToNullable(rec.MaxVaMultiplier),
		rec.ChangedTime.Unix())
	if err != nil {
		return fmt.Errorf("insert der rating: %w", err)
	}
	return nil
}

// InsertDERStatus records a posted DERStatus document.
func (s *Store) InsertDERStatus(ctx context.Context, rec DERStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_der_statuses (site_id, gen_connect_status,
		    operational_mode_status, changed_time)
		VALUES (?, ?, ?, ?)`,
		rec.SiteID, intToNullable(rec.GenConnectStatus),
		intToNullable(rec.OperationalModeStatus), rec.ChangedTime.Unix())
	if err != nil {
		return fmt.Errorf("insert der status: %w", err)
	}
	return nil
}

// InsertReadingType records a MirrorUsagePoint reading-type declaration and
// returns its id.
func (s *Store) InsertReadingType(ctx context.Context, rt ReadingType) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO site_reading_types (site_id, uom, data_qualifier,
		    flow_direction, accumulation_behaviour, kind, phase,
		    power_of_ten_multiplier, role_flags, changed_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.SiteID, rt.Uom, rt.DataQualifier, rt.FlowDirection,
		rt.AccumulationBehaviour, rt.Kind, rt.Phase, rt.PowerOfTenMultiplier,
		rt.RoleFlags, rt.ChangedTime.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert reading type: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reading type: %w", err)
	}
	return id, nil
}

// InsertReading records one posted reading value.
func (s *Store) InsertReading(ctx context.Context, r Reading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_readings (reading_type_id, time_period_start,
		    time_period_seconds, value, quality_flags, changed_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ReadingTypeID, r.TimePeriodStart.Unix(), r.TimePeriodSeconds,
		r.Value, r.QualityFlags, r.ChangedTime.Unix())
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// EnsureControlGroup returns the control group at the given primacy,
// creating it when none exists yet.
func (s *Store) EnsureControlGroup(ctx context.Context, primacy int64, description string, now time.Time) (*ControlGroup, error) {
	group, err := s.ControlGroupByPrimacy(ctx, primacy)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return group, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO control_groups (description, primacy, changed_time)
		VALUES (?, ?, ?)`, description, primacy, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create control group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create control group: %w", err)
	}
	return &ControlGroup{ID: id, Description: description, Primacy: primacy, ChangedTime: now.UTC()}, nil
}

// CreateControl inserts a new DERControl and returns its id.
func (s *Store) CreateControl(ctx context.Context, c Control) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO controls (group_id, start_time, duration_seconds,
		    import_limit_watts, export_limit_watts, generation_limit_watts,
		    load_limit_watts, set_energized, changed_time, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.GroupID, c.StartTime.Unix(), c.DurationSeconds,
		floatToNullable(c.ImportLimitWatts), floatToNullable(c.ExportLimitWatts),
		floatToNullable(c.GenerationLimitWatts), floatToNullable(c.LoadLimitWatts),
		boolToNullable(c.SetEnergized), c.ChangedTime.Unix(), c.CreatedTime.Unix())
	if err != nil {
		return 0, fmt.Errorf("create control: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create control: %w", err)
	}
	return id, nil
}

// CancelActiveControls archives every live control, then deletes them.
// The copy runs first so a failure can never lose records. Returns the
// number of controls cancelled.
func (s *Store) CancelActiveControls(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cancel controls: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO controls_archive (id, group_id, start_time, duration_seconds,
		    import_limit_watts, export_limit_watts, generation_limit_watts,
		    load_limit_watts, set_energized, changed_time, created_time,
		    archived_time)
		SELECT id, group_id, start_time, duration_seconds,
		       import_limit_watts, export_limit_watts, generation_limit_watts,
		       load_limit_watts, set_energized, changed_time, created_time, ?
		FROM controls`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("archive controls: %w", err)
	}
	archived, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive controls: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM controls`); err != nil {
		return 0, fmt.Errorf("delete controls: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cancel controls: %w", err)
	}
	return int(archived), nil
}

// SetDefaultControl installs a new DefaultDERControl version, archiving any
// previous version first.
func (s *Store) SetDefaultControl(ctx context.Context, d DefaultControl, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set default: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO default_controls_archive (id, import_limit_watts,
		    export_limit_watts, generation_limit_watts, load_limit_watts,
		    changed_time, archived_time)
		SELECT id, import_limit_watts, export_limit_watts,
		       generation_limit_watts, load_limit_watts, changed_time, ?
		FROM default_controls`, now.Unix())
	if err != nil {
		return fmt.Errorf("archive default: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM default_controls`); err != nil {
		return fmt.Errorf("delete default: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO default_controls (import_limit_watts, export_limit_watts,
		    generation_limit_watts, load_limit_watts, changed_time)
		VALUES (?, ?, ?, ?, ?)`,
		floatToNullable(d.ImportLimitWatts), floatToNullable(d.ExportLimitWatts),
		floatToNullable(d.GenerationLimitWatts), floatToNullable(d.LoadLimitWatts),
		d.ChangedTime.Unix())
	if err != nil {
		return fmt.Errorf("insert default: %w", err)
	}
	return tx.Commit()
}

// SetPollRate updates the advertised poll rate.
func (s *Store) SetPollRate(ctx context.Context, seconds int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_rates (id, poll_rate_seconds, changed_time)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    poll_rate_seconds = excluded.poll_rate_seconds,
		    changed_time = excluded.changed_time`, seconds, now.Unix())
	if err != nil {
		return fmt.Errorf("set poll rate: %w", err)
	}
	return nil
}

// SetPostRate updates the advertised post rate.
func (s *Store) SetPostRate(ctx context.Context, seconds int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_rates (id, post_rate_seconds, changed_time)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    post_rate_seconds = excluded.post_rate_seconds,
		    changed_time = excluded.changed_time`, seconds, now.Unix())
	if err != nil {
		return fmt.Errorf("set post rate: %w", err)
	}
	return nil
}
