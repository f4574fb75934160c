package attendance

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"scanattend/internal/apperr"
	"scanattend/internal/model"
	"scanattend/internal/store"
)

// PageSize caps the filtered attendance query.
const PageSize = 200

const dateLayout = "2006-01-02"

// Filter selects records for the capped query.
type Filter struct {
	Date     string
	DeviceID string
}

// RangeFilter selects records for the uncapped reporting query. Start and End
// are inclusive calendar days.
type RangeFilter struct {
	Start    string
	End      string
	DeviceID string
}

// Repository persists attendance records.
type Repository struct {
	db    *store.DB
	clock clockwork.Clock
	loc   *time.Location
}

// NewRepository creates a repo. Calendar-day filters and stats windows are
// evaluated in loc.
func NewRepository(db *store.DB, clock clockwork.Clock, loc *time.Location) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Repository{db: db, clock: clock, loc: loc}
}

// Insert stores a scan and returns the full record. The timestamp is
// assigned here, never by the caller.
func (r *Repository) Insert(ctx context.Context, barcode, deviceID string) (model.AttendanceRecord, error) {
	if barcode == "" {
		return model.AttendanceRecord{}, apperr.New(apperr.Validation, "missing barcode")
	}
	if strings.TrimSpace(deviceID) == "" {
		deviceID = model.DefaultDeviceID
	}
	rec := model.AttendanceRecord{
		Barcode:   barcode,
		DeviceID:  deviceID,
		Timestamp: r.clock.Now().UTC().Truncate(time.Microsecond),
	}
	err := r.db.Client.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO attendance (barcode, device_id, scanned_at)
		VALUES (?, ?, ?)
		RETURNING id
	`), rec.Barcode, rec.DeviceID, rec.Timestamp).Scan(&rec.ID)
	if err != nil {
		return model.AttendanceRecord{}, store.Classify(err, "insert attendance")
	}
	rec.Timestamp = rec.Timestamp.In(r.loc)
	return rec, nil
}

// Query returns records newest first, at most PageSize of them.
func (r *Repository) Query(ctx context.Context, f Filter) ([]model.AttendanceRecord, error) {
	var from, to time.Time
	if f.Date != "" {
		day, err := r.parseDay(f.Date, "date")
		if err != nil {
			return nil, err
		}
		from, to = day, day.AddDate(0, 0, 1)
	}
	return r.list(ctx, from, to, f.DeviceID, PageSize)
}

// QueryRange returns every record in the inclusive day range, newest first.
// A device of "all" imposes no constraint.
func (r *Repository) QueryRange(ctx context.Context, f RangeFilter) ([]model.AttendanceRecord, error) {
	var from, to time.Time
	if f.Start != "" {
		day, err := r.parseDay(f.Start, "start")
		if err != nil {
			return nil, err
		}
		from = day
	}
	if f.End != "" {
		day, err := r.parseDay(f.End, "end")
		if err != nil {
			return nil, err
		}
		to = day.AddDate(0, 0, 1)
	}
	device := f.DeviceID
	if device == "all" {
		device = ""
	}
	return r.list(ctx, from, to, device, 0)
}

// list filters on [from, to) and device; zero values impose no constraint.
// limit <= 0 means uncapped.
func (r *Repository) list(ctx context.Context, from, to time.Time, deviceID string, limit int) ([]model.AttendanceRecord, error) {
	query := `SELECT id, barcode, device_id, scanned_at FROM attendance`
	args := []any{}
	clauses := []string{}
	if !from.IsZero() {
		clauses = append(clauses, "scanned_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		clauses = append(clauses, "scanned_at < ?")
		args = append(args, to.UTC())
	}
	if deviceID != "" {
		clauses = append(clauses, "device_id = ?")
		args = append(args, deviceID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY scanned_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	res := []model.AttendanceRecord{}
	if err := r.db.Client.SelectContext(ctx, &res, r.db.Rebind(query), args...); err != nil {
		return nil, store.Classify(err, "query attendance")
	}
	for i := range res {
		res[i].Timestamp = res[i].Timestamp.In(r.loc)
	}
	return res, nil
}

// Devices returns distinct device ids in ascending order.
func (r *Repository) Devices(ctx context.Context) ([]string, error) {
	devices := []string{}
	if err := r.db.Client.SelectContext(ctx, &devices, `SELECT DISTINCT device_id FROM attendance ORDER BY device_id`); err != nil {
		return nil, store.Classify(err, "list devices")
	}
	return devices, nil
}

// Stats computes each aggregate independently. Empty tables give zeros and
// "N/A" for the most active device.
func (r *Repository) Stats(ctx context.Context) (model.Stats, error) {
	now := r.clock.Now()
	today := r.startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	weekStart := today.AddDate(0, 0, -6)

	stats := model.Stats{MostActiveDevice: "N/A"}
	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&stats.Total, `SELECT COUNT(*) FROM attendance`, nil},
		{&stats.TotalToday, `SELECT COUNT(*) FROM attendance WHERE scanned_at >= ? AND scanned_at < ?`, []any{today.UTC(), tomorrow.UTC()}},
		{&stats.TotalWeek, `SELECT COUNT(*) FROM attendance WHERE scanned_at >= ? AND scanned_at < ?`, []any{weekStart.UTC(), tomorrow.UTC()}},
		{&stats.UniqueToday, `SELECT COUNT(DISTINCT barcode) FROM attendance WHERE scanned_at >= ? AND scanned_at < ?`, []any{today.UTC(), tomorrow.UTC()}},
	}
	for _, c := range counts {
		if err := r.db.Client.GetContext(ctx, c.dst, r.db.Rebind(c.query), c.args...); err != nil {
			return model.Stats{}, store.Classify(err, "compute stats")
		}
	}

	var device string
	err := r.db.Client.GetContext(ctx, &device, r.db.Rebind(`
		SELECT device_id FROM attendance
		WHERE scanned_at >= ?
		GROUP BY device_id
		ORDER BY COUNT(*) DESC, device_id ASC
		LIMIT 1
	`), now.Add(-24*time.Hour).UTC())
	switch {
	case store.IsNoRows(err):
	case err != nil:
		return model.Stats{}, store.Classify(err, "compute stats")
	default:
		stats.MostActiveDevice = device
	}
	return stats, nil
}

// DeviceActivity returns today's scan count per device, busiest first.
func (r *Repository) DeviceActivity(ctx context.Context) ([]model.DeviceActivity, error) {
	today := r.startOfDay(r.clock.Now())
	res := []model.DeviceActivity{}
	err := r.db.Client.SelectContext(ctx, &res, r.db.Rebind(`
		SELECT device_id, COUNT(*) AS scans_today
		FROM attendance
		WHERE scanned_at >= ? AND scanned_at < ?
		GROUP BY device_id
		ORDER BY scans_today DESC, device_id ASC
	`), today.UTC(), today.AddDate(0, 0, 1).UTC())
	if err != nil {
		return nil, store.Classify(err, "device activity")
	}
	return res, nil
}

func (r *Repository) startOfDay(t time.Time) time.Time {
	t = t.In(r.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

func (r *Repository) parseDay(s, field string) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, s, r.loc)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.Validation, "invalid "+field+", want YYYY-MM-DD", err)
	}
	return day, nil
}
