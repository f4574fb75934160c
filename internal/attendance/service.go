package attendance

import (
	"context"
	"crypto/subtle"

	"github.com/rs/zerolog"

	"scanattend/internal/apperr"
	"scanattend/internal/metrics"
	"scanattend/internal/model"
	"scanattend/internal/realtime"
)

// Scan is a submission from a scanning device.
type Scan struct {
	Barcode  string
	DeviceID string
	Secret   string
}

// Service coordinates scan ingestion and live fan-out.
type Service struct {
	repo         *Repository
	live         realtime.Registry
	deviceSecret string
	metrics      *metrics.Metrics
}

// NewService creates a service backed by a repository. An empty device
// secret rejects every scan.
func NewService(repo *Repository, live realtime.Registry, deviceSecret string, m *metrics.Metrics) *Service {
	return &Service{repo: repo, live: live, deviceSecret: deviceSecret, metrics: m}
}

// Ingest checks the device secret, stores the scan and then broadcasts the
// stored record. The secret is checked before the barcode.
func (s *Service) Ingest(ctx context.Context, scan Scan) (model.AttendanceRecord, error) {
	if !s.secretMatches(scan.Secret) {
		s.metrics.ScanRejected("bad_secret")
		return model.AttendanceRecord{}, apperr.New(apperr.Unauthenticated, "invalid device secret")
	}
	if scan.Barcode == "" {
		s.metrics.ScanRejected("missing_barcode")
		return model.AttendanceRecord{}, apperr.New(apperr.Validation, "missing barcode")
	}

	rec, err := s.repo.Insert(ctx, scan.Barcode, scan.DeviceID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	s.metrics.ScanIngested(rec.DeviceID)

	if s.live != nil {
		s.live.Publish(realtime.Event{Type: realtime.EventNewScan, Record: rec})
	}
	zerolog.Ctx(ctx).Info().
		Int64("record_id", rec.ID).
		Str("device_id", rec.DeviceID).
		Msg("scan stored")
	return rec, nil
}

func (s *Service) secretMatches(given string) bool {
	if s.deviceSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.deviceSecret)) == 1
}

// Query returns the capped, filtered record list.
func (s *Service) Query(ctx context.Context, f Filter) ([]model.AttendanceRecord, error) {
	return s.repo.Query(ctx, f)
}

// QueryRange returns the uncapped day-range record list.
func (s *Service) QueryRange(ctx context.Context, f RangeFilter) ([]model.AttendanceRecord, error) {
	return s.repo.QueryRange(ctx, f)
}

// Devices lists known device ids.
func (s *Service) Devices(ctx context.Context) ([]string, error) {
	return s.repo.Devices(ctx)
}

// Stats returns the dashboard aggregates.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	return s.repo.Stats(ctx)
}

// DeviceActivity returns today's per-device counts.
func (s *Service) DeviceActivity(ctx context.Context) ([]model.DeviceActivity, error) {
	return s.repo.DeviceActivity(ctx)
}
