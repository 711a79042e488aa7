package stats

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"adaptsched/internal/logging"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// ExporterConfig mirrors the database block of the scheduler config.
type ExporterConfig struct {
	Host   string
	Bucket string
	Org    string
	Token  string
}

// Exporter pushes statistics snapshots to InfluxDB. The scheduler works
// fully without it; export failures are logged and dropped.
type Exporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
	runID    string
	logger   *logrus.Logger
}

// NewExporter connects and health-checks the target database.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &Exporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
		runID:    uuid.NewString(),
		logger:   logger,
	}, nil
}

// RunID tags every point written by this exporter instance.
func (e *Exporter) RunID() string { return e.runID }

// Export writes one snapshot as a scheduler_metrics point.
func (e *Exporter) Export(ctx context.Context, s *Snapshot) error {
	fields := map[string]interface{}{
		"picks":                  s.Picks,
		"idle_picks":             s.IdlePicks,
		"deadline_miss_count":    s.DeadlineMisses,
		"throttle_events":        s.ThrottleEvents,
		"migration_count":        s.Migrations,
		"migration_aborts":       s.MigrationAborts,
		"admission_rejects":      s.AdmissionRejects,
		"policy_denials":         s.PolicyDenials,
		"exits":                  s.Exits,
		"predictor_fallbacks":    s.PredictorFallbacks,
		"predictor_generation":   int64(s.PredictorGeneration),
		"predictor_observations": s.PredictorObservations,
	}
	for core, load := range s.PerCoreLoad {
		fields[fmt.Sprintf("core_%d_load", core)] = load
	}
	for class, n := range s.PerClassCounts {
		fields[fmt.Sprintf("class_%s_count", class)] = n
	}

	point := influxdb2.NewPoint("scheduler_metrics",
		map[string]string{
			"run_id": e.runID,
		},
		fields,
		s.TakenAt)

	if err := e.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write snapshot point: %w", err)
	}
	return nil
}

// WriteRunMetadata records one metadata point describing the whole run.
func (e *Exporter) WriteRunMetadata(ctx context.Context, schedulerVersion string, cores int, started, finished time.Time) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	point := influxdb2.NewPoint("scheduler_run",
		map[string]string{
			"run_id":   e.runID,
			"hostname": hostname,
		},
		map[string]interface{}{
			"scheduler_version": schedulerVersion,
			"cores":             cores,
			"os":                runtime.GOOS + "/" + runtime.GOARCH,
			"started":           started.Format(time.RFC3339),
			"finished":          finished.Format(time.RFC3339),
			"duration_seconds":  int64(finished.Sub(started).Seconds()),
		},
		finished)

	var points []*write.Point
	points = append(points, point)
	if err := e.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write run metadata: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (e *Exporter) Close() {
	e.client.Close()
}
