package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine counters, incremented at the terminal transition of each operation.
var (
	BackupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_operations_total",
		Help: "Backup operations by type and terminal status",
	}, []string{"type", "status"})

	BackupArtifactBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_artifact_bytes_total",
		Help: "Total bytes of completed backup artifacts by type",
	}, []string{"type"})

	RestoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restore_operations_total",
		Help: "Restore operations by backup type and terminal status",
	}, []string{"type", "status"})

	RetentionDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retention_deleted_backups_total",
		Help: "Backup records removed by the retention cleanup job",
	})
)

func init() {
	prometheus.MustRegister(BackupsTotal, BackupArtifactBytes, RestoresTotal, RetentionDeletedTotal)
}
