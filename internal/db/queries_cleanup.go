package db

import (
	"database/sql"

	"github.com/camlapse/camlapse/internal/model"
)

func InsertCleanupLog(database *sql.DB, r *model.CleanupReport) error {
	_, err := database.Exec(`
		INSERT INTO cleanup_log (id, scope, camera_id, files_deleted, bytes_freed,
		                         protected_skipped, executed_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
		r.ID, r.Scope, r.CameraID, r.FilesDeleted, r.BytesFreed,
		r.ProtectedSkipped, FormatTime(r.ExecutedAt),
	)
	return err
}

func ListCleanupLog(database *sql.DB, limit int) ([]model.CleanupReport, error) {
	rows, err := database.Query(`
		SELECT id, scope, COALESCE(camera_id, ''), files_deleted, bytes_freed,
		       protected_skipped, executed_at
		FROM cleanup_log
		ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.CleanupReport
	for rows.Next() {
		var r model.CleanupReport
		var executedAt SQLiteTime
		if err := rows.Scan(&r.ID, &r.Scope, &r.CameraID, &r.FilesDeleted,
			&r.BytesFreed, &r.ProtectedSkipped, &executedAt); err != nil {
			return nil, err
		}
		r.ExecutedAt = executedAt.Time
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
