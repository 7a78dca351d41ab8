package db

import (
	"database/sql"
	"time"

	"github.com/camlapse/camlapse/internal/model"
)

const frameColumns = `id, camera_id, captured_at, file_path, file_size,
       width, height, is_protected, COALESCE(protection_reason, ''),
       protected_by_config_id, consumed_by_job_id, created_at`

func scanFrame(row interface{ Scan(...interface{}) error }) (*model.Frame, error) {
	f := &model.Frame{}
	var capturedAt, createdAt SQLiteTime
	var width, height sql.NullInt64
	var configID, jobID sql.NullString
	err := row.Scan(
		&f.ID, &f.CameraID, &capturedAt, &f.FilePath, &f.FileSize,
		&width, &height, &f.Protected, &f.ProtectionReason,
		&configID, &jobID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	f.CapturedAt = capturedAt.Time
	f.CreatedAt = createdAt.Time
	if width.Valid {
		f.Width = &width.Int64
	}
	if height.Valid {
		f.Height = &height.Int64
	}
	if configID.Valid {
		f.ProtectedByConfigID = &configID.String
	}
	if jobID.Valid {
		f.ConsumedByJobID = &jobID.String
	}
	return f, nil
}

func InsertFrame(database *sql.DB, f *model.Frame) error {
	_, err := database.Exec(`
		INSERT INTO frames (id, camera_id, captured_at, file_path, file_size, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.CameraID, FormatTime(f.CapturedAt), f.FilePath, f.FileSize,
		f.Width, f.Height,
	)
	return err
}

// ListFramesBetween returns a camera's frames with start <= captured_at < end,
// in capture order.
func ListFramesBetween(database *sql.DB, cameraID string, start, end time.Time) ([]model.Frame, error) {
	return queryFrames(database, `
		SELECT `+frameColumns+` FROM frames
		WHERE camera_id = ? AND captured_at >= ? AND captured_at < ?
		ORDER BY captured_at ASC`,
		cameraID, FormatTime(start), FormatTime(end))
}

// ProtectFramesForConfig claims every still-unprotected frame of the camera
// inside [start, end) for a prospective collection. Frames already protected
// by another owner are left alone.
func ProtectFramesForConfig(database *sql.DB, cameraID, configID string, start, end time.Time) (int64, error) {
	res, err := database.Exec(`
		UPDATE frames
		SET is_protected = 1, protection_reason = ?, protected_by_config_id = ?
		WHERE camera_id = ? AND captured_at >= ? AND captured_at < ?
		  AND is_protected = 0`,
		model.ProtectionProspective, configID,
		cameraID, FormatTime(start), FormatTime(end),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ProtectFrameIDs protects the given frames with the given reason, skipping
// frames that already carry protection.
func ProtectFrameIDs(database *sql.DB, ids []string, reason, configID string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE frames
		SET is_protected = 1, protection_reason = ?, protected_by_config_id = NULLIF(?, '')
		WHERE is_protected = 0 AND id IN (`
	args := []interface{}{reason, configID}
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"
	_, err := database.Exec(query, args...)
	return err
}

// UnprotectFramesForConfig releases every frame the config protected.
func UnprotectFramesForConfig(database *sql.DB, configID string) (int64, error) {
	res, err := database.Exec(`
		UPDATE frames
		SET is_protected = 0, protection_reason = NULL, protected_by_config_id = NULL
		WHERE protected_by_config_id = ?`,
		configID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkFramesConsumed stamps the frames with the job that used them.
func MarkFramesConsumed(database *sql.DB, ids []string, jobID string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE frames SET consumed_by_job_id = ? WHERE id IN (`
	args := []interface{}{jobID}
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"
	_, err := database.Exec(query, args...)
	return err
}

// ListExpiredUnprotectedFrames returns deletable frames captured before the
// cutoff. Protected frames never appear here. An empty cameraID means all
// cameras.
func ListExpiredUnprotectedFrames(database *sql.DB, cutoff time.Time, cameraID string) ([]model.Frame, error) {
	query := `
		SELECT ` + frameColumns + ` FROM frames
		WHERE captured_at < ? AND is_protected = 0`
	args := []interface{}{FormatTime(cutoff)}
	if cameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY captured_at ASC`
	return queryFrames(database, query, args...)
}

// CountProtectedExpiredFrames counts frames that retention would have removed
// but protection kept.
func CountProtectedExpiredFrames(database *sql.DB, cutoff time.Time, cameraID string) (int, error) {
	query := `SELECT COUNT(*) FROM frames WHERE captured_at < ? AND is_protected = 1`
	args := []interface{}{FormatTime(cutoff)}
	if cameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, cameraID)
	}
	var n int
	err := database.QueryRow(query, args...).Scan(&n)
	return n, err
}

// ListConsumedUnprotectedFrames returns the frames a job consumed that are
// safe to remove now.
func ListConsumedUnprotectedFrames(database *sql.DB, jobID string) ([]model.Frame, error) {
	return queryFrames(database, `
		SELECT `+frameColumns+` FROM frames
		WHERE consumed_by_job_id = ? AND is_protected = 0
		ORDER BY captured_at ASC`,
		jobID)
}

func CountProtectedConsumed(database *sql.DB, jobID string) (int, error) {
	var n int
	err := database.QueryRow(`
		SELECT COUNT(*) FROM frames WHERE consumed_by_job_id = ? AND is_protected = 1`,
		jobID).Scan(&n)
	return n, err
}

func DeleteFrame(database *sql.DB, id string) error {
	_, err := database.Exec(`DELETE FROM frames WHERE id = ?`, id)
	return err
}

func queryFrames(database *sql.DB, query string, args ...interface{}) ([]model.Frame, error) {
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []model.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, *f)
	}
	return frames, rows.Err()
}
