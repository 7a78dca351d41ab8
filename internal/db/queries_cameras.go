package db

import (
	"database/sql"
	"time"

	"github.com/camlapse/camlapse/internal/model"
)

const cameraColumns = `id, name, host, capture_interval, is_active,
       COALESCE(blackout_start, ''), COALESCE(blackout_end, ''),
       timelapse_enabled, last_capture_at, COALESCE(last_capture_status, ''),
       consecutive_errors, created_at, updated_at`

func scanCamera(row interface{ Scan(...interface{}) error }) (*model.Camera, error) {
	c := &model.Camera{}
	var lastCapture sql.NullString
	var createdAt, updatedAt SQLiteTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Host, &c.CaptureInterval, &c.Active,
		&c.BlackoutStart, &c.BlackoutEnd,
		&c.TimelapseEnabled, &lastCapture, &c.LastCaptureStatus,
		&c.ConsecutiveErrors, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.LastCaptureAt = scanNullTime(lastCapture)
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return c, nil
}

func CreateCamera(database *sql.DB, c *model.Camera) error {
	_, err := database.Exec(`
		INSERT INTO cameras (id, name, host, capture_interval, is_active,
		                     blackout_start, blackout_end, timelapse_enabled)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`,
		c.ID, c.Name, c.Host, c.CaptureInterval, c.Active,
		c.BlackoutStart, c.BlackoutEnd, c.TimelapseEnabled,
	)
	return err
}

func GetCamera(database *sql.DB, id string) (*model.Camera, error) {
	c, err := scanCamera(database.QueryRow(
		`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func ListCameras(database *sql.DB) ([]model.Camera, error) {
	return queryCameras(database, `SELECT `+cameraColumns+` FROM cameras ORDER BY name`)
}

func ListActiveCameras(database *sql.DB) ([]model.Camera, error) {
	return queryCameras(database,
		`SELECT `+cameraColumns+` FROM cameras WHERE is_active = 1 ORDER BY name`)
}

func queryCameras(database *sql.DB, query string, args ...interface{}) ([]model.Camera, error) {
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cameras []model.Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, *c)
	}
	return cameras, rows.Err()
}

// MarkCaptureSuccess records a successful capture and resets the camera's
// consecutive error counter.
func MarkCaptureSuccess(database *sql.DB, id string, at time.Time) error {
	_, err := database.Exec(`
		UPDATE cameras
		SET last_capture_at = ?, last_capture_status = ?, consecutive_errors = 0,
		    updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`,
		FormatTime(at), model.CaptureStatusSuccess, id,
	)
	return err
}

// MarkCaptureFailure increments the camera's consecutive error counter and
// returns the new count.
func MarkCaptureFailure(database *sql.DB, id string, at time.Time) (int, error) {
	var count int
	err := database.QueryRow(`
		UPDATE cameras
		SET last_capture_at = ?, last_capture_status = ?,
		    consecutive_errors = consecutive_errors + 1,
		    updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?
		RETURNING consecutive_errors`,
		FormatTime(at), model.CaptureStatusFailed, id,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
