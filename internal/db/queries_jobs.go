package db

import (
	"database/sql"
	"time"

	"github.com/camlapse/camlapse/internal/model"
)

const jobColumns = `id, camera_id, kind, date_start, date_end, frame_rate, crf,
       pixel_format, status, COALESCE(file_path, ''), COALESCE(file_size, 0),
       COALESCE(frame_count, 0), COALESCE(duration_seconds, 0),
       COALESCE(error_message, ''), created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.VideoJob, error) {
	j := &model.VideoJob{}
	var dateStart, dateEnd, createdAt SQLiteTime
	var startedAt, completedAt sql.NullString
	err := row.Scan(
		&j.ID, &j.CameraID, &j.Kind, &dateStart, &dateEnd, &j.FrameRate, &j.CRF,
		&j.PixelFormat, &j.Status, &j.FilePath, &j.FileSize,
		&j.FrameCount, &j.DurationSeconds,
		&j.ErrorMessage, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.DateStart = dateStart.Time
	j.DateEnd = dateEnd.Time
	j.CreatedAt = createdAt.Time
	j.StartedAt = scanNullTime(startedAt)
	j.CompletedAt = scanNullTime(completedAt)
	return j, nil
}

func CreateJob(database *sql.DB, j *model.VideoJob) error {
	_, err := database.Exec(`
		INSERT INTO video_jobs (id, camera_id, kind, date_start, date_end,
		                        frame_rate, crf, pixel_format, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		j.ID, j.CameraID, j.Kind, FormatDate(j.DateStart), FormatDate(j.DateEnd),
		j.FrameRate, j.CRF, j.PixelFormat,
	)
	return err
}

func GetJob(database *sql.DB, id string) (*model.VideoJob, error) {
	j, err := scanJob(database.QueryRow(
		`SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// GetJobByWindow finds the job covering exactly the given date window, if any.
// Windows are unique per camera and kind.
func GetJobByWindow(database *sql.DB, cameraID, kind string, dateStart, dateEnd time.Time) (*model.VideoJob, error) {
	j, err := scanJob(database.QueryRow(`
		SELECT `+jobColumns+` FROM video_jobs
		WHERE camera_id = ? AND kind = ? AND date_start = ? AND date_end = ?`,
		cameraID, kind, FormatDate(dateStart), FormatDate(dateEnd)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// StartJob atomically moves a pending job to processing. Returns false when
// the job was not pending, so two runners can never both claim it.
func StartJob(database *sql.DB, id string) (bool, error) {
	res, err := database.Exec(`
		UPDATE video_jobs
		SET status = 'processing', started_at = strftime('%Y-%m-%d %H:%M:%S', 'now'),
		    error_message = NULL
		WHERE id = ? AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func CompleteJob(database *sql.DB, id, filePath string, fileSize int64, frameCount int, durationSeconds float64) error {
	_, err := database.Exec(`
		UPDATE video_jobs
		SET status = 'completed', file_path = ?, file_size = ?, frame_count = ?,
		    duration_seconds = ?, completed_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`,
		filePath, fileSize, frameCount, durationSeconds, id,
	)
	return err
}

func FailJob(database *sql.DB, id, errorMsg string) error {
	_, err := database.Exec(`
		UPDATE video_jobs
		SET status = 'failed', error_message = ?,
		    completed_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`,
		errorMsg, id,
	)
	return err
}

// ResetJob returns a failed job to pending for a retry.
func ResetJob(database *sql.DB, id string) error {
	_, err := database.Exec(`
		UPDATE video_jobs
		SET status = 'pending', error_message = NULL, started_at = NULL,
		    completed_at = NULL
		WHERE id = ? AND status = 'failed'`, id)
	return err
}

func ListPendingJobs(database *sql.DB) ([]model.VideoJob, error) {
	return queryJobs(database, `
		SELECT `+jobColumns+` FROM video_jobs
		WHERE status = 'pending' ORDER BY created_at ASC`)
}

// ResetStaleJobs flips jobs left in processing by a crashed run back to
// pending so the next scheduled pass re-claims them.
func ResetStaleJobs(database *sql.DB) (int64, error) {
	res, err := database.Exec(`
		UPDATE video_jobs SET status = 'pending', started_at = NULL
		WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpiredCompletedJobs returns completed jobs whose covered window ended
// before the cutoff date. Retention ages a video by its content, not by when
// the encode finished, so a resumed job encoding an old window expires on
// schedule. An empty cameraID means all cameras.
func ListExpiredCompletedJobs(database *sql.DB, cutoff time.Time, cameraID string) ([]model.VideoJob, error) {
	query := `
		SELECT ` + jobColumns + ` FROM video_jobs
		WHERE status = 'completed' AND date_end < ? AND file_path IS NOT NULL`
	args := []interface{}{FormatDate(cutoff)}
	if cameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY date_end ASC`
	return queryJobs(database, query, args...)
}

func DeleteJob(database *sql.DB, id string) error {
	_, err := database.Exec(`DELETE FROM video_jobs WHERE id = ?`, id)
	return err
}

func queryJobs(database *sql.DB, query string, args ...interface{}) ([]model.VideoJob, error) {
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.VideoJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
