package db

import (
	"database/sql"
	"time"

	"github.com/camlapse/camlapse/internal/model"
)

const configColumns = `id, camera_id, name, is_enabled, mode, status,
       frames_per_hour, days_to_include, generation_day, generation_time,
       frame_rate, crf, pixel_format,
       collection_start_date, collection_end_date, collection_progress_days,
       auto_generate, last_generation_at, created_at, updated_at`

const prefixedConfigColumns = `cc.id, cc.camera_id, cc.name, cc.is_enabled, cc.mode, cc.status,
       cc.frames_per_hour, cc.days_to_include, cc.generation_day, cc.generation_time,
       cc.frame_rate, cc.crf, cc.pixel_format,
       cc.collection_start_date, cc.collection_end_date, cc.collection_progress_days,
       cc.auto_generate, cc.last_generation_at, cc.created_at, cc.updated_at`

func scanConfig(row interface{ Scan(...interface{}) error }) (*model.CollectionConfig, error) {
	c := &model.CollectionConfig{}
	var startDate, endDate, lastGen sql.NullString
	var createdAt, updatedAt SQLiteTime
	err := row.Scan(
		&c.ID, &c.CameraID, &c.Name, &c.Enabled, &c.Mode, &c.Status,
		&c.FramesPerHour, &c.DaysToInclude, &c.GenerationDay, &c.GenerationTime,
		&c.FrameRate, &c.CRF, &c.PixelFormat,
		&startDate, &endDate, &c.ProgressDays,
		&c.AutoGenerate, &lastGen, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CollectionStartDate = scanNullTime(startDate)
	c.CollectionEndDate = scanNullTime(endDate)
	c.LastGenerationAt = scanNullTime(lastGen)
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return c, nil
}

func CreateConfig(database *sql.DB, c *model.CollectionConfig) error {
	_, err := database.Exec(`
		INSERT INTO collection_configs (id, camera_id, name, is_enabled, mode,
		    frames_per_hour, days_to_include, generation_day, generation_time,
		    frame_rate, crf, pixel_format, auto_generate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CameraID, c.Name, c.Enabled, c.Mode,
		c.FramesPerHour, c.DaysToInclude, c.GenerationDay, c.GenerationTime,
		c.FrameRate, c.CRF, c.PixelFormat, c.AutoGenerate,
	)
	return err
}

func GetConfig(database *sql.DB, id string) (*model.CollectionConfig, error) {
	c, err := scanConfig(database.QueryRow(
		`SELECT `+configColumns+` FROM collection_configs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListEnabledConfigs returns enabled configs whose camera is active.
func ListEnabledConfigs(database *sql.DB) ([]model.CollectionConfig, error) {
	return queryConfigs(database, `
		SELECT `+prefixedConfigColumns+`
		FROM collection_configs cc
		JOIN cameras cam ON cam.id = cc.camera_id
		WHERE cc.is_enabled = 1 AND cam.is_active = 1
		ORDER BY cc.name`)
}

// StartCollection atomically moves an idle config into collecting with the
// given window. Returns false when the config was not idle.
func StartCollection(database *sql.DB, id string, start, end time.Time, days int) (bool, error) {
	res, err := database.Exec(`
		UPDATE collection_configs
		SET mode = ?, status = 'collecting',
		    collection_start_date = ?, collection_end_date = ?,
		    collection_progress_days = 0, days_to_include = ?,
		    updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ? AND status = 'idle'`,
		model.ModeProspective, FormatDate(start), FormatDate(end), days, id,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func SetConfigProgress(database *sql.DB, id string, days int) error {
	_, err := database.Exec(`
		UPDATE collection_configs
		SET collection_progress_days = ?, updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`, days, id)
	return err
}

func MarkConfigReady(database *sql.DB, id string) error {
	return setConfigStatus(database, id, model.ConfigStatusReady)
}

func MarkConfigFailed(database *sql.DB, id string) error {
	return setConfigStatus(database, id, model.ConfigStatusFailed)
}

// MarkConfigCompleted finishes a prospective run and stamps the generation
// time.
func MarkConfigCompleted(database *sql.DB, id string) error {
	_, err := database.Exec(`
		UPDATE collection_configs
		SET status = 'completed',
		    last_generation_at = strftime('%Y-%m-%d %H:%M:%S', 'now'),
		    updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`, id)
	return err
}

// SetLastGeneration stamps a historical config's generation time without
// touching its status.
func SetLastGeneration(database *sql.DB, id string) error {
	_, err := database.Exec(`
		UPDATE collection_configs
		SET last_generation_at = strftime('%Y-%m-%d %H:%M:%S', 'now'),
		    updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`, id)
	return err
}

// CancelCollection returns a collecting config to idle and clears its window.
// Returns false when the config was not collecting. Video jobs are untouched.
func CancelCollection(database *sql.DB, id string) (bool, error) {
	res, err := database.Exec(`
		UPDATE collection_configs
		SET status = 'idle', collection_start_date = NULL, collection_end_date = NULL,
		    collection_progress_days = 0,
		    updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ? AND status = 'collecting'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func setConfigStatus(database *sql.DB, id, status string) error {
	_, err := database.Exec(`
		UPDATE collection_configs
		SET status = ?, updated_at = strftime('%Y-%m-%d %H:%M:%S', 'now')
		WHERE id = ?`, status, id)
	return err
}

func queryConfigs(database *sql.DB, query string, args ...interface{}) ([]model.CollectionConfig, error) {
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []model.CollectionConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}
