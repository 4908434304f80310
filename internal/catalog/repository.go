package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cutroom/cutroom-agent/internal/media"
)

// Repository is the catalog's storage. Get methods return nil, nil when the
// row does not exist.
type Repository interface {
	UpsertAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	GetAssetByPath(ctx context.Context, path string) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id string) error
	CountAssets(ctx context.Context) (int, error)

	CreateProject(ctx context.Context, project *Project, document []byte) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	GetProjectDocument(ctx context.Context, id string) ([]byte, error)
	UpdateProjectDocument(ctx context.Context, id string, document []byte, digest string, expectedRevision int64) (int64, error)
	RenameProject(ctx context.Context, id, name string) error
	DeleteProject(ctx context.Context, id string) error

	SaveHistory(ctx context.Context, projectID string, checkpoint []byte) error
	GetHistory(ctx context.Context, projectID string) ([]byte, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const assetColumns = `id, kind, path, filename, size, fingerprint, duration, width, height, has_audio, thumbnail, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) UpsertAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			size = excluded.size,
			fingerprint = excluded.fingerprint,
			duration = excluded.duration,
			width = excluded.width,
			height = excluded.height,
			has_audio = excluded.has_audio,
			thumbnail = COALESCE(excluded.thumbnail, assets.thumbnail)
	`, a.ID, string(a.Kind), a.Path, a.Filename, a.Size, a.Fingerprint, a.Duration,
		a.Width, a.Height, boolToInt(a.HasAudio), nullString(a.Thumbnail), a.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	return orNil(scanAsset(row))
}

func (r *SQLiteRepository) GetAssetByPath(ctx context.Context, path string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE path = ?`, path)
	return orNil(scanAsset(row))
}

func scanAsset(row rowScanner) (*Asset, error) {
	var a Asset
	var kind, createdAt string
	var hasAudio int
	var thumbnail sql.NullString

	err := row.Scan(&a.ID, &kind, &a.Path, &a.Filename, &a.Size, &a.Fingerprint, &a.Duration,
		&a.Width, &a.Height, &hasAudio, &thumbnail, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Kind = media.Kind(kind)
	a.HasAudio = hasAudio == 1
	a.Thumbnail = thumbnail.String
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (r *SQLiteRepository) ListAssets(ctx context.Context) ([]*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY filename, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *SQLiteRepository) DeleteAsset(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountAssets(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&count)
	return count, err
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project, document []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, revision, digest, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Revision, p.Digest, document, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

const projectColumns = `id, name, revision, digest, created_at, updated_at`

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return orNil(scanProject(row))
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Revision, &p.Digest, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) GetProjectDocument(ctx context.Context, id string) ([]byte, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx, "SELECT document FROM projects WHERE id = ?", id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// UpdateProjectDocument stores a new document when the project is still at
// expectedRevision and returns the new revision.
func (r *SQLiteRepository) UpdateProjectDocument(ctx context.Context, id string, document []byte, digest string, expectedRevision int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET document = ?, digest = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?
	`, document, digest, time.Now().UTC().Format(time.RFC3339), id, expectedRevision)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		p, err := r.GetProject(ctx, id)
		if err != nil {
			return 0, err
		}
		if p == nil {
			return 0, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("project %s at revision %d, expected %d: %w", id, p.Revision, expectedRevision, ErrRevisionConflict)
	}
	return expectedRevision + 1, nil
}

func (r *SQLiteRepository) RenameProject(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE projects SET name = ?, updated_at = ? WHERE id = ?",
		name, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) SaveHistory(ctx context.Context, projectID string, checkpoint []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO project_history (project_id, checkpoint, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET checkpoint = excluded.checkpoint, updated_at = excluded.updated_at
	`, projectID, checkpoint, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetHistory(ctx context.Context, projectID string) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, "SELECT checkpoint FROM project_history WHERE project_id = ?", projectID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return blob, err
}

const jobColumns = `id, project_id, status, output_path, options, revision, progress, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	opts, err := json.Marshal(j.Options)
	if err != nil {
		return fmt.Errorf("encode job options: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.ProjectID, j.Status, j.OutputPath, string(opts), j.Revision,
		j.Progress, nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return orNil(scanJob(row))
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var opts, createdAt, updatedAt string
	var errMsg sql.NullString

	err := row.Scan(&j.ID, &j.ProjectID, &j.Status, &j.OutputPath, &opts, &j.Revision,
		&j.Progress, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, fmt.Errorf("job %s: decode options: %w", j.ID, err)
	}
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = datetime('now') WHERE id = ?
	`, progress, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// orNil maps sql.ErrNoRows to a nil result.
func orNil[T any](v *T, err error) (*T, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// parseTime accepts RFC 3339 and SQLite's datetime('now') format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
