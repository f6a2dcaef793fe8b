package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"mediarelay/models"
	"mediarelay/services/streaming"
)

// MediaRepository reads and writes the media catalog. It implements streaming.Resolver.
type MediaRepository struct {
	db        *sql.DB
	mediaRoot string
}

func NewMediaRepository(db *sql.DB, mediaRoot string) *MediaRepository {
	return &MediaRepository{db: db, mediaRoot: mediaRoot}
}

func tableFor(kind models.MediaKind) (string, error) {
	switch kind {
	case models.MediaAudio:
		return "media_audio", nil
	case models.MediaVideo:
		return "media_video", nil
	case models.MediaRadio:
		return "media_radio", nil
	default:
		return "", fmt.Errorf("%w: %w %q", streaming.ErrBadRequest, models.ErrInvalidMediaKind, kind)
	}
}

func localTableFor(kind models.MediaKind) (string, error) {
	if !kind.IsLocal() {
		return "", fmt.Errorf("%w: %s items have no local file", streaming.ErrBadRequest, kind)
	}
	return tableFor(kind)
}

// Resolve maps (kind, id) to where the item's bytes live.
func (r *MediaRepository) Resolve(ctx context.Context, kind models.MediaKind, id int64) (models.SourceDescriptor, error) {
	table, err := tableFor(kind)
	if err != nil {
		return models.SourceDescriptor{}, err
	}

	var stored string
	err = r.db.QueryRowContext(ctx, "SELECT path FROM "+table+" WHERE id = ?", id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SourceDescriptor{}, fmt.Errorf("%w: %s %d", streaming.ErrNotFound, kind, id)
	}
	if err != nil {
		return models.SourceDescriptor{}, fmt.Errorf("query %s %d: %w", kind, id, err)
	}

	if kind == models.MediaRadio {
		return models.RemoteURL(stored), nil
	}
	path, err := r.localPath(stored)
	if err != nil {
		return models.SourceDescriptor{}, err
	}
	return models.LocalFile(path), nil
}

// localPath accepts absolute paths, file:// URLs and paths relative to the media root.
func (r *MediaRepository) localPath(stored string) (string, error) {
	if strings.HasPrefix(stored, "file://") {
		u, err := url.Parse(stored)
		if err != nil {
			return "", fmt.Errorf("%w: stored path %q: %w", streaming.ErrNotFound, stored, err)
		}
		stored = u.Path
	}
	if stored == "" {
		return "", fmt.Errorf("%w: empty stored path", streaming.ErrNotFound)
	}
	if !filepath.IsAbs(stored) && r.mediaRoot != "" {
		stored = filepath.Join(r.mediaRoot, stored)
	}
	return filepath.Clean(stored), nil
}

// Get loads a single catalog row.
func (r *MediaRepository) Get(ctx context.Context, kind models.MediaKind, id int64) (models.MediaItem, error) {
	table, err := tableFor(kind)
	if err != nil {
		return models.MediaItem{}, err
	}

	item := models.MediaItem{ID: id, Kind: kind}
	var row *sql.Row
	var durationSeconds int64
	if kind.IsLocal() {
		row = r.db.QueryRowContext(ctx, `SELECT title, path, file_size, md5_hex, duration_seconds, play_count, created_at, updated_at
			FROM `+table+` WHERE id = ?`, id)
		err = row.Scan(&item.Title, &item.Path, &item.FileSize, &item.MD5Hex, &durationSeconds, &item.PlayCount, &item.CreatedAt, &item.UpdatedAt)
	} else {
		row = r.db.QueryRowContext(ctx, `SELECT title, path, quality, play_count, created_at, updated_at
			FROM `+table+` WHERE id = ?`, id)
		err = row.Scan(&item.Title, &item.Path, &item.Quality, &item.PlayCount, &item.CreatedAt, &item.UpdatedAt)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.MediaItem{}, fmt.Errorf("%w: %s %d", streaming.ErrNotFound, kind, id)
	}
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("get %s %d: %w", kind, id, err)
	}
	item.Duration = time.Duration(durationSeconds) * time.Second
	return item, nil
}

// IncrementPlayCount bumps the play counter of one item.
func (r *MediaRepository) IncrementPlayCount(ctx context.Context, kind models.MediaKind, id int64) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, "UPDATE "+table+" SET play_count = play_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("increment play count %s %d: %w", kind, id, err)
	}
	return requireRow(res, kind, id)
}

// UpdateDuration stores the duration of a local item, truncated to whole seconds.
func (r *MediaRepository) UpdateDuration(ctx context.Context, kind models.MediaKind, id int64, d time.Duration) error {
	table, err := localTableFor(kind)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: negative duration", streaming.ErrBadRequest)
	}
	res, err := r.db.ExecContext(ctx, "UPDATE "+table+" SET duration_seconds = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		int64(d/time.Second), id)
	if err != nil {
		return fmt.Errorf("update duration %s %d: %w", kind, id, err)
	}
	return requireRow(res, kind, id)
}

func requireRow(res sql.Result, kind models.MediaKind, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", streaming.ErrNotFound, kind, id)
	}
	return nil
}

// UpsertFile inserts a local item or refreshes the row sharing its checksum or path.
// A zero duration never overwrites a known one.
func (r *MediaRepository) UpsertFile(ctx context.Context, item models.MediaItem) (int64, error) {
	table, err := localTableFor(item.Kind)
	if err != nil {
		return 0, err
	}
	if item.MD5Hex == "" || item.Path == "" {
		return 0, fmt.Errorf("%w: path and md5 are required", streaming.ErrBadRequest)
	}

	query := `INSERT INTO ` + table + ` (title, path, file_size, md5_hex, duration_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(md5_hex) DO UPDATE SET
			title = excluded.title,
			path = excluded.path,
			file_size = excluded.file_size,
			duration_seconds = CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE duration_seconds END,
			updated_at = CURRENT_TIMESTAMP
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			md5_hex = excluded.md5_hex,
			file_size = excluded.file_size,
			duration_seconds = CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE duration_seconds END,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		item.Title, item.Path, item.FileSize, item.MD5Hex, int64(item.Duration/time.Second),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert %s %q: %w", item.Kind, item.Path, err)
	}
	return id, nil
}

// AddRadio stores a radio station. An existing URL gets its title refreshed, and its
// quality too when one is given.
func (r *MediaRepository) AddRadio(ctx context.Context, title, streamURL string, quality models.RadioQuality) (int64, error) {
	if strings.TrimSpace(streamURL) == "" {
		return 0, fmt.Errorf("%w: radio url is required", streaming.ErrBadRequest)
	}
	if title == "" {
		title = streamURL
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO media_radio (title, path, quality) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			quality = CASE WHEN excluded.quality != '' THEN excluded.quality ELSE quality END,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`, title, streamURL, string(quality)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("add radio %q: %w", streamURL, err)
	}
	return id, nil
}

// PathExists reports whether an item with the given stored path is catalogued.
func (r *MediaRepository) PathExists(ctx context.Context, kind models.MediaKind, path string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE path = ?)", path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s path %q: %w", kind, path, err)
	}
	return exists, nil
}

var _ streaming.Resolver = (*MediaRepository)(nil)
