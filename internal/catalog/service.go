package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutroom/cutroom-agent/internal/codec"
	"github.com/cutroom/cutroom-agent/internal/history"
	"github.com/cutroom/cutroom-agent/internal/logging"
	"github.com/cutroom/cutroom-agent/internal/media"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

const fingerprintSize = 64 * 1024

// CatalogService is the library and project API used by the HTTP layer.
type CatalogService interface {
	ImportAsset(ctx context.Context, path string) (*Asset, error)
	ImportFolder(ctx context.Context, dir string) (ImportSummary, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	RemoveAsset(ctx context.Context, id string) error
	CountAssets(ctx context.Context) (int, error)

	CreateProject(ctx context.Context, name string, doc *timeline.Document) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	LoadDocument(ctx context.Context, id string) (*Project, timeline.Document, error)
	SaveDocument(ctx context.Context, id string, doc timeline.Document) (*Project, bool, error)
	RenameProject(ctx context.Context, id, name string) (*Project, error)
	DeleteProject(ctx context.Context, id string) error

	Sources(ctx context.Context, doc timeline.Document) (rendergraph.SourceMap, error)
}

// ImportSummary counts the outcome of ImportFolder.
type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type Service struct {
	repo     Repository
	prober   media.Prober
	thumbDir string
	logger   *slog.Logger
}

// NewService creates the catalog service. prober may be nil, in which case
// imported assets carry no media metadata. thumbDir may be empty to skip
// thumbnails.
func NewService(repo Repository, prober media.Prober, thumbDir string, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		prober:   prober,
		thumbDir: thumbDir,
		logger:   logging.Discard(logger),
	}
}

// ImportAsset adds or refreshes the media file at path.
func (s *Service) ImportAsset(ctx context.Context, path string) (*Asset, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory")
	}
	kind := media.KindOf(absPath)
	if kind == media.KindUnknown {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), ErrUnsupportedMedia)
	}

	fingerprint, err := computeFingerprint(absPath)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetAssetByPath(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Fingerprint == fingerprint && existing.Size == info.Size() {
		return existing, nil
	}

	asset := &Asset{
		ID:          NewID(),
		Kind:        kind,
		Path:        absPath,
		Filename:    filepath.Base(absPath),
		Size:        info.Size(),
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
	}
	if existing != nil {
		asset.ID = existing.ID
		asset.CreatedAt = existing.CreatedAt
	}

	if s.prober != nil {
		probe, err := s.prober.Probe(ctx, absPath)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", asset.Filename, err)
		}
		asset.Width = probe.Width
		asset.Height = probe.Height
		if kind == media.KindVideo {
			asset.Duration = probe.Duration
			asset.HasAudio = probe.HasAudio
		}
		asset.Thumbnail = s.thumbnail(ctx, asset)
	}

	if err := s.repo.UpsertAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.logger.Info("asset imported",
		"asset_id", asset.ID,
		"kind", asset.Kind,
		"path", logging.SanitizePath(absPath),
		"duration_s", asset.Duration,
	)
	return asset, nil
}

// thumbnail renders a poster frame for video assets. Failures are logged and
// leave the asset without a thumbnail.
func (s *Service) thumbnail(ctx context.Context, a *Asset) string {
	if s.thumbDir == "" || a.Kind != media.KindVideo {
		return ""
	}
	out := filepath.Join(s.thumbDir, a.ID+".jpg")
	offset := math.Min(1, a.Duration/2)
	if err := s.prober.GenerateThumbnail(ctx, a.Path, out, offset); err != nil {
		s.logger.Warn("thumbnail generation failed", "asset_id", a.ID, "error", err)
		return ""
	}
	return out
}

// ImportFolder imports every media file under dir, skipping hidden
// directories. Files that fail to import are logged and counted.
func (s *Service) ImportFolder(ctx context.Context, dir string) (ImportSummary, error) {
	var summary ImportSummary

	info, err := os.Stat(dir)
	if err != nil {
		return summary, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return summary, fmt.Errorf("path is not a directory")
	}

	var files []string
	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if media.KindOf(d.Name()) == media.KindUnknown {
			summary.Skipped++
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return summary, err
	}

	s.logger.Info("found media files", "count", len(files), "path", logging.SanitizePath(dir))

	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, err := s.ImportAsset(ctx, p); err != nil {
			s.logger.Warn("failed to import file", "path", logging.SanitizePath(p), "error", err)
			summary.Failed++
			continue
		}
		summary.Imported++
	}
	return summary, nil
}

func (s *Service) GetAsset(ctx context.Context, id string) (*Asset, error) {
	a, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *Service) ListAssets(ctx context.Context) ([]*Asset, error) {
	return s.repo.ListAssets(ctx)
}

func (s *Service) RemoveAsset(ctx context.Context, id string) error {
	a, err := s.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	if a.Thumbnail != "" {
		os.Remove(a.Thumbnail)
	}
	return s.repo.DeleteAsset(ctx, id)
}

func (s *Service) CountAssets(ctx context.Context) (int, error) {
	return s.repo.CountAssets(ctx)
}

// CreateProject stores a new project holding doc, or an empty timeline when
// doc is nil.
func (s *Service) CreateProject(ctx context.Context, name string, doc *timeline.Document) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled"
	}
	d := timeline.NewDocument(timeline.Snapshot{}, nil)
	if doc != nil {
		if _, err := doc.Snapshot(); err != nil {
			return nil, err
		}
		d = *doc
		d.Version = timeline.DocumentVersion
	}

	blob, digest, err := codec.EncodeBlob(d, codec.CompressionZstd)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &Project{
		ID:        NewID(),
		Name:      name,
		Revision:  1,
		Digest:    digest.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateProject(ctx, p, blob); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", p.ID, "clips", len(d.TimelineClips))
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

// LoadDocument returns the project's stored document.
func (s *Service) LoadDocument(ctx context.Context, id string) (*Project, timeline.Document, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, timeline.Document{}, err
	}
	blob, err := s.repo.GetProjectDocument(ctx, id)
	if err != nil {
		return nil, timeline.Document{}, err
	}
	var doc timeline.Document
	if err := codec.DecodeBlob(blob, &doc); err != nil {
		return nil, timeline.Document{}, fmt.Errorf("project %s: %w", id, err)
	}
	return p, doc, nil
}

// SaveDocument stores doc as the project's new revision. Saving a document
// identical to the stored one changes nothing and reports false.
func (s *Service) SaveDocument(ctx context.Context, id string, doc timeline.Document) (*Project, bool, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, false, err
	}
	doc.Version = timeline.DocumentVersion
	blob, digest, err := codec.EncodeBlob(doc, codec.CompressionZstd)
	if err != nil {
		return nil, false, err
	}
	if p.Digest == digest.String() {
		return p, false, nil
	}

	rev, err := s.repo.UpdateProjectDocument(ctx, id, blob, digest.String(), p.Revision)
	if err != nil {
		return nil, false, err
	}
	p.Revision = rev
	p.Digest = digest.String()
	p.UpdatedAt = time.Now().UTC()
	s.logger.Debug("project saved", "project_id", id, "revision", rev, "bytes", len(blob))
	return p, true, nil
}

func (s *Service) RenameProject(ctx context.Context, id, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project name must not be empty")
	}
	if _, err := s.GetProject(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.RenameProject(ctx, id, name); err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteProject(ctx, id)
}

// SaveHistory persists the undo log of a project.
func (s *Service) SaveHistory(ctx context.Context, projectID string, log *history.Log) error {
	blob, err := history.EncodeCheckpoint(log.Checkpoint())
	if err != nil {
		return err
	}
	return s.repo.SaveHistory(ctx, projectID, blob)
}

// LoadHistory restores the undo log of a project, or returns nil when none
// was saved.
func (s *Service) LoadHistory(ctx context.Context, projectID string, capacity int) (*history.Log, error) {
	blob, err := s.repo.GetHistory(ctx, projectID)
	if err != nil || blob == nil {
		return nil, err
	}
	cp, err := history.DecodeCheckpoint(blob)
	if err != nil {
		return nil, err
	}
	return history.Restore(capacity, cp)
}

// LookupAsset resolves a source reference (asset ID or path) to a library
// entry.
func (s *Service) LookupAsset(ctx context.Context, ref string) (timeline.LibraryClip, bool, error) {
	a, err := s.repo.GetAsset(ctx, ref)
	if err == nil && a == nil {
		a, err = s.repo.GetAssetByPath(ctx, ref)
	}
	if err != nil || a == nil {
		return timeline.LibraryClip{}, false, err
	}
	return a.LibraryClip(), true, nil
}

// Sources builds the compiler's source table from the catalog and the
// document library. Entries are keyed by asset ID and by path.
func (s *Service) Sources(ctx context.Context, doc timeline.Document) (rendergraph.SourceMap, error) {
	assets, err := s.repo.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	sources := make(rendergraph.SourceMap, 2*(len(assets)+len(doc.LibraryClips)))
	for _, lc := range doc.LibraryClips {
		if lc.Path == "" {
			continue
		}
		src := rendergraph.Source{Path: lc.Path, HasAudio: lc.HasAudio, Still: lc.Kind == string(media.KindImage)}
		sources[lc.ID] = src
		sources[lc.Path] = src
	}
	for _, a := range assets {
		sources[a.ID] = a.Source()
		sources[a.Path] = a.Source()
	}
	return sources, nil
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
