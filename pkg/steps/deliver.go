package steps

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
)

// bundleManifest describes the deliverable's contents for downstream
// consumers that unpack it.
type bundleManifest struct {
	JobID               string   `json:"job_id"`
	ProjectID           string   `json:"project_id"`
	Topic               string   `json:"topic"`
	NarrationDurationMs int64    `json:"narration_duration_ms"`
	Files               []string `json:"files"`
	MissingFiles        []string `json:"missing_files,omitempty"`
}

// PackagingStep zips the deliverables, uploads the bundle and records
// its durable ref.
type PackagingStep struct {
	objects clients.ObjectStore
}

func NewPackagingStep(objects clients.ObjectStore) *PackagingStep {
	return &PackagingStep{objects: objects}
}

func (s *PackagingStep) Name() string { return pipeline.StagePackaging }

func (s *PackagingStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	if pctx.Artifacts.ZipPath != "" {
		return pipeline.Success(models.Artifacts{})
	}

	if err := os.MkdirAll(pctx.WorkDir, 0o755); err != nil {
		return pipeline.WrapError(pipeline.ErrCodePackaging, "failed to create work directory", err)
	}

	zipPath := filepath.Join(pctx.WorkDir, "bundle.zip")
	if err := s.writeBundle(zipPath, pctx); err != nil {
		return pipeline.WrapError(pipeline.ErrCodePackaging, "failed to build bundle", err)
	}

	pctx.Heartbeat()
	key := fmt.Sprintf("jobs/%s/bundle.zip", pctx.Job.ID)
	ref, size, err := s.objects.Upload(ctx, zipPath, key)
	if err != nil {
		return pipeline.WrapError(pipeline.ErrCodePackaging, "bundle upload failed", err)
	}
	pctx.Costs.TrackStorageBytes("bundle_upload", size)

	if err := pctx.Store.PutArtifact(pctx.Job.ID, "bundle", ref); err != nil {
		pctx.Log.Warn("failed to record bundle artifact", map[string]interface{}{"error": err.Error()})
	}
	return pipeline.Success(models.Artifacts{ZipPath: zipPath})
}

// writeBundle creates the zip: manifest and script always, media files
// when they are readable on this host.
func (s *PackagingStep) writeBundle(zipPath string, pctx *pipeline.Context) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	manifest := bundleManifest{
		JobID:               pctx.Job.ID,
		ProjectID:           pctx.Project.ID,
		Topic:               pctx.Project.Topic,
		NarrationDurationMs: pctx.Artifacts.NarrationDurationMs,
	}

	media := map[string]string{
		"video.mp4":     pctx.Artifacts.VideoPath,
		"thumbnail.jpg": pctx.Artifacts.ThumbnailPath,
	}
	for name, path := range media {
		if path == "" {
			continue
		}
		if err := addFile(zw, name, path); err != nil {
			manifest.MissingFiles = append(manifest.MissingFiles, name)
			continue
		}
		manifest.Files = append(manifest.Files, name)
	}

	sw, err := zw.Create("script.txt")
	if err != nil {
		return err
	}
	if _, err := sw.Write([]byte(pctx.Artifacts.Script)); err != nil {
		return err
	}
	manifest.Files = append(manifest.Files, "script.txt")

	mw, err := zw.Create("manifest.json")
	if err != nil {
		return err
	}
	if err := json.NewEncoder(mw).Encode(manifest); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addFile(zw *zip.Writer, name, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// NotifyStep tells the user their video is ready. Best-effort from the
// runner's point of view.
type NotifyStep struct {
	notifier clients.Notifier
}

func NewNotifyStep(notifier clients.Notifier) *NotifyStep {
	return &NotifyStep{notifier: notifier}
}

func (s *NotifyStep) Name() string { return pipeline.StageNotify }

func (s *NotifyStep) Run(ctx context.Context, pctx *pipeline.Context) pipeline.StepResult {
	ref, err := pctx.Store.GetArtifact(pctx.Job.ID, "bundle")
	if err != nil || ref == "" {
		ref = pctx.Artifacts.VideoPath
	}
	if err := s.notifier.NotifyReady(ctx, pctx.Job.UserID, pctx.Job.ID, ref); err != nil {
		return pipeline.WrapError(pipeline.ErrCodeNotify, "notification failed", err)
	}
	return pipeline.Success(models.Artifacts{})
}
