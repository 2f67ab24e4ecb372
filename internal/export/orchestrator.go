// Package export drives one bulk-export job from admission to a terminal
// state: select matching photos, write the manifest, download in batches,
// zip, deliver to the owner's Drive and optionally notify by email.
package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/drive"
	"github.com/retina/retina-export-back/internal/mail"
	"github.com/retina/retina-export-back/internal/objstore"
	"github.com/retina/retina-export-back/internal/repository"
)

// ErrNoMatchingPhotos ends a job as failed with a user-readable message,
// distinct from a system fault.
var ErrNoMatchingPhotos = errors.New("no photos found for the selected criteria")

// errCancelled routes a cooperative cancellation to the completion handler.
var errCancelled = errors.New("job cancelled")

// downloadBatchSize bounds concurrent transfers within one job.
const downloadBatchSize = 5

type Orchestrator struct {
	jobs     repository.JobsRepository
	photos   repository.PhotosRepository
	users    repository.UsersRepository
	store    objstore.ObjectStore
	uploader drive.Uploader
	mailer   mail.Sender
	logger   *log.Logger
	workRoot string
}

type Dependencies struct {
	Jobs     repository.JobsRepository
	Photos   repository.PhotosRepository
	Users    repository.UsersRepository
	Store    objstore.ObjectStore
	Uploader drive.Uploader
	Mailer   mail.Sender
	Logger   *log.Logger
	WorkRoot string
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	workRoot := deps.WorkRoot
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "retina-exports")
	}
	return &Orchestrator{
		jobs:     deps.Jobs,
		photos:   deps.Photos,
		users:    deps.Users,
		store:    deps.Store,
		uploader: deps.Uploader,
		mailer:   deps.Mailer,
		logger:   deps.Logger,
		workRoot: workRoot,
	}
}

// Run drives one processing job to a terminal state. It never returns an
// error: every failure is recorded on the job, and the completion handler
// runs exactly once no matter which stage broke. Queue advancement is the
// caller's responsibility once Run returns.
func (o *Orchestrator) Run(ctx context.Context, job *domain.ExportJob) {
	resultRef, err := o.runPipeline(ctx, job)

	status := domain.JobStatusCompleted
	detail := ""
	switch {
	case errors.Is(err, errCancelled):
		status = domain.JobStatusCancelled
	case err != nil:
		status = domain.JobStatusFailed
		detail = err.Error()
		o.logf("export job failed job_id=%d: %v", job.ID, err)
	}

	if finishErr := o.jobs.Finish(ctx, job.ID, status, resultRef, detail); finishErr != nil {
		o.logf("failed to record terminal state job_id=%d: %v", job.ID, finishErr)
	}
}

func (o *Orchestrator) runPipeline(ctx context.Context, job *domain.ExportJob) (resultRef string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("export pipeline panic: %v", r)
		}
	}()

	progress, err := o.jobs.GetProgress(ctx, job.ID)
	if err != nil {
		return "", fmt.Errorf("load progress: %w", err)
	}
	request, err := ParseRequest(progress.RequestJSON)
	if err != nil {
		return "", fmt.Errorf("decode export request: %w", err)
	}

	if err := o.jobs.UpdateStage(ctx, job.ID, domain.StageStarting); err != nil {
		return "", fmt.Errorf("enter starting stage: %w", err)
	}

	filter, err := Filter(request)
	if err != nil {
		return "", err
	}
	photos, err := o.photos.FindPhotos(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("select photos: %w", err)
	}
	o.logf("export job_id=%d matched %d photos", job.ID, len(photos))
	if len(photos) == 0 {
		return "", ErrNoMatchingPhotos
	}

	if err := o.jobs.SetTotalItems(ctx, job.ID, len(photos)); err != nil {
		return "", fmt.Errorf("record total items: %w", err)
	}
	if err := o.jobs.UpdateStage(ctx, job.ID, domain.StageProcessing); err != nil {
		return "", fmt.Errorf("enter processing stage: %w", err)
	}

	workDir := filepath.Join(o.workRoot, fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	archiveName := fmt.Sprintf("retina-photos-%d.zip", time.Now().UnixMilli())
	archivePath := filepath.Join(o.workRoot, archiveName)
	defer func() {
		// The working directory and archive never survive a terminal
		// state, whichever one it is.
		os.RemoveAll(workDir)
		os.Remove(archivePath)
	}()

	if err := WriteManifest(filepath.Join(workDir, ManifestFilename), photos); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	if err := o.downloadAll(ctx, job.ID, photos, workDir); err != nil {
		return "", err
	}

	// Last cancellation point: once zipping starts the archive is
	// committed and runs through delivery.
	if cancelled, err := o.jobCancelled(ctx, job.ID); err != nil {
		return "", err
	} else if cancelled {
		return "", errCancelled
	}

	if err := o.jobs.UpdateStage(ctx, job.ID, domain.StageZipping); err != nil {
		return "", fmt.Errorf("enter zipping stage: %w", err)
	}
	if err := ZipDirectory(workDir, archivePath); err != nil {
		return "", err
	}
	if err := o.jobs.UpdateStage(ctx, job.ID, domain.StageZippingCompleted); err != nil {
		return "", fmt.Errorf("leave zipping stage: %w", err)
	}

	owner, err := o.users.GetByID(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("load job owner: %w", err)
	}

	if err := o.jobs.UpdateStage(ctx, job.ID, domain.StageUploadingToDrive); err != nil {
		return "", fmt.Errorf("enter upload stage: %w", err)
	}
	uploaded, err := o.uploader.UploadFile(ctx, archivePath, archiveName, drive.Credentials{
		AccessToken:  owner.AccessToken,
		RefreshToken: owner.RefreshToken,
	}, func(tokenCtx context.Context, accessToken, refreshToken string) {
		if updateErr := o.users.UpdateTokens(tokenCtx, owner.ID, accessToken, refreshToken); updateErr != nil {
			o.logf("failed to persist refreshed tokens user_id=%d: %v", owner.ID, updateErr)
		}
	})
	if err != nil {
		return "", err
	}
	if err := o.jobs.UpdateStage(ctx, job.ID, domain.StageDriveUploaded); err != nil {
		return "", fmt.Errorf("leave upload stage: %w", err)
	}
	o.logf("export job_id=%d uploaded to drive file_id=%s", job.ID, uploaded.FileID)

	if request.SendEmail {
		o.notify(ctx, job.ID, owner, len(photos), archiveName, uploaded.ViewLink)
	}

	return uploaded.ViewLink, nil
}

// downloadAll pulls matched photos in fixed-size batches. A single photo's
// failure is logged and skipped; cancellation is polled once per batch.
func (o *Orchestrator) downloadAll(ctx context.Context, jobID int64, photos []domain.Photo, workDir string) error {
	for start := 0; start < len(photos); start += downloadBatchSize {
		end := start + downloadBatchSize
		if end > len(photos) {
			end = len(photos)
		}

		var wg sync.WaitGroup
		for _, photo := range photos[start:end] {
			wg.Add(1)
			go func(photo domain.Photo) {
				defer wg.Done()
				dest := filepath.Join(
					workDir,
					photo.Store.Area,
					photo.Store.Region,
					photo.Store.City,
					filepath.Base(strings.TrimSuffix(photo.ObjectKey, "/")),
				)
				if err := o.store.Download(ctx, photo.ObjectKey, dest); err != nil {
					o.logf("photo download failed job_id=%d key=%s: %v", jobID, photo.ObjectKey, err)
				}
			}(photo)
		}
		wg.Wait()

		if err := o.jobs.SetProcessedItems(ctx, jobID, end); err != nil {
			return fmt.Errorf("record processed items: %w", err)
		}

		cancelled, err := o.jobCancelled(ctx, jobID)
		if err != nil {
			return err
		}
		if cancelled {
			o.logf("export job_id=%d cancelled, stopping downloads", jobID)
			return errCancelled
		}
	}
	return nil
}

func (o *Orchestrator) jobCancelled(ctx context.Context, jobID int64) (bool, error) {
	current, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("poll job status: %w", err)
	}
	return current.Status == domain.JobStatusCancelled, nil
}

// notify emails the share link. Delivery problems are logged only: the
// archive is already in the owner's Drive, so the job still completes.
func (o *Orchestrator) notify(ctx context.Context, jobID int64, owner *domain.User, total int, archiveName, link string) {
	if err := o.jobs.UpdateStage(ctx, jobID, domain.StageSendingEmail); err != nil {
		o.logf("failed to enter email stage job_id=%d: %v", jobID, err)
		return
	}

	message := mail.Message{
		To:       owner.Email,
		Subject:  "Your Retina Photo Export is Ready",
		HTMLBody: notificationHTML(owner.Name, total, archiveName, link),
		TextBody: notificationText(owner.Name, total, archiveName, link),
	}
	if err := o.mailer.Send(ctx, message); err != nil {
		o.logf("notification email failed job_id=%d: %v", jobID, err)
		return
	}

	if err := o.jobs.UpdateStage(ctx, jobID, domain.StageEmailSent); err != nil {
		o.logf("failed to record email stage job_id=%d: %v", jobID, err)
	}
}

func notificationHTML(name string, total int, archiveName, link string) string {
	return fmt.Sprintf(`<h2>Your Retina Photo Export is Complete</h2>
<p>Hello %s,</p>
<p>Your requested photo export has been processed successfully.</p>
<ul>
	<li>Total files: %d</li>
	<li>Archive name: %s</li>
</ul>
<p>The archive has been uploaded to your Google Drive and is ready for download.</p>
<p><a href="%s">Open in Google Drive</a></p>
<p><em>The file will remain in your Google Drive until you delete it.</em></p>`,
		name, total, archiveName, link)
}

func notificationText(name string, total int, archiveName, link string) string {
	return fmt.Sprintf(
		"Your Retina Photo Export is Complete\n\nHello %s,\n\nTotal files: %d\nArchive name: %s\n\nThe archive has been uploaded to your Google Drive: %s\n",
		name, total, archiveName, link)
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}
