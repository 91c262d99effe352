package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/fingerprint"
	"github.com/angelmondragon/ledgermatch-backend/pkg/lock"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/storage"
	"github.com/angelmondragon/ledgermatch-backend/pkg/tabular"
)

const (
	defaultPreviewRows = 20
	defaultLockTTL     = 30 * time.Second
)

// Dispatcher hands a PROCESSING job to the ingestion pipeline without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) error
}

// Service accepts uploads and decides whether a mapped upload is ingested or aliased.
type Service interface {
	Upload(ctx context.Context, input UploadInput, actor *uuid.UUID) (*UploadResult, error)
	SubmitMapping(ctx context.Context, jobID uuid.UUID, mapping map[string]string, actor *uuid.UUID) (*MappingResult, error)
	Get(ctx context.Context, jobID uuid.UUID) (*JobView, error)
	List(ctx context.Context, filter ListFilter) ([]JobView, error)
}

// ServiceParams groups the collaborators of the upload service.
type ServiceParams struct {
	Repo           Repository
	Store          storage.FileStore
	Locker         lock.Locker
	Dispatcher     Dispatcher
	Logger         *logger.Logger
	MaxUploadBytes int64
	PreviewRows    int
	LockTTL        time.Duration
}

type service struct {
	repo        Repository
	store       storage.FileStore
	locker      lock.Locker
	dispatcher  Dispatcher
	logg        *logger.Logger
	maxBytes    int64
	previewRows int
	lockTTL     time.Duration
}

// UploadInput is a received file. Body is read once.
type UploadInput struct {
	FileName string
	Body     io.Reader
}

// UploadResult is returned to the client so it can build a mapping.
type UploadResult struct {
	JobID    uuid.UUID             `json:"jobId"`
	FileName string                `json:"fileName"`
	FileHash string                `json:"fileHash"`
	Status   enums.UploadJobStatus `json:"status"`
	Headers  []string              `json:"headers"`
	Preview  []map[string]string   `json:"previewRows"`
}

// MappingResult reports whether the job was aliased to a prior completed job.
type MappingResult struct {
	JobID           uuid.UUID             `json:"jobId"`
	Status          enums.UploadJobStatus `json:"status"`
	Reused          bool                  `json:"reused"`
	ReusedFromJobID *uuid.UUID            `json:"reusedFromJobId,omitempty"`
}

// JobView is the API shape of an upload job.
type JobView struct {
	ID               uuid.UUID             `json:"id"`
	OriginalFileName string                `json:"originalFileName"`
	Status           enums.UploadJobStatus `json:"status"`
	FileHash         string                `json:"fileHash"`
	MappingHash      *string               `json:"mappingHash,omitempty"`
	Mapping          map[string]string     `json:"mapping,omitempty"`
	Headers          []string              `json:"headers"`
	ReusedFromJobID  *uuid.UUID            `json:"reusedFromJobId,omitempty"`
	EffectiveJobID   uuid.UUID             `json:"effectiveJobId"`
	UploadedBy       *uuid.UUID            `json:"uploadedBy,omitempty"`
	FailureReason    *string               `json:"failureReason,omitempty"`
	RowsTotal        int                   `json:"rowsTotal"`
	RowsIngested     int                   `json:"rowsIngested"`
	RowsSkipped      int                   `json:"rowsSkipped"`
	CreatedAt        time.Time             `json:"createdAt"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
}

// NewService builds an upload service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("upload repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("file store required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	preview := params.PreviewRows
	if preview <= 0 || preview > defaultPreviewRows {
		preview = defaultPreviewRows
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &service{
		repo:        params.Repo,
		store:       params.Store,
		locker:      params.Locker,
		dispatcher:  params.Dispatcher,
		logg:        logg,
		maxBytes:    params.MaxUploadBytes,
		previewRows: preview,
		lockTTL:     ttl,
	}, nil
}

func (s *service) Upload(ctx context.Context, input UploadInput, actor *uuid.UUID) (*UploadResult, error) {
	name := strings.TrimSpace(input.FileName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if input.Body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is required")
	}
	format, err := tabular.FormatFor(name)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only .csv and .xlsx files are supported")
	}

	body := input.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	headers, preview, err := tabular.Preview(bytes.NewReader(data), format, s.previewRows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "file could not be parsed")
	}

	job := &models.UploadJob{
		ID:               uuid.New(),
		OriginalFileName: name,
		FileHash:         fingerprint.Bytes(data),
		Headers:          headers,
		Status:           enums.UploadJobStatusUploaded,
		UploadedBy:       actor,
	}
	job.StorageKey = storage.UploadKey(job.ID, name)

	ctx = s.logg.WithJobID(ctx, job.ID.String())
	if err := s.store.Put(ctx, job.StorageKey, bytes.NewReader(data), contentType(format)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store upload")
	}
	if err := s.repo.Create(ctx, job); err != nil {
		if delErr := s.store.Delete(ctx, job.StorageKey); delErr != nil {
			s.logg.Error(ctx, "failed to remove orphaned upload", delErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create upload job")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"file_name": name,
		"file_hash": job.FileHash,
		"headers":   len(headers),
	}), "upload stored")

	return &UploadResult{
		JobID:    job.ID,
		FileName: name,
		FileHash: job.FileHash,
		Status:   job.Status,
		Headers:  headers,
		Preview:  preview,
	}, nil
}

func (s *service) SubmitMapping(ctx context.Context, jobID uuid.UUID, raw map[string]string, actor *uuid.UUID) (*MappingResult, error) {
	ctx = s.logg.WithJobID(ctx, jobID.String())

	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireUploaded(job); err != nil {
		return nil, err
	}

	mapping, err := NormalizeMapping(raw, job.Headers)
	if err != nil {
		var mErr *MappingError
		if errors.As(err, &mErr) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid mapping").WithDetails(mErr.Problems)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mapping")
	}
	mappingHash, err := fingerprint.Mapping(mapping)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fingerprint mapping")
	}

	release, err := s.locker.Obtain(ctx, job.FileHash+":"+mappingHash, s.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an identical upload is being submitted; retry shortly")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "obtain fingerprint lock")
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Warn(ctx, "failed to release fingerprint lock: "+relErr.Error())
		}
	}()

	// Re-read under the lock: a concurrent submission for this same job may have won.
	job, err = s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireUploaded(job); err != nil {
		return nil, err
	}

	source, err := s.repo.FindReuseSource(ctx, job.FileHash, mappingHash, job.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up prior upload")
	}
	if source != nil {
		ok, err := s.repo.MarkReused(ctx, job.ID, mapping, mappingHash, source.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "alias upload job")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "upload job is no longer awaiting a mapping")
		}
		s.logg.Info(s.logg.WithField(ctx, "reused_from_job_id", source.ID.String()), "upload aliased to completed job")
		sourceID := source.ID
		return &MappingResult{JobID: job.ID, Status: enums.UploadJobStatusCompleted, Reused: true, ReusedFromJobID: &sourceID}, nil
	}

	inflight, err := s.repo.FindProcessing(ctx, job.FileHash, mappingHash, job.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up in-flight upload")
	}
	if inflight != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an identical upload is still processing").
			WithDetails(map[string]string{"processingJobId": inflight.ID.String()})
	}

	ok, err := s.repo.MarkProcessing(ctx, job.ID, mapping, mappingHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start upload job")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "upload job is no longer awaiting a mapping")
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logg.Error(ctx, "failed to dispatch ingestion", err)
		if _, markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), job.ID, "dispatch failed: "+err.Error()); markErr != nil {
			s.logg.Error(ctx, "failed to mark undispatched job failed", markErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dispatch ingestion")
	}

	s.logg.Info(ctx, "upload dispatched for ingestion")
	return &MappingResult{JobID: job.ID, Status: enums.UploadJobStatusProcessing}, nil
}

func (s *service) Get(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := ViewOf(job)
	return &view, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]JobView, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list upload jobs")
	}
	views := make([]JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, ViewOf(&jobs[i]))
	}
	return views, nil
}

func (s *service) load(ctx context.Context, jobID uuid.UUID) (*models.UploadJob, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload job not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load upload job")
	}
	return job, nil
}

func requireUploaded(job *models.UploadJob) error {
	if job.Status == enums.UploadJobStatusUploaded {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("upload job is %s; a mapping can only be submitted once", job.Status))
}

// ViewOf converts a job row to its API shape.
func ViewOf(job *models.UploadJob) JobView {
	headers := job.Headers
	if headers == nil {
		headers = []string{}
	}
	return JobView{
		ID:               job.ID,
		OriginalFileName: job.OriginalFileName,
		Status:           job.Status,
		FileHash:         job.FileHash,
		MappingHash:      job.MappingHash,
		Mapping:          job.Mapping,
		Headers:          headers,
		ReusedFromJobID:  job.ReusedFromJobID,
		EffectiveJobID:   job.EffectiveID(),
		UploadedBy:       job.UploadedBy,
		FailureReason:    job.FailureReason,
		RowsTotal:        job.RowsTotal,
		RowsIngested:     job.RowsIngested,
		RowsSkipped:      job.RowsSkipped,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

func contentType(format tabular.Format) string {
	if format == tabular.FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}
