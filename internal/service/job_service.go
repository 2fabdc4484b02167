package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hydrowatch/hydrorisk-backend/internal/analysis"
	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/models"
	"github.com/hydrowatch/hydrorisk-backend/internal/repository"
	"github.com/hydrowatch/hydrorisk-backend/internal/spatial"
	"github.com/hydrowatch/hydrorisk-backend/internal/weather"
)

// AnalysisRunner executes one analysis request
type AnalysisRunner interface {
	Run(ctx context.Context, req analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error)
}

// SubmitRequest is the body of a new analysis job
type SubmitRequest struct {
	AOI spatial.AOIRequest `json:"aoi"`
	config.Overrides

	Weather       *weather.Context `json:"weather,omitempty"`
	Precipitation []weather.Sample `json:"precipitation,omitempty"`
	Scenarios     []float64        `json:"scenarios_mm_per_h,omitempty"`
}

// provider picks the weather source of the request; nil means the baseline.
func (r SubmitRequest) provider() weather.Provider {
	switch {
	case r.Weather != nil:
		c := *r.Weather
		if len(r.Scenarios) > 0 {
			c.ScenarioMMPerH = r.Scenarios
		}
		return weather.Fixed{C: c}
	case len(r.Precipitation) > 0:
		return weather.Series{Samples: r.Precipitation, Scenarios: r.Scenarios}
	case len(r.Scenarios) > 0:
		c := weather.Baseline()
		c.ScenarioMMPerH = r.Scenarios
		return weather.Fixed{C: c}
	}
	return nil
}

type queuedJob struct {
	id  string
	ctx context.Context
	req analysis.Request
}

// JobService handles analysis job business logic. Jobs are executed by a
// fixed pool of workers fed from a bounded queue.
type JobService struct {
	repo   repository.JobRepository
	runner AnalysisRunner
	base   config.Pipeline
	broker *Broker
	logger *zap.Logger

	queue   chan queuedJob
	root    context.Context
	stop    context.CancelFunc
	group   *errgroup.Group
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewJobService creates a job service. queueSize bounds the number of
// accepted jobs that wait for a worker.
func NewJobService(repo repository.JobRepository, runner AnalysisRunner, base config.Pipeline, broker *Broker, queueSize int, logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broker == nil {
		broker = NewBroker()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	root, stop := context.WithCancel(context.Background())
	return &JobService{
		repo:    repo,
		runner:  runner,
		base:    base,
		broker:  broker,
		logger:  logger.With(zap.String("component", "jobs")),
		queue:   make(chan queuedJob, queueSize),
		root:    root,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Broker returns the progress broker of the service.
func (s *JobService) Broker() *Broker { return s.broker }

// Start launches the worker pool.
func (s *JobService) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(s.root)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case q := <-s.queue:
					s.execute(q)
				}
			}
		})
	}
	s.group = g
	s.logger.Info("job workers started", zap.Int("workers", workers))
}

// Close cancels running jobs, waits for the workers and marks jobs still
// waiting in the queue as cancelled.
func (s *JobService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	var err error
	if s.group != nil {
		err = s.group.Wait()
	}
	for {
		select {
		case q := <-s.queue:
			s.finish(q.ctx, q.id, nil, context.Canceled)
		default:
			return err
		}
	}
}

// Submit validates the request, stores a pending job and enqueues it.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest, createdBy string) (*models.AnalysisJob, error) {
	aoi, err := spatial.ParseAOI(req.AOI)
	if err != nil {
		return nil, err
	}
	p := s.base.WithOverrides(req.Overrides)
	if _, err := analysis.GetAnalyzer(p.Kind); err != nil {
		return nil, err
	}
	switch p.SourceMode {
	case config.SourceWCS, config.SourceCatalog, config.SourceFile:
	default:
		return nil, apperr.Ef(apperr.InvalidRequest, "unknown DEM source %q", p.SourceMode)
	}

	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize params: %w", err)
	}
	job := &models.AnalysisJob{
		ID:         uuid.NewString(),
		Kind:       p.Kind,
		SourceMode: p.SourceMode,
		Status:     models.JobStatusPending,
		Message:    "Warteschlange",
		ParamsJSON: string(params),
		CreatedBy:  createdBy,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperr.E(apperr.Unavailable, "job service is shutting down", nil)
	}
	if len(s.queue) == cap(s.queue) {
		return nil, apperr.E(apperr.Unavailable, "job queue is full", nil)
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(s.root)
	s.cancels[job.ID] = cancel
	s.queue <- queuedJob{
		id:  job.ID,
		ctx: jobCtx,
		req: analysis.Request{JobID: job.ID, AOI: aoi, Pipeline: p, Weather: req.provider()},
	}
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("kind", p.Kind),
		zap.String("dem_source", p.SourceMode))
	return job, nil
}

// execute runs one queued job on the calling worker.
func (s *JobService) execute(q queuedJob) {
	if err := q.ctx.Err(); err != nil {
		s.finish(q.ctx, q.id, nil, err)
		return
	}
	persist := context.WithoutCancel(q.ctx)
	job, err := s.repo.GetByID(persist, q.id)
	if err != nil {
		s.logger.Error("job vanished before start", zap.String("job_id", q.id), zap.Error(err))
		s.forget(q.id)
		return
	}
	if job.Terminal() {
		s.forget(q.id)
		return
	}
	job.Status = models.JobStatusRunning
	job.StartTime = time.Now().Unix()
	if err := s.repo.Update(persist, job); err != nil {
		s.logger.Warn("failed to mark job running", zap.String("job_id", q.id), zap.Error(err))
	}

	start := time.Now()
	res, runErr := s.runner.Run(q.ctx, q.req, func(p analysis.Progress) {
		ev := models.JobProgress{
			JobID:   q.id,
			Stage:   p.Stage,
			Step:    p.Step,
			Total:   p.Total,
			Percent: p.Percent(),
			Message: p.Message,
		}
		s.broker.Publish(q.id, ev)
		if err := s.repo.UpdateProgress(persist, q.id, ev); err != nil {
			s.logger.Warn("failed to persist progress", zap.String("job_id", q.id), zap.Error(err))
		}
	})
	s.logger.Info("job finished",
		zap.String("job_id", q.id),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(runErr))
	s.finish(q.ctx, q.id, res, runErr)
}

// finish stores the terminal state of a job and closes its event stream.
func (s *JobService) finish(ctx context.Context, id string, res *analysis.Result, runErr error) {
	defer s.forget(id)
	persist := context.WithoutCancel(ctx)
	job, err := s.repo.GetByID(persist, id)
	if err != nil {
		s.logger.Error("failed to load job", zap.String("job_id", id), zap.Error(err))
		return
	}

	job.EndTime = time.Now().Unix()
	switch {
	case runErr == nil:
		body, err := json.Marshal(res)
		if err != nil {
			runErr = fmt.Errorf("failed to serialize result: %w", err)
			break
		}
		job.Status = models.JobStatusCompleted
		job.ProgressPercent = 100
		job.Message = "Analyse abgeschlossen"
		job.ResultJSON = string(body)
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		job.Status = models.JobStatusCancelled
		job.Message = "Analyse abgebrochen"
	}
	if runErr != nil && job.Status != models.JobStatusCancelled {
		job.Status = models.JobStatusFailed
		job.ErrorKind = string(apperr.KindOf(runErr))
		job.ErrorMessage = apperr.Detail(runErr)
		job.Message = "Analyse fehlgeschlagen"
		job.ResultJSON = ""
	}
	if err := s.repo.Update(persist, job); err != nil {
		s.logger.Error("failed to store job result", zap.String("job_id", id), zap.Error(err))
	}
	s.broker.Finish(id, models.JobProgress{
		JobID:   id,
		Stage:   job.Stage,
		Percent: job.ProgressPercent,
		Message: job.Message,
		Status:  job.Status,
	})
}

func (s *JobService) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

// Cancel stops a pending or running job.
func (s *JobService) Cancel(ctx context.Context, id string) (*models.AnalysisJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, apperr.Ef(apperr.Conflict, "job is already %s", job.Status)
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	if job.Status == models.JobStatusPending {
		job.Status = models.JobStatusCancelled
		job.Message = "Analyse abgebrochen"
		job.EndTime = time.Now().Unix()
		if err := s.repo.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to cancel job: %w", err)
		}
	}
	s.logger.Info("job cancel requested", zap.String("job_id", id), zap.String("status", job.Status))
	return job, nil
}

// Get returns a job by ID
func (s *JobService) Get(ctx context.Context, id string) (*models.AnalysisJob, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns jobs filtered by kind and status
func (s *JobService) List(ctx context.Context, kind, status string, limit, offset int) ([]*models.AnalysisJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, kind, status, limit, offset)
}

// Result returns the stored result document of a completed job.
func (s *JobService) Result(ctx context.Context, id string) (json.RawMessage, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case models.JobStatusCompleted:
		return json.RawMessage(job.ResultJSON), nil
	case models.JobStatusFailed:
		return nil, &apperr.Error{Kind: apperr.Kind(job.ErrorKind), Detail: job.ErrorMessage}
	}
	return nil, apperr.Ef(apperr.Conflict, "job is %s", job.Status)
}

// Subscribe returns the progress stream of a job. For jobs that already
// finished the stream holds only the final event.
func (s *JobService) Subscribe(ctx context.Context, id string) (<-chan models.JobProgress, func(), error) {
	// subscribe before reading the job so the final event cannot slip
	// between the two
	ch, cancel := s.broker.Subscribe(id)
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if !job.Terminal() {
		return ch, cancel, nil
	}
	cancel()
	done := make(chan models.JobProgress, 1)
	done <- models.JobProgress{JobID: id, Stage: job.Stage, Percent: job.ProgressPercent, Message: job.Message, Status: job.Status}
	close(done)
	return done, func() {}, nil
}
