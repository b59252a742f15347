package ingest

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/events"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
)

// defaultTick is how often the scheduling loop checks for due jobs.
const defaultTick = time.Minute

// Run outcomes recorded per job.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Transform reshapes a downloaded feed file and returns the path the
// loader should read, which may be a new file next to the original.
type Transform func(path string) (string, error)

// Job describes one bulk dataset feed.
type Job struct {
	Name        string
	Cron        string
	SourceURL   string
	TargetTable string
	// Transform runs between download and load, e.g. extracting a
	// zipped export. Nil means the download is loaded as is.
	Transform Transform
	// ExpectedSHA256, when set, pins the feed file contents.
	ExpectedSHA256 string
}

// Result records the outcome of one job run.
type Result struct {
	Job         string    `json:"job"`
	Status      string    `json:"status"`
	Rows        int64     `json:"rows,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Status is the schedule view of one job, as surfaced by the jobs CLI
// and the pipeline status tool.
type Status struct {
	Name       string    `json:"name"`
	Cron       string    `json:"cron"`
	Table      string    `json:"table"`
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"last_run,omitzero"`
	NextRun    time.Time `json:"next_run,omitzero"`
	LastResult *Result   `json:"last_result,omitempty"`
}

type jobState struct {
	job      Job
	schedule cron.Schedule

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	nextRun    time.Time
	lastResult *Result
}

func (st *jobState) status() Status {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Status{
		Name:       st.job.Name,
		Cron:       st.job.Cron,
		Table:      st.job.TargetTable,
		Running:    st.running,
		LastRun:    st.lastRun,
		NextRun:    st.nextRun,
		LastResult: st.lastResult,
	}
}

// BuiltinJobs returns the feeds the gateway keeps loaded by default.
func BuiltinJobs() []Job {
	return []Job{
		{
			Name:        "entities_stock",
			Cron:        "0 3 1 * *",
			SourceURL:   "https://files.data.gouv.fr/insee-sirene/StockUniteLegale_utf8.zip",
			TargetTable: analytic.TableEntities,
			Transform:   UnzipCSV,
		},
		{
			Name:        "events_stream",
			Cron:        "0 2 * * *",
			SourceURL:   "https://bodacc-datadila.opendatasoft.com/api/v2/catalog/datasets/annonces-commerciales/exports/csv",
			TargetTable: analytic.TableEvents,
		},
		{
			Name:        "contracts_feed",
			Cron:        "0 4 * * 1",
			SourceURL:   "https://data.economie.gouv.fr/api/datasets/1.0/decp_augmente/exports/csv",
			TargetTable: analytic.TableContracts,
		},
	}
}

// Scheduler runs ingest jobs on their cron schedules and on demand.
// Scheduled runs reuse feed files younger than the fresh window;
// forced runs always download.
type Scheduler struct {
	store      *analytic.Store
	broker     *events.Broker
	downloader *Downloader

	mu    sync.RWMutex
	jobs  map[string]*jobState
	order []string

	tick    time.Duration
	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	logger  zerolog.Logger
}

// New creates a scheduler over the analytic store with the built-in
// jobs registered. Loaded tables are announced on the broker.
func New(cfg config.IngestConfig, store *analytic.Store, broker *events.Broker) (*Scheduler, error) {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:      store,
		broker:     broker,
		downloader: NewDownloader(cfg.ScratchDir),
		jobs:       make(map[string]*jobState),
		tick:       defaultTick,
		baseCtx:    baseCtx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     log.WithComponent("ingest"),
	}
	for _, job := range BuiltinJobs() {
		if err := s.Register(job); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// Register adds a job to the schedule. The cron expression uses the
// standard five-field form.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("ingest job needs a name")
	}
	if !analytic.KnownTable(job.TargetTable) {
		return fmt.Errorf("ingest job %s targets unknown table %q", job.Name, job.TargetTable)
	}
	schedule, err := cron.ParseStandard(job.Cron)
	if err != nil {
		return fmt.Errorf("failed to parse cron %q for job %s: %w", job.Cron, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("ingest job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now()),
	}
	s.order = append(s.order, job.Name)
	return nil
}

// Start launches the scheduling loop. Call Stop to end it.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	s.logger.Info().Int("jobs", len(s.order)).Msg("Ingest scheduler started")
	go s.run()
}

// Stop ends the scheduling loop, aborts in-flight scheduled downloads
// and waits for running jobs to settle.
func (s *Scheduler) Stop() {
	if s.started {
		close(s.stopCh)
		<-s.doneCh
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Ingest scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatchDue()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) dispatchDue() {
	now := time.Now()

	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()

	for _, name := range names {
		s.mu.RLock()
		state := s.jobs[name]
		s.mu.RUnlock()

		state.mu.Lock()
		due := !state.running && !state.nextRun.IsZero() && !now.Before(state.nextRun)
		state.mu.Unlock()
		if !due {
			continue
		}

		s.wg.Add(1)
		go func(st *jobState) {
			defer s.wg.Done()
			s.execute(s.baseCtx, st, false)
		}(state)
	}
}

// RunJob triggers one job immediately and waits for its result. Force
// bypasses the fresh-file window.
func (s *Scheduler) RunJob(ctx context.Context, name string, force bool) (Result, error) {
	s.mu.RLock()
	state, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown ingest job %q", name)
	}
	return s.execute(ctx, state, force), nil
}

// ForceUpdateAll runs every registered job in order, always
// downloading. A failed job does not stop the rest.
func (s *Scheduler) ForceUpdateAll(ctx context.Context) []Result {
	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()

	results := make([]Result, 0, len(names))
	for _, name := range names {
		s.mu.RLock()
		state := s.jobs[name]
		s.mu.RUnlock()
		results = append(results, s.execute(ctx, state, true))
	}
	return results
}

// Jobs returns the status of every job in registration order.
func (s *Scheduler) Jobs() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.jobs[name].status())
	}
	return out
}

// JobStatus returns the status of one job.
func (s *Scheduler) JobStatus(name string) (Status, bool) {
	s.mu.RLock()
	state, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return state.status(), true
}

func (s *Scheduler) execute(ctx context.Context, state *jobState, force bool) Result {
	job := state.job
	logger := s.logger.With().Str("job", job.Name).Logger()

	state.mu.Lock()
	if state.running {
		state.mu.Unlock()
		logger.Warn().Msg("Ingest job already running, run skipped")
		return Result{Job: job.Name, Status: StatusSkipped, Error: "already running"}
	}
	state.running = true
	started := time.Now().UTC()
	state.lastRun = started
	state.mu.Unlock()

	logger.Info().Str("table", job.TargetTable).Bool("force", force).Msg("Ingest job started")
	rows, err := s.runPipeline(ctx, job, force)

	res := Result{Job: job.Name, StartedAt: started, CompletedAt: time.Now().UTC()}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		logger.Error().Err(err).Msg("Ingest job failed")
		s.broker.Publish(events.NewIngestFailed(job.Name, job.TargetTable, err.Error()))
	} else {
		res.Status = StatusSuccess
		res.Rows = rows
		logger.Info().
			Int64("rows", rows).
			Dur("took", res.CompletedAt.Sub(started)).
			Msg("Ingest job completed")
		metrics.IngestRowsLoaded.WithLabelValues(job.TargetTable).Set(float64(rows))
		s.broker.Publish(events.NewTableLoaded(job.TargetTable, rows, job.SourceURL))
	}
	metrics.IngestRunsTotal.WithLabelValues(job.Name, res.Status).Inc()

	state.mu.Lock()
	state.running = false
	state.nextRun = state.schedule.Next(time.Now())
	state.lastResult = &res
	state.mu.Unlock()
	return res
}

func (s *Scheduler) runPipeline(ctx context.Context, job Job, force bool) (int64, error) {
	filePath, err := s.downloader.Fetch(ctx, job.SourceURL, feedFilename(job), force)
	if err != nil {
		return 0, err
	}

	if job.ExpectedSHA256 != "" {
		if err := s.downloader.Verify(filePath, job.ExpectedSHA256); err != nil {
			return 0, err
		}
	}

	if job.Transform != nil {
		if filePath, err = job.Transform(filePath); err != nil {
			return 0, fmt.Errorf("failed to transform feed for %s: %w", job.Name, err)
		}
	}

	return s.store.LoadCSV(ctx, filePath, job.TargetTable, analytic.LoadMeta{SourceURL: job.SourceURL})
}

// feedFilename names the scratch file after the job, keeping the
// source extension so archives stay recognizable on disk.
func feedFilename(job Job) string {
	ext := ".csv"
	if u, err := url.Parse(job.SourceURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return job.Name + ext
}
