package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/session"
	"github.com/IshaanNene/phonegoat/internal/settings"
	"github.com/IshaanNene/phonegoat/internal/types"
)

var errRunActive = errors.New("a run is already in progress")

// Runner executes one end-to-end pass.
type Runner interface {
	Run(ctx context.Context, opts session.Options) (*session.Report, error)
}

// Settings is the settings surface exposed over HTTP.
type Settings interface {
	Current(ctx context.Context) (*settings.View, error)
	SetRegion(ctx context.Context, r types.Region) error
	SetRooms(ctx context.Context, rooms []int) error
	SetFloors(ctx context.Context, minFloors, maxFloors []int) error
	SetPrices(ctx context.Context, minPrice, maxPrice *int64) error
	SetAuthorTypes(ctx context.Context, cats []types.AuthorCategory) error
	SetAutoParse(ctx context.Context, enabled bool) error
	AutoParseEnabled(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunNoListings RunStatus = "no_listings"
	RunFailed     RunStatus = "failed"
)

// RunSummary is the part of a session report exposed over HTTP.
type RunSummary struct {
	Processed  int    `json:"processed"`
	Resolved   int    `json:"resolved"`
	APICalls   int    `json:"api_calls"`
	Total      int    `json:"total"`
	Success    int    `json:"success"`
	Elapsed    string `json:"elapsed"`
	ReportPath string `json:"report_path"`
}

// Run tracks one triggered pass.
type Run struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	Status     RunStatus       `json:"status"`
	Options    session.Options `json:"options"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    *RunSummary     `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Server provides the HTTP control surface: settings, runs and metrics.
type Server struct {
	router   *mux.Router
	cfg      config.APIConfig
	runner   Runner
	settings Settings
	metrics  http.Handler
	logger   *slog.Logger

	baseCtx context.Context
	wg      sync.WaitGroup

	runsMu sync.RWMutex
	runs   map[string]*Run
	active string
}

// NewServer creates a server. metrics may be nil.
func NewServer(cfg config.APIConfig, runner Runner, st Settings, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      cfg,
		runner:   runner,
		settings: st,
		metrics:  metrics,
		logger:   logger.With("component", "api_server"),
		baseCtx:  context.Background(),
		runs:     make(map[string]*Run),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on the configured port and runs the scheduler until ctx is
// cancelled, then shuts down and waits for the active run to stop.
func (s *Server) Serve(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.ScheduleInterval > 0 {
		go s.schedule(ctx, s.cfg.ScheduleInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.wg.Wait()
	return err
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	st := s.router.PathPrefix("/settings").Subrouter()
	st.HandleFunc("", s.handleGetSettings).Methods(http.MethodGet)
	st.HandleFunc("/region", s.handleSetRegion).Methods(http.MethodPut)
	st.HandleFunc("/rooms", s.handleSetRooms).Methods(http.MethodPut)
	st.HandleFunc("/floors", s.handleSetFloors).Methods(http.MethodPut)
	st.HandleFunc("/prices", s.handleSetPrices).Methods(http.MethodPut)
	st.HandleFunc("/authors", s.handleSetAuthors).Methods(http.MethodPut)
	st.HandleFunc("/autoparse", s.handleSetAutoParse).Methods(http.MethodPut)
	st.HandleFunc("/reset", s.handleResetSettings).Methods(http.MethodPost)

	s.router.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	s.router.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	view, err := s.settings.Current(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleSetRegion(w http.ResponseWriter, r *http.Request) {
	var body types.Region
	if !s.decode(w, r, &body) {
		return
	}
	s.applySetting(w, r, s.settings.SetRegion(r.Context(), body))
}

func (s *Server) handleSetRooms(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rooms []int `json:"rooms"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.applySetting(w, r, s.settings.SetRooms(r.Context(), body.Rooms))
}

func (s *Server) handleSetFloors(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MinFloor []int `json:"min_floor"`
		MaxFloor []int `json:"max_floor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.applySetting(w, r, s.settings.SetFloors(r.Context(), body.MinFloor, body.MaxFloor))
}

func (s *Server) handleSetPrices(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MinPrice *int64 `json:"min_price"`
		MaxPrice *int64 `json:"max_price"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.applySetting(w, r, s.settings.SetPrices(r.Context(), body.MinPrice, body.MaxPrice))
}

func (s *Server) handleSetAuthors(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthorTypes []types.AuthorCategory `json:"author_types"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.applySetting(w, r, s.settings.SetAuthorTypes(r.Context(), body.AuthorTypes))
}

func (s *Server) handleSetAutoParse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.applySetting(w, r, s.settings.SetAutoParse(r.Context(), body.Enabled))
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	s.applySetting(w, r, s.settings.Reset(r.Context()))
}

// applySetting answers a settings write with the resulting settings.
func (s *Server) applySetting(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.handleGetSettings(w, r)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var opts session.Options
	if r.ContentLength != 0 && !s.decode(w, r, &opts) {
		return
	}
	run, err := s.startRun("api", opts)
	if err != nil {
		s.jsonResponse(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.runsMu.RLock()
	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	s.runsMu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	s.jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.runsMu.RLock()
	run, ok := s.runs[id]
	var snapshot Run
	if ok {
		snapshot = *run
	}
	s.runsMu.RUnlock()

	if !ok {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	s.jsonResponse(w, http.StatusOK, snapshot)
}

// startRun launches a run in the background unless one is active.
func (s *Server) startRun(trigger string, opts session.Options) (Run, error) {
	s.runsMu.Lock()
	if s.active != "" {
		s.runsMu.Unlock()
		return Run{}, errRunActive
	}
	run := &Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    RunRunning,
		Options:   opts,
		StartedAt: time.Now(),
	}
	s.runs[run.ID] = run
	s.active = run.ID
	snapshot := *run
	s.runsMu.Unlock()

	s.logger.Info("run started", "run_id", run.ID, "trigger", trigger)
	s.wg.Add(1)
	go s.execute(run.ID, opts)
	return snapshot, nil
}

func (s *Server) execute(id string, opts session.Options) {
	defer s.wg.Done()

	rep, err := s.runner.Run(s.baseCtx, opts)
	finished := time.Now()

	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	run := s.runs[id]
	run.FinishedAt = &finished
	s.active = ""

	switch {
	case errors.Is(err, types.ErrNoListings):
		run.Status = RunNoListings
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
		s.logger.Error("run failed", "run_id", id, "error", err)
		return
	default:
		run.Status = RunCompleted
	}
	if rep != nil {
		run.Summary = &RunSummary{
			Processed:  rep.Processed,
			Resolved:   rep.Resolved,
			APICalls:   rep.APICalls,
			Total:      rep.Total,
			Success:    rep.Success,
			Elapsed:    rep.Elapsed.Round(time.Second).String(),
			ReportPath: rep.Path,
		}
	}
	s.logger.Info("run finished", "run_id", id, "status", run.Status)
}

// schedule triggers a run every interval while auto parsing is enabled.
func (s *Server) schedule(ctx context.Context, interval time.Duration) {
	s.logger.Info("scheduler started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Server) tick(ctx context.Context) {
	enabled, err := s.settings.AutoParseEnabled(ctx)
	if err != nil {
		s.logger.Error("read auto parse setting", "error", err)
		return
	}
	if !enabled {
		return
	}
	if _, err := s.startRun("schedule", session.Options{}); err != nil {
		s.logger.Info("scheduled run skipped", "reason", err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	var se *types.SettingsError
	if errors.As(err, &se) {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error("request failed", "error", err)
	s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
