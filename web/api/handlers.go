package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
)

// CoverageResponse is the API response for one (language, task) pair
type CoverageResponse struct {
	Language    string  `json:"language"`
	Code        string  `json:"code"`
	Task        int     `json:"task"`
	Eligible    int     `json:"eligible"`
	Done        int     `json:"done"`
	Errors      int     `json:"errors"`
	Remaining   int     `json:"remaining"`
	Percent     float64 `json:"percent"`
	Artifact    string  `json:"artifact"`
	HasArtifact bool    `json:"has_artifact"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	DataDir   string `json:"data_dir"`
	Items     int    `json:"items"`
	ImageOnly int    `json:"image_only"`
	ImageText int    `json:"image_text"`
	Rejected  int    `json:"rejected"`
	Pairs     int    `json:"pairs"`
	Complete  int    `json:"pairs_complete"`
	Eligible  int    `json:"eligible"`
	Done      int    `json:"done"`
	Errors    int    `json:"errors"`
	OpenJobs  int    `json:"open_jobs"`
	Clients   int    `json:"event_clients"`
}

// RunResponse is the API response for a ledger run
type RunResponse struct {
	ID         string        `json:"id"`
	Language   string        `json:"language"`
	Task       int           `json:"task"`
	Mode       string        `json:"mode"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Status     string        `json:"status"`
	Pending    int           `json:"pending"`
	Resolved   int           `json:"resolved"`
	Errors     int           `json:"errors"`
	Abandoned  int           `json:"abandoned"`
	Artifact   string        `json:"artifact,omitempty"`
	Message    string        `json:"message,omitempty"`
	StartedAt  string        `json:"started_at"`
	FinishedAt *string       `json:"finished_at,omitempty"`
	Jobs       []JobResponse `json:"jobs,omitempty"`
}

// JobResponse is the API response for a batch job
type JobResponse struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Chunk     int    `json:"chunk"`
	Attempt   int    `json:"attempt"`
	Status    string `json:"status"`
	Requests  int    `json:"requests"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Abandoned bool   `json:"abandoned"`
	UpdatedAt string `json:"updated_at"`
}

// JobEventData is the payload of a "job" event
type JobEventData struct {
	Pair      string `json:"pair"`
	Chunk     int    `json:"chunk"`
	Attempt   int    `json:"attempt"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Requests  int    `json:"requests"`
	Abandoned bool   `json:"abandoned"`
}

// ResolvedEventData is the payload of a "resolved" event
type ResolvedEventData struct {
	Pair  string `json:"pair"`
	Item  int    `json:"item"`
	Error bool   `json:"error"`
}

func coverageToResponse(c pipeline.Coverage) CoverageResponse {
	return CoverageResponse{
		Language:    c.Spec.Language.Name,
		Code:        c.Spec.Language.Code,
		Task:        int(c.Spec.Task),
		Eligible:    c.Eligible,
		Done:        c.Done,
		Errors:      c.Errors,
		Remaining:   c.Remaining(),
		Percent:     c.Percent(),
		Artifact:    c.ArtifactPath,
		HasArtifact: c.HasArtifact,
	}
}

func runToResponse(r *ledger.Run) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		Language:  r.Language,
		Task:      r.Task,
		Mode:      r.Mode,
		Provider:  r.Provider,
		Model:     r.Model,
		Status:    string(r.Status),
		Pending:   r.Pending,
		Resolved:  r.Resolved,
		Errors:    r.Errors,
		Abandoned: r.Abandoned,
		Artifact:  r.ArtifactPath,
		Message:   r.Message,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

func jobToResponse(j *ledger.Job) JobResponse {
	return JobResponse{
		ID:        j.JobID,
		RunID:     j.RunID,
		Chunk:     j.Chunk,
		Attempt:   j.Attempt,
		Status:    string(j.Status),
		Requests:  j.Requests,
		Completed: j.Completed,
		Failed:    j.Failed,
		Abandoned: j.Abandoned,
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		scan, cov, err := s.coverage()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := StatusResponse{
			DataDir:   scan.Dir,
			Items:     len(scan.All),
			ImageOnly: len(scan.ImageOnly),
			ImageText: len(scan.ImageText),
			Rejected:  len(scan.Rejected),
			Pairs:     len(cov),
			Clients:   s.sseHub.Clients(),
		}
		for _, c := range cov {
			resp.Eligible += c.Eligible
			resp.Done += c.Done
			resp.Errors += c.Errors
			if c.Eligible > 0 && c.Remaining() == 0 {
				resp.Complete++
			}
		}
		if s.runs != nil {
			if open, err := s.runs.OpenJobs(); err == nil {
				resp.OpenJobs = len(open)
			}
		}
		writeJSON(w, resp)
	}
}

func (s *Server) coverageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		_, cov, err := s.coverage()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Optional filters
		lang := r.URL.Query().Get("language")
		task, _ := strconv.Atoi(r.URL.Query().Get("task"))

		resp := make([]CoverageResponse, 0, len(cov))
		for _, c := range cov {
			if lang != "" && !strings.EqualFold(lang, c.Spec.Language.Name) && !strings.EqualFold(lang, c.Spec.Language.Code) {
				continue
			}
			if task != 0 && int(c.Spec.Task) != task {
				continue
			}
			resp = append(resp, coverageToResponse(c))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runs == nil {
			writeError(w, http.StatusNotFound, "no ledger configured")
			return
		}

		q := r.URL.Query()
		opts := ledger.ListOptions{
			Language: q.Get("language"),
			Status:   ledger.RunStatus(q.Get("status")),
			Limit:    50,
		}
		if v := q.Get("task"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid task")
				return
			}
			opts.Task = n
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		runs, err := s.runs.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]RunResponse, len(runs))
		for i, run := range runs {
			resp[i] = runToResponse(run)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runs == nil {
			writeError(w, http.StatusNotFound, "no ledger configured")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing run id")
			return
		}

		run, err := s.runs.GetRun(id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && run == nil) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := runToResponse(run)
		jobs, err := s.runs.ListJobs(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, j := range jobs {
			resp.Jobs = append(resp.Jobs, jobToResponse(j))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) openJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runs == nil {
			writeJSON(w, []JobResponse{})
			return
		}
		jobs, err := s.runs.OpenJobs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]JobResponse, len(jobs))
		for i, j := range jobs {
			resp[i] = jobToResponse(j)
		}
		writeJSON(w, resp)
	}
}

// Hooks streams dispatch activity to event clients
func (s *Server) Hooks() dispatch.Hooks {
	return dispatch.Hooks{
		Resolved: func(spec domain.TaskSpec, item int, value string) {
			s.Broadcast(SSEEvent{Type: "resolved", Data: ResolvedEventData{
				Pair:  spec.Key(),
				Item:  item,
				Error: domain.IsErrorValue(value),
			}})
		},
		Job: func(ev dispatch.JobEvent) {
			s.Broadcast(SSEEvent{Type: "job", Data: JobEventData{
				Pair:      ev.Spec.Key(),
				Chunk:     ev.Chunk,
				Attempt:   ev.Attempt,
				JobID:     ev.Job.JobID,
				Status:    string(ev.Job.Status),
				Requests:  ev.Requests,
				Abandoned: ev.Abandoned,
			}})
		},
	}
}

// CheckpointsChanged tells event clients that checkpoint files were rewritten
func (s *Server) CheckpointsChanged(paths []string) {
	s.Broadcast(SSEEvent{Type: "checkpoint", Data: paths})
}
