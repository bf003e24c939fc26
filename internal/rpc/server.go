// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package rpc exposes the controller's message-kind surface (§6) over
// HTTP: job submit/alloc/kill/requeue/suspend-resume, step checkpoint
// able/disable/enable/create/vacate/restart/error, node/partition/
// reservation update, debug-level set, ping, and takeover. The wire
// encoding of RPC frames is explicitly out of scope (§1); this package
// fixes only the message-kind surface, carried over ordinary JSON since
// no format is mandated.
package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jontk/slurm-controller/internal/controller"
	"github.com/jontk/slurm-controller/internal/requestbuilders"
	"github.com/jontk/slurm-controller/internal/reservation"
	"github.com/jontk/slurm-controller/internal/types"
	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/pkg/logging"
)

// Server wraps a gorilla/mux router dispatching to a Controller.
type Server struct {
	ctrl   *controller.Controller
	logger logging.Logger
	router *mux.Router
}

// New builds an RPC server for ctrl.
func New(ctrl *controller.Controller, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Server{ctrl: ctrl, logger: logger}
	s.setupRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRouter() {
	r := mux.NewRouter().StrictSlash(false)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/jobs/submit", s.handleJobSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs/alloc", s.handleJobAlloc).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/kill", s.handleJobKill).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/requeue", s.handleJobRequeue).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/suspend", s.handleJobSuspend).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/resume", s.handleJobResume).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}", s.handleJobShow).Methods(http.MethodGet)

	r.HandleFunc("/jobs/{job_id}/steps", s.handleStepSubmit).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/finish", s.handleStepFinish).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/checkpoint/able", s.handleCheckpointAble).Methods(http.MethodGet)
	r.HandleFunc("/steps/{step_id}/checkpoint/disable", s.handleCheckpointDisable).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/checkpoint/enable", s.handleCheckpointEnable).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/checkpoint/create", s.handleCheckpointCreate).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/checkpoint/vacate", s.handleCheckpointVacate).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/checkpoint/restart", s.handleCheckpointRestart).Methods(http.MethodPost)
	r.HandleFunc("/steps/{step_id}/checkpoint/error", s.handleCheckpointError).Methods(http.MethodPost)

	r.HandleFunc("/nodes/{node_name}", s.handleNodeUpdate).Methods(http.MethodPatch, http.MethodPost)
	r.HandleFunc("/partitions/{partition_name}", s.handlePartitionUpdate).Methods(http.MethodPatch, http.MethodPost)

	r.HandleFunc("/reservations", s.handleReservationCreate).Methods(http.MethodPost)
	r.HandleFunc("/reservations", s.handleReservationList).Methods(http.MethodGet)
	r.HandleFunc("/reservations/{name}", s.handleReservationShow).Methods(http.MethodGet)
	r.HandleFunc("/reservations/{name}", s.handleReservationUpdate).Methods(http.MethodPatch, http.MethodPost)
	r.HandleFunc("/reservations/{name}", s.handleReservationDelete).Methods(http.MethodDelete)

	r.HandleFunc("/debug-level", s.handleSetDebugLevel).Methods(http.MethodPost)
	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/takeover", s.handleTakeover).Methods(http.MethodPost)

	s.router = r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("rpc request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// errorResponse mirrors §7: requests resolve to (success) or
// (error-kind, message).
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Kind: string(cerrors.KindUnexpectedMessage), Message: err.Error()}

	var ctlErr *cerrors.ControllerError
	if ce, ok := err.(*cerrors.ControllerError); ok {
		ctlErr = ce
	}
	if ctlErr != nil {
		resp.Kind = string(ctlErr.Kind)
		switch ctlErr.Kind {
		case cerrors.KindNotFound:
			status = http.StatusNotFound
		case cerrors.KindNoResources, cerrors.KindAlreadyRunning, cerrors.KindUnexpectedMessage,
			cerrors.KindInvalidTimeValue, cerrors.KindInvalidPartition, cerrors.KindReservationInvalid,
			cerrors.KindReservationNameDup, cerrors.KindInvalidNodeName:
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}
	s.writeJSON(w, status, resp)
}

func pathInt32(r *http.Request, key string) (int32, error) {
	raw := mux.Vars(r)[key]
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, cerrors.Field(cerrors.KindUnexpectedMessage, "invalid id in path", key, raw)
	}
	return int32(v), nil
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, cerrors.Wrap(cerrors.KindUnexpectedMessage, "malformed request body", err))
		return false
	}
	return true
}

// --- Job handlers ---

type jobSubmitRequest struct {
	Name         string   `json:"name"`
	Account      string   `json:"account"`
	Partition    string   `json:"partition"`
	MinNodes     int      `json:"min_nodes"`
	MaxNodes     int      `json:"max_nodes"`
	CPUs         int      `json:"cpus"`
	MemPerCPUMB  uint64   `json:"mem_per_cpu_mb"`
	MemPerNodeMB uint64   `json:"mem_per_node_mb"`
	Features     []string `json:"features"`
	Contiguous   bool     `json:"contiguous"`
	Shared       bool     `json:"shared"`
	TimeLimitSec int64    `json:"time_limit_sec"`
	RequiredNode []string `json:"required_node"`
	Exclusive    bool     `json:"exclusive"`
	ContactHost  string   `json:"contact_host"`
	ContactPort  int      `json:"contact_port"`
}

type jobSubmitResponse struct {
	JobID int32 `json:"job_id"`
}

// toJob assembles a Job through requestbuilders.JobBuilder so the same
// field validation (positive CPUs/nodes, non-empty partition) used by
// in-process callers of the builder also guards requests arriving over
// the wire.
func (req jobSubmitRequest) toJob() (*types.Job, error) {
	b := requestbuilders.NewJobBuilder(req.Partition)
	if req.Name != "" {
		b.WithName(req.Name)
	}
	if req.MinNodes > 0 {
		b.WithNodes(req.MinNodes, req.MaxNodes)
	}
	if req.CPUs > 0 {
		b.WithCPUs(req.CPUs)
	}
	if req.MemPerNodeMB > 0 {
		b.WithMemPerNode(req.MemPerNodeMB)
	} else if req.MemPerCPUMB > 0 {
		b.WithMemPerCPU(req.MemPerCPUMB)
	}
	if len(req.Features) > 0 {
		b.WithFeatures(req.Features...)
	}
	b.WithContiguous(req.Contiguous)
	if req.TimeLimitSec > 0 {
		b.WithTimeLimit(secondsToDuration(req.TimeLimitSec))
	}
	if len(req.RequiredNode) > 0 {
		b.WithRequiredNodes(req.RequiredNode...)
	}
	if req.ContactHost != "" {
		b.WithContact(req.ContactHost, req.ContactPort)
	}

	job, err := b.Build()
	if err != nil {
		return nil, err
	}
	job.Account = req.Account
	job.Shared = req.Shared
	job.ExclusiveNode = req.Exclusive
	return job, nil
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	var req jobSubmitRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	job, err := req.toJob()
	if err != nil {
		s.writeError(w, cerrors.Wrap(cerrors.KindUnexpectedMessage, "invalid job request", err))
		return
	}
	id, err := s.ctrl.SubmitJob(job)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobSubmitResponse{JobID: id})
}

// handleJobAlloc behaves like submit but attempts an immediate
// scheduling pass, reporting whether the job was placed right away.
func (s *Server) handleJobAlloc(w http.ResponseWriter, r *http.Request) {
	var req jobSubmitRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	job, err := req.toJob()
	if err != nil {
		s.writeError(w, cerrors.Wrap(cerrors.KindUnexpectedMessage, "invalid job request", err))
		return
	}
	id, err := s.ctrl.SubmitJob(job)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.ctrl.SchedulePass()

	job, _ := s.ctrl.Job(id)
	s.writeJSON(w, http.StatusOK, struct {
		JobID   int32          `json:"job_id"`
		State   types.JobState `json:"state"`
		Granted bool           `json:"granted"`
	}{JobID: id, State: job.State, Granted: job.State == types.JobRunning})
}

func (s *Server) handleJobShow(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "job_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, ok := s.ctrl.Job(id)
	if !ok {
		s.writeError(w, cerrors.New(cerrors.KindNotFound, "job not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobKill(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "job_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.KillJob(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleJobRequeue(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "job_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.RequeueJob(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleJobSuspend(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "job_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.SuspendJob(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleJobResume(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "job_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.ResumeJob(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

// --- Step handlers ---

type stepSubmitRequest struct {
	TasksPerNode map[int]int `json:"tasks_per_node"`
	MemPerTaskMB uint64      `json:"mem_per_task_mb"`
	ExplicitMem  bool        `json:"explicit_mem"`
}

func (s *Server) handleStepSubmit(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt32(r, "job_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req stepSubmitRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	step := &types.Step{
		JobID:        jobID,
		TasksPerNode: req.TasksPerNode,
		MemPerTaskMB: req.MemPerTaskMB,
		ExplicitMem:  req.ExplicitMem,
	}
	id, err := s.ctrl.SubmitStep(step)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		StepID int32 `json:"step_id"`
	}{StepID: id})
}

func (s *Server) handleStepFinish(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "step_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		ExitStatus int `json:"exit_status"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.FinishStep(id, req.ExitStatus); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCheckpointAble(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "step_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	able, err := s.ctrl.CheckpointAble(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Able bool `json:"able"`
	}{Able: able})
}

func (s *Server) handleCheckpointDisable(w http.ResponseWriter, r *http.Request) {
	s.handleCheckpointToggle(w, r, s.ctrl.CheckpointDisable)
}

func (s *Server) handleCheckpointEnable(w http.ResponseWriter, r *http.Request) {
	s.handleCheckpointToggle(w, r, s.ctrl.CheckpointEnable)
}

func (s *Server) handleCheckpointToggle(w http.ResponseWriter, r *http.Request, op func(int32) error) {
	id, err := pathInt32(r, "step_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := op(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type checkpointEventResponse struct {
	EventTimeUnix int64 `json:"event_time_unix"`
}

func (s *Server) handleCheckpointCreate(w http.ResponseWriter, r *http.Request) {
	s.handleCheckpointEvent(w, r, s.ctrl.CheckpointCreate)
}

func (s *Server) handleCheckpointVacate(w http.ResponseWriter, r *http.Request) {
	s.handleCheckpointEvent(w, r, s.ctrl.CheckpointVacate)
}

func (s *Server) handleCheckpointRestart(w http.ResponseWriter, r *http.Request) {
	s.handleCheckpointEvent(w, r, s.ctrl.CheckpointRestart)
}

func (s *Server) handleCheckpointEvent(w http.ResponseWriter, r *http.Request, op func(int32) (time.Time, error)) {
	id, err := pathInt32(r, "step_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	eventTime, err := op(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkpointEventResponse{EventTimeUnix: eventTime.Unix()})
}

func (s *Server) handleCheckpointError(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "step_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.CheckpointError(id, req.Code, req.Message); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

// --- Node/Partition handlers ---

func (s *Server) handleNodeUpdate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node_name"]
	var req struct {
		State types.NodeState `json:"state"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.UpdateNodeState(name, req.State); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handlePartitionUpdate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["partition_name"]
	var req struct {
		MaxShare *int  `json:"max_share"`
		Force    *bool `json:"force"`
		Priority *int  `json:"priority"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.UpdatePartition(name, req.MaxShare, req.Force, req.Priority); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

// --- Reservation handlers ---

type reservationRequest struct {
	Name         string   `json:"name"`
	StartUnix    int64    `json:"start_unix"`
	EndUnix      int64    `json:"end_unix"`
	DurationSec  int64    `json:"duration_sec"`
	Accounts     []string `json:"accounts"`
	Users        []string `json:"users"`
	NodeList     string   `json:"node_list"`
	NodeNames    []string `json:"node_names"`
	Features     []string `json:"features"`
	Partition    string   `json:"partition"`
	Type         string   `json:"type"`
}

// toCreateRequest assembles a reservation.CreateRequest through
// requestbuilders.ReservationBuilder, catching malformed single fields
// (e.g. a non-positive duration) before the request reaches the manager's
// own cross-field validation.
func (req reservationRequest) toCreateRequest() (reservation.CreateRequest, error) {
	b := requestbuilders.NewReservationBuilder(unixToTime(req.StartUnix))
	if req.Name != "" {
		b.WithName(req.Name)
	}
	if req.EndUnix > 0 {
		b.WithEnd(unixToTime(req.EndUnix))
	} else if req.DurationSec > 0 {
		b.WithDuration(secondsToDuration(req.DurationSec))
	}
	if len(req.Accounts) > 0 {
		b.WithAccounts(req.Accounts...)
	}
	if len(req.Users) > 0 {
		b.WithUsers(req.Users...)
	}
	if req.NodeList != "" {
		b.WithNodeList(req.NodeList)
	}
	if len(req.NodeNames) > 0 {
		b.WithNodeNames(req.NodeNames...)
	}
	if req.Partition != "" {
		b.WithPartition(req.Partition)
	}
	if len(req.Features) > 0 {
		b.WithFeatures(req.Features...)
	}

	cr, err := b.Build()
	if err != nil {
		return reservation.CreateRequest{}, err
	}
	cr.Type = types.ReservationType(req.Type)
	return cr, nil
}

func (s *Server) handleReservationCreate(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cr, err := req.toCreateRequest()
	if err != nil {
		s.writeError(w, cerrors.Wrap(cerrors.KindReservationInvalid, "invalid reservation request", err))
		return
	}
	resv, err := s.ctrl.CreateReservation(cr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resv)
}

func (s *Server) handleReservationUpdate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req reservationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cr, err := req.toCreateRequest()
	if err != nil {
		s.writeError(w, cerrors.Wrap(cerrors.KindReservationInvalid, "invalid reservation request", err))
		return
	}
	resv, err := s.ctrl.UpdateReservation(name, cr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resv)
}

func (s *Server) handleReservationDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.ctrl.DeleteReservation(name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleReservationShow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	resv, err := s.ctrl.ShowReservation(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resv)
}

func (s *Server) handleReservationList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.ListReservations())
}

// --- Control handlers ---

func (s *Server) handleSetDebugLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.ctrl.SetDebugLevel(req.Level)
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Alive bool `json:"alive"`
	}{Alive: s.ctrl.Ping()})
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Takeover(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func secondsToDuration(sec int64) time.Duration { return time.Duration(sec) * time.Second }

func unixToTime(sec int64) time.Time { return time.Unix(sec, 0) }
