package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/saworbit/eunomia-runtime/pkg/task"
)

// Server exposes a Plane over HTTP. Every endpoint answers 200 with a
// body shaped to say which alternate fired — a bare {"message": "..."}
// for every failure alternate, the documented success shape otherwise —
// rather than leaning on HTTP status codes to carry that distinction, so
// a client decodes the body once and switches on what's present in it.
type Server struct {
	plane *Plane
	mux   *http.ServeMux
}

// NewServer builds the HTTP control-plane server backed by plane.
func NewServer(plane *Plane) *Server {
	s := &Server{plane: plane, mux: http.NewServeMux()}
	s.mux.HandleFunc("/task/start", s.handleStart)
	s.mux.HandleFunc("/task/stop", s.handleStop)
	s.mux.HandleFunc("/task/pause", s.handlePause)
	s.mux.HandleFunc("/task/resume", s.handleResume)
	s.mux.HandleFunc("/task/log", s.handleLog)
	s.mux.HandleFunc("/task/list", s.handleList)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// messageError is the body shape of every failure alternate.
type messageError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Control] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, messageError{Message: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Join(task.ErrInvalidArguments, err)
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.plane.Start(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

type idRequest struct {
	ID task.ID `json:"id"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.plane.Stop(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

type taskStatusResponse struct {
	TaskStatus task.Status `json:"task_status"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.plane.Pause(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, taskStatusResponse{TaskStatus: task.StatusPaused})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.plane.Resume(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, taskStatusResponse{TaskStatus: task.StatusRunning})
}

type logRequest struct {
	ID           task.ID `json:"id"`
	LogCursor    *uint64 `json:"log_cursor,omitempty"`
	MaximumCount *int    `json:"maximum_count,omitempty"`
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.plane.Log(req.ID, req.LogCursor, req.MaximumCount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, entries)
}

type listResponse struct {
	Tasks []task.ProgramDesc `json:"tasks"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, listResponse{Tasks: s.plane.List()})
}

// Serve runs the HTTP control-plane server on addr until ctx is canceled,
// shutting down gracefully and returning nil rather than
// http.ErrServerClosed.
func Serve(ctx context.Context, addr string, plane *Plane) error {
	srv := &http.Server{Addr: addr, Handler: NewServer(plane)}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Printf("[Control] HTTP control plane listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}
	return err
}
