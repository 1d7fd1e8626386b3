// Package api exposes a thin net/http+json admin surface over a
// controller.Controller: session lifecycle, recipe install/extend, and
// statistics — deliberately narrow, since a full admin surface
// (graphviz /graph, /table_builder, a real SQL session, and the
// gRPC/protobuf wire format it rode in on) is out of scope.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/conf"
	"github.com/squareup/flowbase/controller"
	"github.com/squareup/flowbase/errors"
)

// Server is the HTTP counterpart of the teacher's gRPC Server: same
// session-map-with-expiry-timer pattern, same internal-error sequence
// numbering, transport swapped to net/http+encoding/json since gRPC's
// protoc-generated stubs have no equivalent here (spec.md §1 names the
// HTTP admin surface itself a non-goal, so thinness is intentional, not
// a gap).
type Server struct {
	lock                 sync.Mutex
	started              bool
	ctrl                 *controller.Controller
	listenAddr           string
	httpSrv              *http.Server
	errorSequence        int64
	sessions             sync.Map
	expSessCheckTimer    *time.Timer
	expSessCheckInterval time.Duration
	sessTimeout          time.Duration
	recipeInstalled      int32
}

func NewServer(ctrl *controller.Controller, cfg conf.Config) *Server {
	return &Server{
		ctrl:                 ctrl,
		listenAddr:           cfg.APIServerListenAddress,
		expSessCheckInterval: cfg.APIServerSessionCheckInterval,
		sessTimeout:          cfg.APIServerSessionTimeout,
	}
}

func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil
	}
	list, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSession)
	mux.HandleFunc("/statistics", s.handleStatistics)
	s.httpSrv = &http.Server{Handler: mux}
	s.started = true
	go s.serve(list)
	s.scheduleExpiredSessionsCheck()
	return nil
}

func (s *Server) serve(list net.Listener) {
	err := s.httpSrv.Serve(list)
	s.lock.Lock()
	defer s.lock.Unlock()
	s.started = false
	if err != nil && err != http.ErrServerClosed {
		log.Errorf("api: http server listen failed: %v", err)
	}
}

func (s *Server) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.started {
		return nil
	}
	if s.expSessCheckTimer != nil {
		s.expSessCheckTimer.Stop()
	}
	return s.httpSrv.Shutdown(context.Background())
}

func (s *Server) GetListenAddress() string { return s.listenAddr }

type sessionEntry struct {
	id               string
	lastAccessedTime atomic.Value
}

func (se *sessionEntry) refreshLastAccessedTime() { se.lastAccessedTime.Store(time.Now()) }

func (se *sessionEntry) getLastAccessedTime() time.Time {
	v := se.lastAccessedTime.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

func (s *Server) lookupSession(sessionID string) (*sessionEntry, error) {
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, errors.NewUnknownSessionIDError(sessionID)
	}
	return v.(*sessionEntry), nil
}

// createSessionResponse etc. are the wire shapes; no generated stubs
// here, just plain structs encoding/json marshals directly.
type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type statementRequest struct {
	Recipe string `json:"recipe"`
}

type statisticsResponse struct {
	Domains map[int]domainStats `json:"domains"`
}

type domainStats struct {
	MessagesHandled int64 `json:"messages_handled"`
	ReplayPieces    int64 `json:"replay_pieces"`
	Misses          int64 `json:"misses"`
	Evictions       int64 `json:"evictions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, errors.NewClientError("only POST is supported here"))
		return
	}
	id := uuid.NewString()
	entry := &sessionEntry{id: id}
	entry.refreshLastAccessedTime()
	s.sessions.Store(id, entry)
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

// handleSession dispatches /sessions/{id}[/heartbeat|/statement] by
// trailing path segment, the stdlib-mux equivalent of the gRPC server's
// per-RPC-method dispatch.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID, action := splitSessionPath(r.URL.Path)
	entry, err := s.lookupSession(sessionID)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		s.sessions.Delete(sessionID)
		w.WriteHeader(http.StatusNoContent)
	case action == "heartbeat" && r.Method == http.MethodPost:
		entry.refreshLastAccessedTime()
		w.WriteHeader(http.StatusNoContent)
	case action == "statement" && r.Method == http.MethodPost:
		s.handleStatement(w, r, entry)
	default:
		httpError(w, http.StatusNotFound, errors.NewClientError("no such session action"))
	}
}

// handleStatement installs or extends the controller's single shared
// recipe: the first statement any session sends installs it, every
// later one (from any session) extends it — there is no per-session
// schema here, unlike the teacher's per-connection SQL session state,
// since a controller has exactly one recipe (spec.md §4.8).
func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request, entry *sessionEntry) {
	var req statementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, errors.NewClientError("invalid JSON body: "+err.Error()))
		return
	}
	defer common.PanicHandler()
	entry.refreshLastAccessedTime()

	if err := s.executeStatement(req.Recipe); err != nil {
		s.writeExecError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) executeStatement(recipe string) error {
	if atomic.CompareAndSwapInt32(&s.recipeInstalled, 0, 1) {
		if err := s.ctrl.InstallRecipe(recipe); err != nil {
			atomic.StoreInt32(&s.recipeInstalled, 0)
			return err
		}
		return nil
	}
	return s.ctrl.ExtendRecipe(recipe)
}

// writeExecError matches the teacher's findCause/PranaError split: a
// caller-facing FlowError is returned as-is, everything else becomes a
// sequence-numbered internal error so the server log (not the response)
// carries the real detail.
func (s *Server) writeExecError(w http.ResponseWriter, err error) {
	if fe, ok := err.(errors.FlowErrorLike); ok {
		httpError(w, http.StatusBadRequest, fe)
		return
	}
	seq := atomic.AddInt64(&s.errorSequence, 1)
	log.Errorf("internal error occurred with sequence number %d\n%v", seq, err)
	httpError(w, http.StatusInternalServerError, errors.NewInternalError(seq))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, errors.NewClientError("only GET is supported here"))
		return
	}
	stats, err := s.ctrl.GetStatistics()
	if err != nil {
		s.writeExecError(w, err)
		return
	}
	resp := statisticsResponse{Domains: make(map[int]domainStats, len(stats))}
	for id, st := range stats {
		resp.Domains[id] = domainStats{
			MessagesHandled: st.MessagesHandled,
			ReplayPieces:    st.ReplayPieces,
			Misses:          st.Misses,
			Evictions:       st.Evictions,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) scheduleExpiredSessionsCheck() {
	s.expSessCheckTimer = time.AfterFunc(s.expSessCheckInterval, s.checkExpiredSessions)
}

func (s *Server) checkExpiredSessions() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.started {
		return
	}
	now := time.Now()
	s.sessions.Range(func(key, value interface{}) bool {
		se := value.(*sessionEntry)
		if now.Sub(se.getLastAccessedTime()) > s.sessTimeout {
			log.Debugf("api: deleting expired session %v", key)
			s.sessions.Delete(key)
		}
		return true
	})
	s.scheduleExpiredSessionsCheck()
}

func (s *Server) SessionCount() int {
	count := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func splitSessionPath(path string) (sessionID, action string) {
	rest := path
	if len(rest) > len("/sessions/") {
		rest = rest[len("/sessions/"):]
	} else {
		rest = ""
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
