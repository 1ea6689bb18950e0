package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/observability"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	maxWait         = time.Minute
)

// Backend is the ledger surface the node API exposes.
type Backend interface {
	Status() types.NodeStatus
	WaitForRoundAfter(ctx context.Context, round uint64) (types.NodeStatus, error)
	SuggestedParams() types.SuggestedParams
	Submit(group []types.SignedTxn) (types.TxID, error)
	Simulate(group []types.SignedTxn, opts ledger.SimulateOptions) (*types.SimulateResult, error)
	PendingInfo(id types.TxID) (types.PendingTxn, error)
	AccountInfo(addr crypto.Address) types.AccountInfo
	AssetInfo(id uint64) (types.AssetInfo, error)
	AppInfo(id uint64) (types.AppInfo, error)
	Box(app uint64, name []byte) (types.BoxInfo, error)
	BoxNames(app uint64) [][]byte
}

// Config tunes the server.
type Config struct {
	// Token, when set, must accompany every /v2 request either as X-API-Key
	// or as a bearer token.
	Token  string
	Logger *slog.Logger
}

type Server struct {
	backend Backend
	token   string
	logger  *slog.Logger
	router  http.Handler
}

func NewServer(backend Backend, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		token:   strings.TrimSpace(cfg.Token),
		logger:  logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v2", func(v2 chi.Router) {
		v2.Use(s.authenticate)
		v2.Get("/status", s.handleStatus)
		v2.Get("/status/wait-for-block-after/{round}", s.handleWait)
		v2.Get("/transactions/params", s.handleParams)
		v2.Post("/transactions", s.handleSend)
		v2.Post("/transactions/simulate", s.handleSimulate)
		v2.Get("/transactions/pending/{txid}", s.handlePending)
		v2.Get("/accounts/{addr}", s.handleAccount)
		v2.Get("/assets/{id}", s.handleAsset)
		v2.Get("/applications/{id}", s.handleApp)
		v2.Get("/applications/{id}/box", s.handleBox)
		v2.Get("/applications/{id}/boxes", s.handleBoxNames)
	})
	return otelhttp.NewHandler(r, "confio-node")
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe("node", r.Method+" "+route, status, time.Since(start))
		if status >= http.StatusInternalServerError {
			s.logger.Error("node request failed", slog.String("route", route), slog.Int("status", status))
		}
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if presented == "" {
			presented = parseBearerToken(r.Header.Get("Authorization"))
		}
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			observability.ModuleMetrics().RecordThrottle("node", "unauthorized")
			writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "round must be an unsigned integer", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()
	status, err := s.backend.WaitForRoundAfter(ctx, round)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.SuggestedParams())
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxRequestBytes {
		return errors.New("request body too large")
	}
	if len(body) == 0 {
		return errors.New("request body required")
	}
	return json.Unmarshal(body, dst)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	group, err := types.DecodeGroup(req.Txns)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	id, err := s.backend.Submit(group)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{TxID: id.String()})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	group, err := types.DecodeGroup(req.Txns)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := s.backend.Simulate(group, ledger.SimulateOptions{AllowEmptySignatures: req.AllowEmptySignatures})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseTxID(chi.URLParam(r, "txid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	info, err := s.backend.PendingInfo(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.AccountInfo(addr))
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an unsigned integer", nil)
		return 0, false
	}
	return v, true
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	info, err := s.backend.AssetInfo(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	info, err := s.backend.AppInfo(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBox(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	name, err := DecodeBoxName(r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	info, err := s.backend.Box(id, name)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBoxNames(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.backend.AppInfo(id); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BoxNamesResponse{Names: s.backend.BoxNames(id)})
}

// writeLedgerError maps ledger sentinels onto HTTP statuses. Rejected groups
// carry the failing index and logs so clients can classify them.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	var evalErr *ledger.EvalError
	switch {
	case errors.As(err, &evalErr):
		writeError(w, http.StatusBadRequest, err.Error(), &ErrorData{
			TxID:       evalErr.TxID.String(),
			GroupIndex: evalErr.GroupIndex,
			Logs:       evalErr.Logs,
		})
	case errors.Is(err, ledger.ErrTxNotFound),
		errors.Is(err, ledger.ErrAssetNotFound),
		errors.Is(err, ledger.ErrAppNotFound),
		errors.Is(err, ledger.ErrBoxNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ledger.ErrAlreadyInLedger):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, data *ErrorData) {
	writeJSON(w, status, ErrorResponse{Message: message, Data: data})
}
