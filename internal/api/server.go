package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"MerkleBatch-Chain/internal/batch"
	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/observability/metrics"
	"MerkleBatch-Chain/internal/proofs"
	"MerkleBatch-Chain/internal/service"
	"MerkleBatch-Chain/internal/storage/mysql"
	"MerkleBatch-Chain/internal/txn"
)

const (
	maxBodyBytes           = 4 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// Server 负责暴露 REST 接口，供外部提交承诺与执行批次。
type Server struct {
	addr            string
	svc             *service.Service
	metrics         *metrics.Collector
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithMetrics 启用 HTTP 指标与 /metrics 端点。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithShutdownTimeout 设置优雅退出时等待进行中请求的时长。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *service.Service, opts ...Option) *Server {
	s := &Server{addr: addr, svc: svc, shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/proofs", s.instrument("/api/v1/proofs", s.handleProofs))
	mux.Handle("/api/v1/commitments", s.instrument("/api/v1/commitments", s.handleCommitments))
	mux.Handle("/api/v1/root", s.instrument("/api/v1/root", s.handleRoot))
	mux.Handle("/api/v1/batches", s.instrument("/api/v1/batches", s.handleBatches))
	mux.Handle("/api/v1/verify", s.instrument("/api/v1/verify", s.handleVerify))
	mux.Handle("/api/v1/executions", s.instrument("/api/v1/executions", s.handleExecutions))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// recordsRequest 接受已签名记录或待签名交易，两者二选一。
type recordsRequest struct {
	Records      []hexutil.Bytes `json:"records"`
	Transactions []txn.Tx        `json:"transactions"`
}

func (r recordsRequest) toRecords() ([]proofs.Record, error) {
	if len(r.Records) > 0 && len(r.Transactions) > 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "records 与 transactions 只能提供一个")
	}
	if len(r.Transactions) > 0 {
		return txn.SignBatch(r.Transactions), nil
	}
	out := make([]proofs.Record, len(r.Records))
	for i, rec := range r.Records {
		out[i] = proofs.Record(rec)
	}
	return out, nil
}

type commitmentResponse struct {
	Root    proofs.Digest   `json:"root"`
	Leaves  []proofs.Digest `json:"leaves"`
	Proofs  []proofs.Proof  `json:"proofs"`
	Records []hexutil.Bytes `json:"records"`
}

func newCommitmentResponse(c service.Commitment, records []proofs.Record) commitmentResponse {
	resp := commitmentResponse{Root: c.Root, Leaves: c.Leaves, Proofs: c.Proofs, Records: make([]hexutil.Bytes, len(records))}
	for i, rec := range records {
		resp.Records[i] = hexutil.Bytes(rec)
	}
	return resp
}

func (s *Server) handleProofs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req recordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	records, err := req.toRecords()
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.svc.Prove(records)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCommitmentResponse(c, records))
}

func (s *Server) handleCommitments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req recordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	records, err := req.toRecords()
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.svc.Commit(r.Context(), records)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCommitmentResponse(c, records))
}

type rootBody struct {
	Root  hexutil.Bytes `json:"root"`
	State batch.State   `json:"state,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		root, ok := s.svc.Root()
		if !ok {
			writeError(w, batch.ErrNoRootSet)
			return
		}
		writeJSON(w, http.StatusOK, rootBody{Root: root.Bytes(), State: batch.StateRootSet})
	case http.MethodPut:
		var req rootBody
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.svc.SetRoot(r.Context(), req.Root); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rootBody{Root: req.Root, State: batch.StateRootSet})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

type executeRequest struct {
	recordsRequest
	Proofs []proofs.Proof `json:"proofs"`
}

type entryView struct {
	Seq        uint64        `json:"seq"`
	BatchID    string        `json:"batch_id"`
	Index      int           `json:"index"`
	Root       proofs.Digest `json:"root"`
	Record     hexutil.Bytes `json:"record"`
	ExecutedAt time.Time     `json:"executed_at"`
}

func newEntryViews(entries []batch.Entry) []entryView {
	views := make([]entryView, len(entries))
	for i, e := range entries {
		views[i] = entryView{
			Seq:        e.Seq,
			BatchID:    e.BatchID,
			Index:      e.Index,
			Root:       e.Root,
			Record:     e.Record,
			ExecutedAt: e.ExecutedAt,
		}
	}
	return views
}

type outcomeResponse struct {
	BatchID     string        `json:"batch_id"`
	Root        proofs.Digest `json:"root"`
	Executed    bool          `json:"executed"`
	Count       int           `json:"count"`
	FailedIndex int           `json:"failed_index"`
	Entries     []entryView   `json:"entries,omitempty"`
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleExecuteBatch(w, r)
	case http.MethodGet:
		history, err := s.svc.History(r.Context(), parseLimit(r, mysql.DefaultListLimit))
		if err != nil {
			writeError(w, err)
			return
		}
		if history == nil {
			history = []mysql.BatchRecord{}
		}
		writeJSON(w, http.StatusOK, history)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	records, err := req.toRecords()
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.svc.Execute(r.Context(), records, req.Proofs)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := outcomeResponse{
		BatchID:     outcome.BatchID,
		Root:        outcome.Root,
		Executed:    outcome.Executed,
		Count:       outcome.Count,
		FailedIndex: outcome.FailedIndex,
		Entries:     newEntryViews(outcome.Entries),
	}
	// 批次被拒绝是正常的业务结果，同样返回 200。
	writeJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	Record hexutil.Bytes `json:"record"`
	Proof  proofs.Proof  `json:"proof"`
	Root   hexutil.Bytes `json:"root"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ok, err := s.svc.Verify(proofs.Record(req.Record), req.Proof, req.Root)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, newEntryViews(s.svc.Executions(parseLimit(r, 100))))
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// 字段自身的解析错误（例如证明步骤）保留原错误码。
		if _, ok := xerrors.From(err); ok {
			writeError(w, err)
			return false
		}
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return false
	}
	return true
}

type errorResponse struct {
	Code    xerrors.Code      `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument,
		batch.CodeInvalidRootLength,
		batch.CodeLengthMismatch,
		proofs.CodeInvalidBatchSize,
		proofs.CodeInvalidProofStep,
		proofs.CodeLeafIndexOutOfRange:
		return http.StatusBadRequest
	case batch.CodeNoRootSet, mysql.CodeDuplicateBatch:
		return http.StatusConflict
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	resp := errorResponse{Code: code, Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		resp.Message = e.Message()
		resp.Details = e.Metadata()
	}
	writeJSON(w, statusFor(code), resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: xerrors.CodeInvalidArgument, Message: "method not allowed"})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求数与耗时。
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}
