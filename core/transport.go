package core

// transport.go – typed JSON-over-HTTP client/server for peer-to-peer RPCs.
//
// Router shape (middleware chain, path-param handlers, json.Decode/Encode,
// http.Error on failure) grounded on
// cmd/xchainserver/server/{routes,handlers,middleware}.go; gorilla/mux's
// mux.Vars is replaced with chi's chi.URLParam since chi is the HTTP
// router this repo wires instead.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Envelope is the uniform response wrapper every RPC returns:
// {ok, status, data?, error?, latency_ms}.
type Envelope struct {
	OK bool `json:"ok"`
	Status int `json:"status"`
	Data json.RawMessage `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	LatencyMS int64 `json:"latency_ms"`
}

// TaskHandler processes an incoming delegation request.
type TaskHandler interface {
	OnTaskRequest(req TaskRequest) (accepted bool, reason string)
}

// ResultHandler processes an incoming task result.
type ResultHandler interface {
	OnTaskResult(result TaskResult)
}

// TransportServer exposes the peer wire protocol over chi.
type TransportServer struct {
	router chi.Router
	log *logrus.Logger
	sharedSecret string
	deadline time.Duration

	identity func() Identity
	heartbeat func(from NodeID, at time.Time, peers []PeerVersion) []Identity
	join func(Identity)
	leave func(node NodeID, reason string)
	gossip func(GossipMessage) GossipMessage
	taskHandler TaskHandler
	resultHandler ResultHandler
	status func(taskID string) (CheckpointStatus, bool)
	cancel func(taskID string) error
	rfq func(RFQ) error
	bid func(json.RawMessage) error
	verify func(VerifyRequest) bool
}

// TransportConfig collects the callbacks the server dispatches to; every
// field is required except where noted.
type TransportConfig struct {
	SharedSecret string
	Deadline time.Duration
	Identity func() Identity
	Heartbeat func(from NodeID, at time.Time, peers []PeerVersion) []Identity
	Join func(Identity)
	Leave func(node NodeID, reason string)
	Gossip func(GossipMessage) GossipMessage
	TaskHandler TaskHandler
	ResultHandler ResultHandler
	Status func(taskID string) (CheckpointStatus, bool)
	Cancel func(taskID string) error
	RFQ func(RFQ) error
	Bid func(json.RawMessage) error
	Verify func(VerifyRequest) bool // optional; nil answers every /verify with false
}

// NewTransportServer builds the chi-routed HTTP server for its twelve
// RPCs.
func NewTransportServer(cfg TransportConfig, log *logrus.Logger) *TransportServer {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 10 * time.Second
	}
	ts := &TransportServer{
		log: log,
		sharedSecret: cfg.SharedSecret,
		deadline: cfg.Deadline,
		identity: cfg.Identity,
		heartbeat: cfg.Heartbeat,
		join: cfg.Join,
		leave: cfg.Leave,
		gossip: cfg.Gossip,
		taskHandler: cfg.TaskHandler,
		resultHandler: cfg.ResultHandler,
		status: cfg.Status,
		cancel: cfg.Cancel,
		rfq: cfg.RFQ,
		bid: cfg.Bid,
		verify: cfg.Verify,
	}
	if ts.verify == nil {
		ts.verify = func(VerifyRequest) bool { return false }
	}
	ts.routes()
	return ts
}

type startTimeKey struct{}

func withStartTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), startTimeKey{}, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func elapsedMS(r *http.Request) int64 {
	start, ok := r.Context().Value(startTimeKey{}).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start).Milliseconds()
}

func (ts *TransportServer) routes() {
	r := chi.NewRouter()
	r.Use(withStartTime)
	r.Use(ts.requestLogger)
	r.Use(jsonHeaders)
	r.Use(ts.deadlineMiddleware)

	r.Get("/identity", ts.handleIdentity)
	r.Group(func(r chi.Router) {
		r.Use(ts.requireAuth)
		r.Post("/heartbeat", ts.handleHeartbeat)
		r.Post("/join", ts.handleJoin)
		r.Post("/leave", ts.handleLeave)
		r.Post("/gossip", ts.handleGossip)
		r.Post("/task", ts.handleTask)
		r.Post("/result", ts.handleResult)
		r.Get("/task/{id}/status", ts.handleStatus)
		r.Post("/task/{id}/cancel", ts.handleCancel)
		r.Post("/rfq", ts.handleRFQ)
		r.Post("/bid", ts.handleBid)
		r.Post("/verify", ts.handleVerify)
	})
	ts.router = r
}

// ServeHTTP implements http.Handler so TransportServer can be passed
// straight to http.ListenAndServe.
func (ts *TransportServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts.router.ServeHTTP(w, r)
}

func (ts *TransportServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Info("incoming request")
		next.ServeHTTP(w, r)
	})
}

func jsonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (ts *TransportServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token != "Bearer "+ts.sharedSecret {
			writeEnvelope(w, r, http.StatusUnauthorized, nil, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *TransportServer) deadlineMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), ts.deadline)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, data any, errMsg string) {
	env := Envelope{OK: errMsg == "", Status: status, Error: errMsg, LatencyMS: elapsedMS(r)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			env.Data = raw
		}
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func (ts *TransportServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, r, http.StatusOK, ts.identity(), "")
}

func (ts *TransportServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromID NodeID `json:"from_id"`
		Timestamp time.Time `json:"timestamp"`
		Peers []PeerVersion `json:"peers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	identities := ts.heartbeat(req.FromID, req.Timestamp, req.Peers)
	writeEnvelope(w, r, http.StatusOK, map[string]any{"peers": identities}, "")
}

func (ts *TransportServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity Identity `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	ts.join(req.Identity)
	writeEnvelope(w, r, http.StatusOK, nil, "")
}

func (ts *TransportServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID NodeID `json:"node_id"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	ts.leave(req.NodeID, req.Reason)
	writeEnvelope(w, r, http.StatusOK, nil, "")
}

func (ts *TransportServer) handleGossip(w http.ResponseWriter, r *http.Request) {
	var msg GossipMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	reply := ts.gossip(msg)
	writeEnvelope(w, r, http.StatusOK, reply, "")
}

func (ts *TransportServer) handleTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	accepted, reason := ts.taskHandler.OnTaskRequest(req)
	writeEnvelope(w, r, http.StatusOK, map[string]any{"accepted": accepted, "reason": reason}, "")
}

func (ts *TransportServer) handleResult(w http.ResponseWriter, r *http.Request) {
	var res TaskResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	ts.resultHandler.OnTaskResult(res)
	writeEnvelope(w, r, http.StatusOK, nil, "")
}

func (ts *TransportServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, ok := ts.status(id)
	if !ok {
		writeEnvelope(w, r, http.StatusNotFound, nil, "task not found")
		return
	}
	writeEnvelope(w, r, http.StatusOK, status, "")
}

func (ts *TransportServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := ts.cancel(id); err != nil {
		writeEnvelope(w, r, http.StatusInternalServerError, nil, err.Error())
		return
	}
	writeEnvelope(w, r, http.StatusOK, nil, "")
}

func (ts *TransportServer) handleRFQ(w http.ResponseWriter, r *http.Request) {
	var req RFQ
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	if err := ts.rfq(req); err != nil {
		writeEnvelope(w, r, http.StatusInternalServerError, nil, err.Error())
		return
	}
	writeEnvelope(w, r, http.StatusOK, nil, "")
}

func (ts *TransportServer) handleBid(w http.ResponseWriter, r *http.Request) {
	raw, err := json.Marshal(json.RawMessage(mustRead(r)))
	if err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	if err := ts.bid(raw); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	writeEnvelope(w, r, http.StatusOK, nil, "")
}

func (ts *TransportServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	verdict := ts.verify(req)
	writeEnvelope(w, r, http.StatusOK, map[string]any{"verdict": verdict}, "")
}

func mustRead(r *http.Request) []byte {
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(r.Body)
	return buf.Bytes()
}

// TransportClient is the outbound peer-to-peer RPC client.
type TransportClient struct {
	httpClient *http.Client
	sharedSecret string
}

// NewTransportClient builds a client with the given per-call deadline and
// shared secret bearer token.
func NewTransportClient(deadline time.Duration, sharedSecret string) *TransportClient {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &TransportClient{httpClient: &http.Client{Timeout: deadline}, sharedSecret: sharedSecret}
}

func (tc *TransportClient) do(method, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	if tc.sharedSecret != "" {
		req.Header.Set("Authorization", "Bearer "+tc.sharedSecret)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return NewMeshError(ErrDeadlineExceeded, "%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusRequestTimeout {
		return NewMeshError(ErrDeadlineExceeded, "request timed out")
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if !env.OK {
		return fmt.Errorf("%s", env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// SendTask posts a TaskRequest to baseURL/task.
func (tc *TransportClient) SendTask(baseURL string, req TaskRequest) (accepted bool, reason string, err error) {
	var out struct {
		Accepted bool `json:"accepted"`
		Reason string `json:"reason"`
	}
	err = tc.do(http.MethodPost, baseURL+"/task", req, &out)
	return out.Accepted, out.Reason, err
}

// SendResult posts a TaskResult to baseURL/result.
func (tc *TransportClient) SendResult(baseURL string, res TaskResult) error {
	return tc.do(http.MethodPost, baseURL+"/result", res, nil)
}

// SendGossip implements GossipTransport for the Gossiper.
func (tc *TransportClient) SendGossip(baseURL string, msg GossipMessage) (GossipMessage, error) {
	var out GossipMessage
	err := tc.do(http.MethodPost, baseURL+"/gossip", msg, &out)
	return out, err
}

// FetchIdentity gets baseURL/identity (unauthenticated).
func (tc *TransportClient) FetchIdentity(baseURL string) (Identity, error) {
	var out Identity
	err := tc.do(http.MethodGet, baseURL+"/identity", nil, &out)
	return out, err
}

// CancelTask posts baseURL/task/{id}/cancel.
func (tc *TransportClient) CancelTask(baseURL, taskID string) error {
	return tc.do(http.MethodPost, baseURL+"/task/"+taskID+"/cancel", nil, nil)
}

// SendVerify posts a VerifyRequest to baseURL/verify and returns the
// verifier's independent pass/fail.
func (tc *TransportClient) SendVerify(baseURL string, req VerifyRequest) (verdict bool, err error) {
	var out struct {
		Verdict bool `json:"verdict"`
	}
	err = tc.do(http.MethodPost, baseURL+"/verify", req, &out)
	return out.Verdict, err
}
