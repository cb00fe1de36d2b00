package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"example.com/schcgate/internal/batch"
	"example.com/schcgate/internal/common"
	"example.com/schcgate/internal/ingest"
	"example.com/schcgate/internal/report"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/telemetry"
)

const maxBodyBytes = 8 << 20

// Server buffers fragments received from the satellite webhook and runs the
// reassembly engine on request.
type Server struct {
	opts        Options
	engine      *schc.Engine
	buffer      *ingest.Buffer
	metrics     *common.Metrics
	recorder    telemetry.Recorder
	logger      zerolog.Logger
	artifacts   *ArtifactStore
	recordsDir  string
	resultsDir  string
	concurrency int
	now         func() time.Time
}

// Artifact is a file generated by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	SHA256      string
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer prepares the storage layout under opts.StorageDir.
func NewServer(opts Options) (*Server, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	recordsDir := filepath.Join(opts.StorageDir, "records")
	resultsDir := filepath.Join(opts.StorageDir, "results")
	for _, dir := range []string{recordsDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	metrics := common.NewMetrics()
	metrics.Start()
	return &Server{
		opts:        opts,
		engine:      opts.Engine,
		buffer:      ingest.NewBuffer(opts.BufferLimit),
		metrics:     metrics,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		artifacts:   &ArtifactStore{entries: make(map[string]Artifact)},
		recordsDir:  recordsDir,
		resultsDir:  resultsDir,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}, nil
}

// Close flushes telemetry.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	s.metrics.Stop()
	s.recorder.Close()
	return nil
}

// Buffer exposes the per-device fragment buffer.
func (s *Server) Buffer() *ingest.Buffer {
	return s.buffer
}

func (s *Server) process(name string, raw []schc.RawFragment) schc.Result {
	res := s.engine.Run(raw)
	s.observe(name, res)
	return res
}

func (s *Server) observe(name string, res schc.Result) {
	s.metrics.AddResult(res.Outcome(), res.Success, res.Fragments, res.PayloadLength)
	s.recorder.Record(name, res)
	level := zerolog.InfoLevel
	if !res.Success {
		level = zerolog.WarnLevel
	}
	s.logger.WithLevel(level).
		Str("device", name).
		Str("outcome", res.Outcome()).
		Int("fragments", res.Fragments).
		Int("payloadBytes", res.PayloadLength).
		Msg("reassembly finished")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}
	received := s.now()
	rec, up, err := ingest.NewRecord(body, received)
	if err != nil {
		s.logger.Warn().Err(err).Msg("webhook rejected")
		http.Error(w, fmt.Sprintf("invalid webhook: %v", err), http.StatusBadRequest)
		return
	}
	utc := received.UTC()
	name := fmt.Sprintf("data_%s_%06d.json", utc.Format("20060102_150405"), utc.Nanosecond()/1000)
	if !s.opts.DiscardRecords {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			http.Error(w, fmt.Sprintf("encode record: %v", err), http.StatusInternalServerError)
			return
		}
		path, err := s.recordPath(rec.DeviceID, name)
		if err != nil {
			s.logger.Warn().Err(err).Str("device", rec.DeviceID).Msg("webhook rejected")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := common.WriteFileAtomic(path, data, 0o644); err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("store record")
			http.Error(w, fmt.Sprintf("store record: %v", err), http.StatusInternalServerError)
			return
		}
	}
	frags, err := up.Fragments(name + "@" + rec.Timestamp)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid packet: %v", err), http.StatusBadRequest)
		return
	}
	buffered := s.buffer.Add(rec.DeviceID, frags...)
	s.logger.Info().
		Str("device", rec.DeviceID).
		Int("packets", len(frags)).
		Int("buffered", buffered).
		Msg("webhook received")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"deviceId":  rec.DeviceID,
		"fragments": len(frags),
		"buffered":  buffered,
	})
}

// recordPath places a record under records/<device>/ and refuses anything
// that would resolve outside recordsDir.
func (s *Server) recordPath(device, name string) (string, error) {
	if device == "" || filepath.Base(device) != device {
		return "", fmt.Errorf("device id %q is not a valid record directory", device)
	}
	path := filepath.Join(s.recordsDir, device, name)
	rel, err := filepath.Rel(s.recordsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.Dir(rel) != device {
		return "", fmt.Errorf("device id %q is not a valid record directory", device)
	}
	return path, nil
}

type fragmentJSON struct {
	Value string `json:"value"`
	Ref   string `json:"ref,omitempty"`
}

func decodeFragments(in []fragmentJSON, prefix string) ([]schc.RawFragment, error) {
	out := make([]schc.RawFragment, 0, len(in))
	for i, f := range in {
		data, err := ingest.DecodeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		ref := f.Ref
		if ref == "" {
			ref = fmt.Sprintf("%s%d", prefix, i)
		}
		out = append(out, schc.RawFragment{Data: data, Ref: ref})
	}
	return out, nil
}

func (s *Server) handleReassemble(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Name      string         `json:"name"`
		Fragments []fragmentJSON `json:"fragments"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Fragments) == 0 {
		http.Error(w, "fragments required", http.StatusBadRequest)
		return
	}
	raw, err := decodeFragments(req.Fragments, "fragment-")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "request"
	}
	writeJSON(w, http.StatusOK, s.process(name, raw))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		Messages map[string][]fragmentJSON `json:"messages"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages required", http.StatusBadRequest)
		return
	}
	messages := make(map[string][]schc.RawFragment, len(req.Messages))
	for name, frags := range req.Messages {
		raw, err := decodeFragments(frags, name+"-")
		if err != nil {
			http.Error(w, fmt.Sprintf("message %s: %v", name, err), http.StatusBadRequest)
			return
		}
		messages[name] = raw
	}

	local := common.NewMetrics()
	runner := batch.NewRunner(s.engine,
		batch.WithConcurrency(s.concurrency),
		batch.WithMetrics(local),
		batch.WithLogger(s.logger),
	)
	jobs := batch.SliceJobs(messages)

	if !stream {
		outcomes, err := runner.Run(r.Context(), jobs, func(o batch.Outcome) error {
			s.observe(o.Name, o.Result)
			return nil
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("batch: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"outcomes": outcomes,
			"summary":  local.Snapshot(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	nd := NewNDJSONWriter(w)
	_, err := runner.Run(r.Context(), jobs, func(o batch.Outcome) error {
		s.observe(o.Name, o.Result)
		return nd.WriteOutcome(o)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("batch stream aborted")
		_ = nd.WriteObject(map[string]string{"error": err.Error()})
		return
	}
	_ = nd.WriteObject(map[string]any{"summary": local.Snapshot()})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.buffer.Devices())
}

// handleDeviceReassembly runs the engine over a device's buffered fragments.
// A verified message consumes the fragments it was built from; fragments
// that arrived meanwhile stay buffered for the next message. keep=true
// leaves the buffer untouched.
func (s *Server) handleDeviceReassembly(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	q := r.URL.Query()
	asPDF := strings.EqualFold(q.Get("format"), "pdf")
	lang := s.opts.Lang
	if v := q.Get("lang"); v != "" {
		parsed, err := report.ParseLanguage(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lang = parsed
	}

	raw, mark, ok := s.buffer.Take(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	res := s.process(id, raw)
	remaining := len(raw)
	if res.Success && q.Get("keep") != "true" {
		remaining = s.buffer.Release(id, mark)
	}
	rep := report.NewResultReport("schcd", "webhook", s.engine.Layout(), res, s.now())
	rep.DeviceID = id

	art, err := s.saveResult(rep)
	if err != nil {
		s.logger.Error().Err(err).Str("device", id).Msg("store result")
	}

	if asPDF {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.pdf\"", id))
		if err := report.WriteResultPDF(w, rep, lang); err != nil {
			s.logger.Error().Err(err).Str("device", id).Msg("render pdf")
		}
		return
	}
	resp := struct {
		report.ResultReport
		Buffered int          `json:"buffered"`
		Artifact *ArtifactRef `json:"artifact,omitempty"`
	}{ResultReport: rep, Buffered: remaining}
	if err == nil {
		ref := toRef(art)
		resp.Artifact = &ref
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveResult(rep report.ResultReport) (Artifact, error) {
	name := fmt.Sprintf("%s_%s.json", rep.DeviceID, rep.GeneratedAt.Format("20060102T150405.000000000"))
	path := filepath.Join(s.resultsDir, name)
	if err := report.SaveResultJSON(rep, path); err != nil {
		return Artifact{}, err
	}
	return s.addArtifact(path, name, "application/json", "result")
}

func (s *Server) handleDeviceDrop(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.buffer.Drop(ps.ByName("id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	sum, size, err := common.Sha256OfFile(path)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          randomID(),
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        size,
		SHA256:      sum,
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	art, ok := s.getArtifact(ps.ByName("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", art.Name))
	io.Copy(w, f)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		SHA256:      art.SHA256,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d%06d", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
