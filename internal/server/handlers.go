package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http/httpguts"

	"qpackd/internal/helper"
	"qpackd/internal/logging"
	"qpackd/internal/qpack"
)

type HeaderJSON struct {
	Name         string `json:"name"`
	Value        string `json:"value"`
	NeverIndexed bool   `json:"never_indexed,omitempty"`
}

type CreateSessionRequest struct {
	MaxTableCapacity  *uint64 `json:"max_table_capacity"`
	MaxBlockedStreams *uint64 `json:"max_blocked_streams"`
}

type CreateSessionResponse struct {
	ID       string `json:"id"`
	Settings string `json:"settings"`
}

type SessionResponse struct {
	ID      string             `json:"id"`
	Encoder qpack.EncoderStats `json:"encoder"`
	Decoder qpack.DecoderStats `json:"decoder"`
}

type EncodeRequest struct {
	StreamID uint64       `json:"stream_id"`
	SeqNo    uint64       `json:"seq_no"`
	Headers  []HeaderJSON `json:"headers"`
}

type EncodeResponse struct {
	Control     string `json:"control"`
	HeaderBlock string `json:"header_block"`
}

type FeedRequest struct {
	Data string `json:"data"`
}

type FeedDecoderResponse struct {
	Unblocked []uint64 `json:"unblocked"`
}

type HeaderBlockResponse struct {
	Control             string       `json:"control,omitempty"`
	Headers             []HeaderJSON `json:"headers,omitempty"`
	Blocked             bool         `json:"blocked,omitempty"`
	RequiredInsertCount uint64       `json:"required_insert_count,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) *Session {
	return ctx.Value(sessionKey{}).(*Session)
}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, ok := s.store.Get(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &req) {
			return
		}
	}

	maxTableCapacity := s.Config.QPACK.MaxTableCapacity
	if req.MaxTableCapacity != nil {
		maxTableCapacity = *req.MaxTableCapacity
	}
	maxBlockedStreams := s.Config.QPACK.MaxBlockedStreams
	if req.MaxBlockedStreams != nil {
		maxBlockedStreams = *req.MaxBlockedStreams
	}
	if maxTableCapacity > MaxTableCapacityLimit {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("max table capacity %d exceeds %d", maxTableCapacity, MaxTableCapacityLimit))
		return
	}

	sess, settings, err := s.store.Create(maxTableCapacity, maxBlockedStreams)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, CreateSessionResponse{ID: sess.ID, Settings: helper.FormatHex(settings)})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	sess.Mutex.Lock()
	resp := SessionResponse{ID: sess.ID, Encoder: sess.Encoder.Stats(), Decoder: sess.Decoder.Stats()}
	sess.Mutex.Unlock()

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	s.store.Delete(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) encode(w http.ResponseWriter, r *http.Request) {
	var req EncodeRequest
	if !s.decode(w, r, &req) {
		return
	}

	headers := make([]qpack.HeaderField, 0, len(req.Headers))
	for _, h := range req.Headers {
		if s.Config.QPACK.StrictHeaders {
			if err := validHeader(h); err != nil {
				s.writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		headers = append(headers, qpack.HeaderField{Name: h.Name, Value: h.Value, NeverIndexed: h.NeverIndexed})
	}

	sess := sessionFrom(r.Context())
	sess.Mutex.Lock()
	control, block, err := sess.Encoder.Encode(req.StreamID, req.SeqNo, headers)
	sess.Mutex.Unlock()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, EncodeResponse{Control: helper.FormatHex(control), HeaderBlock: helper.FormatHex(block)})
}

// feedEncoder applies decoder stream bytes to the session's encoder.
func (s *Server) feedEncoder(w http.ResponseWriter, r *http.Request) {
	data, ok := s.decodeData(w, r)
	if !ok {
		return
	}

	sess := sessionFrom(r.Context())
	sess.Mutex.Lock()
	err := sess.Encoder.FeedDecoder(data)
	sess.Mutex.Unlock()
	if err != nil {
		s.Log(logging.LogLevelWarn, "Session %s: %v", sess.ID, err)
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// feedDecoder applies encoder stream bytes to the session's decoder.
func (s *Server) feedDecoder(w http.ResponseWriter, r *http.Request) {
	data, ok := s.decodeData(w, r)
	if !ok {
		return
	}

	sess := sessionFrom(r.Context())
	sess.Mutex.Lock()
	unblocked, err := sess.Decoder.FeedEncoder(data)
	sess.Mutex.Unlock()
	if err != nil {
		s.Log(logging.LogLevelWarn, "Session %s: %v", sess.ID, err)
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, FeedDecoderResponse{Unblocked: unblocked})
}

func (s *Server) feedHeader(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	data, ok := s.decodeData(w, r)
	if !ok {
		return
	}

	sess := sessionFrom(r.Context())
	sess.Mutex.Lock()
	control, headers, err := sess.Decoder.FeedHeader(streamID, data)
	sess.Mutex.Unlock()
	s.writeHeaderBlock(w, control, headers, err)
}

func (s *Server) resumeHeader(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}

	sess := sessionFrom(r.Context())
	sess.Mutex.Lock()
	control, headers, err := sess.Decoder.ResumeHeader(streamID)
	sess.Mutex.Unlock()
	s.writeHeaderBlock(w, control, headers, err)
}

func (s *Server) cancelStream(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}

	sess := sessionFrom(r.Context())
	sess.Mutex.Lock()
	control := sess.Decoder.CancelStream(streamID)
	sess.Mutex.Unlock()

	s.writeJSON(w, http.StatusOK, HeaderBlockResponse{Control: helper.FormatHex(control)})
}

func (s *Server) writeHeaderBlock(w http.ResponseWriter, control []byte, headers []qpack.HeaderField, err error) {
	var blocked *qpack.BlockedError
	switch {
	case errors.As(err, &blocked):
		s.writeJSON(w, http.StatusConflict, HeaderBlockResponse{Blocked: true, RequiredInsertCount: blocked.RequiredInsertCount})
		return
	case errors.Is(err, qpack.ErrStreamPending):
		s.writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, qpack.ErrNoSuchBlock):
		s.writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, qpack.ErrDecompressionFailed):
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := HeaderBlockResponse{Control: helper.FormatHex(control), Headers: make([]HeaderJSON, 0, len(headers))}
	for _, hf := range headers {
		resp.Headers = append(resp.Headers, HeaderJSON{Name: hf.Name, Value: hf.Value, NeverIndexed: hf.NeverIndexed})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// validHeader applies HTTP field syntax; pseudo-header names are checked
// without their colon. Field names must be lowercase.
func validHeader(h HeaderJSON) error {
	name := strings.TrimPrefix(h.Name, ":")
	if !httpguts.ValidHeaderFieldName(name) || name != strings.ToLower(name) {
		return fmt.Errorf("invalid header field name %q", h.Name)
	}
	if !httpguts.ValidHeaderFieldValue(h.Value) {
		return fmt.Errorf("invalid value for header field %q", h.Name)
	}
	return nil
}

func (s *Server) streamID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	param := chi.URLParam(r, "stream")
	id, err := strconv.ParseUint(param, 10, 62)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid stream id %q", param))
		return 0, false
	}
	return id, true
}

func (s *Server) decodeData(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req FeedRequest
	if !s.decode(w, r, &req) {
		return nil, false
	}
	data, err := helper.ParseHex(req.Data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return data, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log(logging.LogLevelError, "Response writer failed: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.Log(logging.LogLevelDebug, "Request failed with %d: %v", status, err)
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.Log(logging.LogLevelWarn, "Not Found: %s %s", r.Method, r.URL.Path)
	s.writeError(w, http.StatusNotFound, errors.New("not found"))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.Log(logging.LogLevelWarn, "Method Not Allowed: %s %s", r.Method, r.URL.Path)
	s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}
