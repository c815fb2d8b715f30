package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"zigstack/internal/mt"
	"zigstack/internal/session"
	"zigstack/internal/store"
)

const (
	defaultCaptureLimit = 100
	maxCaptureLimit     = 1000
)

func (s *Server) handleAPIListCaptures(w http.ResponseWriter, r *http.Request) {
	limit := defaultCaptureLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxCaptureLimit)
	}
	var before uint64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid before")
			return
		}
		before = n
	}

	caps, err := s.store.List(limit, before)
	if err != nil {
		s.logger.Error("list captures", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]CaptureView, 0, len(caps))
	for _, c := range caps {
		views = append(views, newCaptureView(c))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetCapture(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	c, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "capture not found")
		return
	}
	if err != nil {
		s.logger.Error("get capture", "err", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, newCaptureView(c))
}

type decodeRequest struct {
	Hex string `json:"hex"`
}

func (s *Server) handleAPIDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := mt.ParseHex(req.Hex)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, verr := decodeView(raw)
	if verr != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, verr)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// frameRequest names a command and its payload. Cmd0/Cmd1 are required.
type frameRequest struct {
	Cmd0    *uint8 `json:"cmd0"`
	Cmd1    *uint8 `json:"cmd1"`
	Payload string `json:"payload"`
}

func (req frameRequest) parse() (mt.Command, []byte, error) {
	if req.Cmd0 == nil || req.Cmd1 == nil {
		return mt.Command{}, nil, errors.New("cmd0 and cmd1 are required")
	}
	payload, err := mt.ParseHex(req.Payload)
	if err != nil {
		return mt.Command{}, nil, err
	}
	if len(payload) > mt.MaxPayloadSize {
		return mt.Command{}, nil, errors.New("payload exceeds 250 bytes")
	}
	return mt.Command{Cmd0: *req.Cmd0, Cmd1: *req.Cmd1}, payload, nil
}

func (s *Server) handleAPIEncode(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd, payload, err := req.parse()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := mt.Envelope(cmd, payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, _ := decodeView(raw)
	s.writeJSON(w, http.StatusOK, v)
}

type sendResponse struct {
	Status   string     `json:"status"`
	Response *FrameView `json:"response,omitempty"`
	Duration string     `json:"duration"`
}

// handleAPISend writes a frame. An SREQ waits for its SRSP; a timeout maps
// to 504.
func (s *Server) handleAPISend(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd, payload, err := req.parse()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	var rsp *mt.Frame
	if cmd.Type() == mt.TypeSREQ {
		rsp, err = s.line.Request(r.Context(), cmd, payload)
	} else {
		err = s.line.Send(r.Context(), cmd, payload)
	}
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveRequest(cmd.String(), elapsed, err)
	}
	if err != nil {
		s.writeLineError(w, "send", err)
		return
	}

	out := sendResponse{Status: "ok", Duration: elapsed.String()}
	if rsp != nil {
		raw, err := mt.EncodeMonitorFrame(rsp)
		if err == nil {
			out.Response, _ = decodeView(raw)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

type ackRequest struct {
	Seq uint8 `json:"seq"`
	Nak bool  `json:"nak"`
}

func (s *Server) handleAPIAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, send := "ack", s.line.SendAck
	if req.Nak {
		kind, send = "nak", s.line.SendNak
	}
	if err := send(req.Seq); err != nil {
		s.writeLineError(w, kind, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "kind": kind, "seq": req.Seq & 0x07})
}

func (s *Server) handleAPIPing(w http.ResponseWriter, r *http.Request) {
	caps, err := s.line.Ping(r.Context())
	if err != nil {
		s.writeLineError(w, "ping", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": caps,
		"subsystems":   session.CapabilityNames(caps),
	})
}

// handleAPIVersion reports the application version and, when the line
// answers within a second, the coprocessor's.
func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"version": s.version}
	if s.line != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if v, err := s.line.Version(ctx); err == nil {
			out["coprocessor"] = v
		} else {
			out["coprocessor_error"] = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeLineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, op+": timeout")
	case errors.Is(err, session.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, op+": line closed")
	default:
		s.logger.Warn("line error", "op", op, "err", err)
		s.writeError(w, http.StatusBadGateway, op+": "+err.Error())
	}
}
