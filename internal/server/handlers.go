package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/raster"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/segment"
	"github.com/MeKo-Tech/bpread/internal/source"
)

const (
	channelHTTP = "http"
	channelWS   = "websocket"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    s.version,
		Time:       s.clock.Now().UTC().Format(time.RFC3339),
		Generation: s.reader.Generation().Current(),
	})
}

// presetsHandler lists the preprocessing presets and the exploration order.
func (s *Server) presetsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	presets := preprocess.Presets()
	infos := make([]PresetInfo, len(presets))
	for i, p := range presets {
		infos[i] = PresetInfo{Name: p.String(), Description: p.Description()}
	}
	order := make([]string, len(s.order))
	for i, step := range s.order {
		order[i] = step.String()
	}

	s.writeJSON(w, http.StatusOK, PresetsResponse{Presets: infos, Order: order, Count: len(infos)})
}

// readHandler runs an exploration on an uploaded image or a referenced one.
func (s *Server) readHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	src, opts, ok := s.parseReadRequest(w, r)
	if !ok {
		recognitionsTotal.WithLabelValues(channelHTTP, "bad_request").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := s.reader.Recognize(ctx, src, opts)
	recordRecognition(channelHTTP, res, err, time.Since(start))
	if err != nil {
		status := statusForError(err)
		slog.Warn("Recognition failed", "source", src.String(), "status", status, "error", err)
		s.writeErrorResponse(w, err.Error(), status)
		return
	}

	resp := ReadResponse{Success: res.ErrorCode == "", Result: res}
	if res.Vitals != nil {
		resp.Reading = res.Vitals
		resp.Summary = res.Vitals.Summary()
	}
	if res.ErrorCode != "" {
		resp.Error = res.ErrorCode
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// parseReadRequest accepts a multipart upload with an "image" file or a JSON
// ReadRequest naming a reference.
func (s *Server) parseReadRequest(w http.ResponseWriter, r *http.Request) (source.Source, explore.Options, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
			return source.Source{}, explore.Options{}, false
		}
		if req.URL == "" {
			s.writeErrorResponse(w, "url is required", http.StatusBadRequest)
			return source.Source{}, explore.Options{}, false
		}
		if !s.allowRefs {
			s.writeErrorResponse(w, "Image references are disabled, upload the image instead", http.StatusForbidden)
			return source.Source{}, explore.Options{}, false
		}
		return source.FromRef(req.URL), explore.Options{ROIs: req.rois(), Debug: req.Debug}, true
	}

	data, ok := s.readUpload(w, r, limit)
	if !ok {
		return source.Source{}, explore.Options{}, false
	}
	var opts explore.Options
	for _, raw := range r.MultipartForm.Value["roi"] {
		roi, err := preprocess.ParseROI(raw)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return source.Source{}, explore.Options{}, false
		}
		opts.ROIs = append(opts.ROIs, roi)
	}
	opts.Debug, _ = strconv.ParseBool(r.FormValue("debug"))
	return source.FromBytes(data), opts, true
}

// readUpload parses the multipart form and returns the "image" file.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, false
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return nil, false
	}
	return data, true
}

// segmentHandler decodes a seven-segment display without the text engine.
// Query parameters: invert, flexible, roi=x,y,w,h.
func (s *Server) segmentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	layout := s.layout
	q := r.URL.Query()
	if v := q.Get("invert"); v != "" {
		layout.Invert, _ = strconv.ParseBool(v)
	}
	if v := q.Get("flexible"); v != "" {
		layout.Flexible, _ = strconv.ParseBool(v)
	}

	data, ok := s.readUpload(w, r, s.maxUploadMB*1024*1024)
	if !ok {
		return
	}
	img, _, err := source.Decode(data)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return
	}

	if v := q.Get("roi"); v != "" {
		roi, err := preprocess.ParseROI(v)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		if img, err = raster.Crop(img, roi.Rect()); err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	reading := segment.DecodeDisplay(img, layout)
	segmentReadsTotal.WithLabelValues(strconv.FormatBool(reading.Complete())).Inc()

	resp := SegmentResponse{Success: reading.Complete(), Text: reading.Text(), Reading: &reading}
	if !reading.Complete() {
		resp.Error = "display could not be read completely"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusForError maps recognition errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, explore.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, explore.ErrStale):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, recognizer.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
