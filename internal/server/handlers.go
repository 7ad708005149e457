package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/hyperjump/storybook/internal/session"
	"go.uber.org/zap"
)

// uploadedFile adapts a multipart upload to session.File.
type uploadedFile struct {
	header *multipart.FileHeader
}

func (f uploadedFile) Name() string                 { return f.header.Filename }
func (f uploadedFile) Open() (io.ReadCloser, error) { return f.header.Open() }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := indexPage()
	if err != nil {
		s.logger.Error("index page missing", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "page unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		// No file chosen: nothing happens.
		s.respondJSON(w, http.StatusOK, s.session.View())
		return
	}
	f := uploadedFile{header: files[0]}
	s.logger.Debug("file selected", zap.String("file", f.Name()), zap.Int64("size", files[0].Size))

	// Extraction outlives a dropped client connection.
	err := s.session.SelectFile(context.WithoutCancel(r.Context()), f)
	s.respondView(w, err)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, s.session.Convert())
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.session.Voices())
}

type selectVoiceRequest struct {
	Index *int `json:"index"`
}

func (s *Server) handleSelectVoice(w http.ResponseWriter, r *http.Request) {
	var req selectVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.session.SelectVoice(*req.Index); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.session.Voices())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.session.Download()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.Name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(d.Size()))
	if _, err := d.WriteTo(w); err != nil {
		s.logger.Warn("download write failed", zap.Error(err))
	}
}

// respondView answers with the session view. User-facing failures are in
// the view's error field; the status code tells scripts what happened.
func (s *Server) respondView(w http.ResponseWriter, err error) {
	status := http.StatusOK
	var ue *session.UserError
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSuperseded):
		status = http.StatusConflict
	case errors.As(err, &ue):
		status = http.StatusUnprocessableEntity
	default:
		s.logger.Error("request failed", zap.Error(err))
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, status, s.session.View())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
