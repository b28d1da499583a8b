package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/s3storage"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

// LabReportResponse acknowledges a queued lab report.
type LabReportResponse struct {
	ReportID  string       `json:"reportId"`
	Handle    model.Handle `json:"tokenId"`
	ObjectKey string       `json:"objectKey"`
	Status    string       `json:"status"`
}

func (s *Server) labReportsEnabled(w http.ResponseWriter) bool {
	if s.reports == nil || s.queue == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "lab report ingestion is not configured"})
		return false
	}
	return true
}

// handleLabReportUpload stores the PDF and queues its extraction. The checks
// the worker's metadata update will make are repeated here so a doomed upload
// is rejected before it reaches object storage.
func (s *Server) handleLabReportUpload(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.labReportsEnabled(w) {
		return
	}
	s.authenticated(w, r, func(caller model.Identity) {
		ctx := r.Context()
		if err := s.precheckLabReport(ctx, caller, handle); err != nil {
			respondError(w, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
		mr, err := r.MultipartReader()
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "expecting multipart form"})
			return
		}
		part, err := nextFilePart(mr)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		defer part.Close()
		tmp, err := s.persistTemp(part)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		defer os.Remove(tmp.path)
		defer tmp.f.Close()
		if tmp.contentType != "application/pdf" {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "only PDF files supported"})
			return
		}
		rep := s3storage.Report{Handle: handle, ID: uuid.NewString(), FileName: tmp.filename}
		if err := s.uploadToStorage(ctx, rep, tmp); err != nil {
			log.Printf("upload to storage failed: %v", err)
			respondJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to store file"})
			return
		}
		payload := queue.LabReportPayload{
			ReportID:  rep.ID,
			Handle:    handle,
			ObjectKey: rep.Key(),
			FileName:  rep.FileName,
		}
		if err := queue.EnqueueLabReport(ctx, s.queue, payload); err != nil {
			log.Printf("queue lab report %s: %v", rep.ID, err)
			respondJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to queue job"})
			return
		}
		respondJSON(w, http.StatusAccepted, LabReportResponse{
			ReportID:  rep.ID,
			Handle:    handle,
			ObjectKey: rep.Key(),
			Status:    "queued",
		})
	})
}

func (s *Server) precheckLabReport(ctx context.Context, caller model.Identity, handle model.Handle) error {
	paused, err := s.tracker.IsPaused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return tracker.ErrPaused
	}
	ok, err := s.tracker.HasRole(ctx, caller, model.RoleCultivator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks role %s", tracker.ErrUnauthorized, caller, model.RoleCultivator)
	}
	_, err = s.tracker.GetMetadata(ctx, handle)
	return err
}

func (s *Server) handleLabReportURL(w http.ResponseWriter, r *http.Request, handle model.Handle, reportID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.labReportsEnabled(w) {
		return
	}
	if _, err := uuid.Parse(reportID); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid report id"})
		return
	}
	rep := s3storage.Report{Handle: handle, ID: reportID}
	url, err := s.reports.TextURL(r.Context(), rep, s.cfg.CredentialTTL)
	if err != nil {
		log.Printf("presign text of report %s: %v", reportID, err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to generate url"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "seedtrace-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				return fail(fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return fail(errors.New("empty file"))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	filename := part.FileName()
	if filename == "" {
		filename = "lab-report.pdf"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func (s *Server) uploadToStorage(ctx context.Context, rep s3storage.Report, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.reports.PutReport(ctx, rep, tmp.f, tmp.size)
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("missing file field")
			}
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
