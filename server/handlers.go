package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/products"
	"github.com/hubenschmidt/go-visearch/reconcile"
	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// multipartOverhead leaves room for form fields next to the image.
const multipartOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Summary())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, err)
		return
	}
	image, err := s.formImage(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := s.defaultLimit
	if v := strings.TrimSpace(r.FormValue("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, core.Invalid("limit must be an integer"))
			return
		}
		limit = n
	}

	res, err := s.search.Search(r.Context(), image, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleReconcile runs the batch on the request. A run over a large catalog
// outlasts the server write timeout, so the deadline is lifted for this route.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("write deadline not lifted", zap.Error(err))
	}
	sum, err := s.reconcile.Run(r.Context(), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleIndexHealth(w http.ResponseWriter, r *http.Request) {
	resp := IndexHealthResponse{
		Healthy: s.index.HealthCheck(r.Context()),
		Backend: s.index.Name(),
	}
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleIndexSchema(w http.ResponseWriter, r *http.Request) {
	sm, ok := s.index.(vector.SchemaManager)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error:   "not_implemented",
			Message: s.index.Name() + " backend has no schema to manage",
		})
		return
	}
	if err := sm.EnsureSchema(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SchemaResponse{Backend: s.index.Name(), Ensured: true})
}

func (s *Server) handleProductList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	perPage, err := queryInt(r, "per_page", products.DefaultPerPage)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.products.List(r.Context(), page, perPage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProductGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.products.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProductCreate(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, err)
		return
	}

	price, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil {
		s.writeError(w, core.Invalid("price must be a decimal number"))
		return
	}
	image, err := s.formImage(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.products.Create(r.Context(), products.NewProduct{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       price,
		Image:       image,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleProductDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.products.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Invalid("request exceeds %d bytes", tooLarge.Limit)
		}
		return core.Invalid("expected a multipart form: %v", err)
	}
	return nil
}

// formImage reads the "image" file field. A missing field is an error only when required.
func (s *Server) formImage(r *http.Request, required bool) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, core.Invalid("image file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		return nil, core.Invalid("read image: %v", err)
	}
	return data, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Invalid("%s must be an integer", name)
	}
	return n, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Invalid("invalid product id %q", r.PathValue("id"))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	switch {
	case status == http.StatusServiceUnavailable:
		s.logger.Warn("dependency unavailable", zap.Error(err))
	case status >= 500:
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, reconcile.ErrRunning):
		return http.StatusConflict, "conflict"
	case core.Recoverable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
