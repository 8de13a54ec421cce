package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	middleware "github.com/markdave123-py/docuchat/internal/api/middlewares"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/services"
)

// multipart framing allowance on top of the file itself
const formOverhead = 1 << 20

type DocumentHandler struct {
	docs     *services.DocumentService
	maxBytes int64
	log      *logrus.Entry
}

func NewDocumentHandler(docs *services.DocumentService, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxBytes: maxBytes, log: logger.New("documents_api")}
}

// UploadDocument accepts a multipart "file" field and an optional "title".
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, services.ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	res, err := h.docs.Upload(r.Context(), id.TenantID, header.Filename, r.FormValue("title"), data)
	if err != nil {
		var ve *services.ValidationError
		switch {
		case errors.Is(err, services.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		default:
			h.log.WithError(err).WithField("tenant_id", id.TenantID).Error("upload failed")
			writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	docs, err := h.docs.List(r.Context(), id.TenantID)
	if err != nil {
		h.log.WithError(err).Error("list documents failed")
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	docID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := h.docs.Get(r.Context(), id.TenantID, docID)
	if errors.Is(err, services.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.WithError(err).Error("get document failed")
		writeError(w, http.StatusInternalServerError, "could not load document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	docID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	err := h.docs.Delete(r.Context(), id.TenantID, docID)
	if errors.Is(err, services.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.WithError(err).Error("delete document failed")
		writeError(w, http.StatusInternalServerError, "could not delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
