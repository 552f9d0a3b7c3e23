package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkgraph/internal/editor"
	"github.com/starford/linkgraph/internal/pageservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *pageservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *pageservice.Service) *Handler {
	return &Handler{svc: svc}
}

func ifMatch(r *http.Request) string {
	return strings.Trim(r.Header.Get("If-Match"), `"`)
}

// ListPages handles GET /api/pages.
//
//	@Summary		List pages with optional pagination
//	@Tags			pages
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list pages", err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: items, Total: total})
}

// CreatePage handles POST /api/pages.
//
//	@Summary		Create a page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PageRequest	true	"Page"
//	@Success		201		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validateCreate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	p, err := h.svc.Create(r.Context(), pageservice.PageInput{
		Title:    req.Title,
		Content:  req.Content,
		Markdown: req.Markdown,
	})
	if err != nil {
		writeError(w, "create page", err, slog.String("title", req.Title))
		return
	}
	w.Header().Set("ETag", `"`+p.Checksum+`"`)
	writeJSON(w, http.StatusCreated, p)
}

// GetPage handles GET /api/pages/{id}.
//
//	@Summary		Get a page with refreshed reference state
//	@Tags			pages
//	@Produce		json
//	@Param			id	path		string	true	"Page ID"
//	@Success		200	{object}	PageDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, "get page", err, slog.String("id", id))
		return
	}
	w.Header().Set("ETag", `"`+p.Checksum+`"`)
	writeJSON(w, http.StatusOK, p)
}

// SavePage handles PUT /api/pages/{id}.
//
//	@Summary		Save a page
//	@Description	Optional If-Match header must carry the current checksum.
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string		true	"Page ID"
//	@Param			If-Match	header		string		false	"Checksum precondition"
//	@Param			body		body		PageRequest	true	"Page"
//	@Success		200			{object}	PageDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [put]
func (h *Handler) SavePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req PageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validateSave(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	p, err := h.svc.Save(r.Context(), id, pageservice.PageInput{
		Title:    req.Title,
		Content:  req.Content,
		Markdown: req.Markdown,
		IfMatch:  ifMatch(r),
	})
	if err != nil {
		writeError(w, "save page", err, slog.String("id", id))
		return
	}
	w.Header().Set("ETag", `"`+p.Checksum+`"`)
	writeJSON(w, http.StatusOK, p)
}

// DeletePage handles DELETE /api/pages/{id}.
//
//	@Summary		Delete a page
//	@Tags			pages
//	@Param			id	path	string	true	"Page ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, "delete page", err, slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backlinks handles GET /api/pages/{id}/backlinks.
//
//	@Summary		Link groups that resolve to the page
//	@Tags			links
//	@Produce		json
//	@Param			id	path		string	true	"Page ID"
//	@Success		200	{object}	GroupViewResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	groups, err := h.svc.Backlinks(r.Context(), id)
	if err != nil {
		slog.Error("backlinks failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("backlinks unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, GroupViewResponse{PageID: id, Groups: groups})
}

// Links handles GET /api/pages/{id}/links.
//
//	@Summary		Link groups referenced from the page
//	@Tags			links
//	@Produce		json
//	@Param			id	path		string	true	"Page ID"
//	@Success		200	{object}	GroupViewResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id}/links [get]
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	groups, err := h.svc.Links(r.Context(), id)
	if err != nil {
		slog.Error("links failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("backlinks unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, GroupViewResponse{PageID: id, Groups: groups})
}

// ResolveLink handles POST /api/links/resolve.
//
//	@Summary		Create or reuse the target page of a reference
//	@Description	Marks the matching spans in the session's open documents as resolved.
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ResolveRequest	true	"Reference"
//	@Success		200		{object}	pageservice.ResolveResult
//	@Success		201		{object}	pageservice.ResolveResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/resolve [post]
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.CreateFromReference(r.Context(), req.SessionID, req.Key)
	if err != nil {
		writeError(w, "resolve link", err, slog.String("key", req.Key))
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// OpenDocument handles POST /api/sessions/{sid}/documents/{id}.
//
//	@Summary		Open a page for editing in a session
//	@Tags			documents
//	@Produce		json
//	@Param			sid	path		string	true	"Session ID"
//	@Param			id	path		string	true	"Page ID"
//	@Success		200	{object}	DocumentResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/documents/{id} [post]
func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	sid, id := chi.URLParam(r, "sid"), chi.URLParam(r, "id")
	d, err := h.svc.OpenDocument(r.Context(), sid, id)
	if err != nil {
		writeError(w, "open document", err, slog.String("session", sid), slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, documentResponse(sid, d))
}

// GetDocument handles GET /api/sessions/{sid}/documents/{id}.
//
//	@Summary		Current state of an open document
//	@Tags			documents
//	@Produce		json
//	@Param			sid	path		string	true	"Session ID"
//	@Param			id	path		string	true	"Page ID"
//	@Success		200	{object}	DocumentResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	sid, id := chi.URLParam(r, "sid"), chi.URLParam(r, "id")
	d, err := h.svc.Document(sid, id)
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse(sid, d))
}

// SaveDocument handles PUT /api/sessions/{sid}/documents/{id}.
//
//	@Summary		Save an open document
//	@Description	A content body replaces the document before it is persisted.
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			sid			path		string			true	"Session ID"
//	@Param			id			path		string			true	"Page ID"
//	@Param			If-Match	header		string			false	"Checksum precondition"
//	@Param			body		body		DocumentRequest	false	"Content"
//	@Success		200			{object}	PageDetail
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/documents/{id} [put]
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	sid, id := chi.URLParam(r, "sid"), chi.URLParam(r, "id")
	var req DocumentRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	p, err := h.svc.SaveDocument(r.Context(), sid, id, req.Content, ifMatch(r))
	if err != nil {
		writeError(w, "save document", err, slog.String("session", sid), slog.String("id", id))
		return
	}
	w.Header().Set("ETag", `"`+p.Checksum+`"`)
	writeJSON(w, http.StatusOK, p)
}

// CloseDocument handles DELETE /api/sessions/{sid}/documents/{id}.
//
//	@Summary		Close an open document
//	@Tags			documents
//	@Param			sid	path	string	true	"Session ID"
//	@Param			id	path	string	true	"Page ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/documents/{id} [delete]
func (h *Handler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	sid, id := chi.URLParam(r, "sid"), chi.URLParam(r, "id")
	if err := h.svc.CloseDocument(sid, id); err != nil {
		writeError(w, "close document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseSession handles DELETE /api/sessions/{sid}.
//
//	@Summary		Close every document open in a session
//	@Tags			documents
//	@Param			sid	path	string	true	"Session ID"
//	@Success		204
//	@Security		BearerAuth
//	@Router			/sessions/{sid} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	h.svc.CloseSession(chi.URLParam(r, "sid"))
	w.WriteHeader(http.StatusNoContent)
}

func documentResponse(sid string, d *editor.Document) DocumentResponse {
	return DocumentResponse{
		SessionID: sid,
		PageID:    d.PageID(),
		Version:   d.Version(),
		Content:   d.Snapshot(),
	}
}
