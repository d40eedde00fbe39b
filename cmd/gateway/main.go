package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/app"
	"github.com/ntufar/intellivault/internal/audit"
	"github.com/ntufar/intellivault/internal/httputil"
	"github.com/ntufar/intellivault/internal/rag"
	"github.com/ntufar/intellivault/internal/store"
)

const tenantHeader = "X-Tenant-ID"

func main() {
	deps, err := app.Build(context.Background(), "gateway")
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	r := httputil.NewRouter(deps.Log)

	r.Post("/api/documents/upload", uploadHandler(deps))
	r.Get("/api/documents", listHandler(deps))
	r.Get("/api/documents/{id}", statusHandler(deps))
	r.Post("/api/documents/{id}/abort", abortHandler(deps))
	r.Post("/api/search", searchHandler(deps))
	r.Post("/api/ask", askHandler(deps))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("gateway listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

// tenantID extracts the caller's tenant, writing a 400 when missing.
func tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := strings.TrimSpace(r.Header.Get(tenantHeader))
	if tenant == "" {
		httputil.WriteError(w, http.StatusBadRequest, tenantHeader+" header is required")
		return "", false
	}
	return tenant, true
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenant, ok := tenantID(w, r)
		if !ok {
			return
		}

		if r.ContentLength > maxFileSize {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large (max %d bytes)", maxFileSize))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize)

		file, header, err := r.FormFile("file")
		if err != nil {
			// Chunked uploads have no Content-Length; the limit only trips
			// while the multipart body is being read.
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				httputil.WriteError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("file too large (max %d bytes)", maxFileSize))
				return
			}
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Size > maxFileSize {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large (max %d bytes)", maxFileSize))
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}
		if len(content) == 0 {
			httputil.WriteError(w, http.StatusBadRequest, "file is empty")
			return
		}

		// Trust content over the declared header: sniff the bytes and fall
		// back to the declared type only for text formats sniffing cannot
		// tell apart (markdown vs plain).
		declared := header.Header.Get("Content-Type")
		mimeType := resolveMIMEType(declared, content)
		if !deps.Extractor.Supports(mimeType) {
			httputil.WriteError(w, http.StatusUnsupportedMediaType,
				fmt.Sprintf("unsupported media type %q", mimeType))
			return
		}

		sum := sha256.Sum256(content)
		checksum := hex.EncodeToString(sum[:])

		blobPath, err := deps.Blobs.Put(ctx, tenant, header.Filename, content)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist file", err, http.StatusInternalServerError)
			return
		}

		doc, created, err := deps.Store.CreateDocument(ctx, store.Document{
			TenantID:  tenant,
			Filename:  header.Filename,
			MIMEType:  mimeType,
			SizeBytes: int64(len(content)),
			Checksum:  checksum,
			Status:    store.StatusUploaded,
			BlobPath:  blobPath,
		})
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist document", err, http.StatusInternalServerError)
			return
		}
		if !created {
			// Same bytes already ingested for this tenant; the stored blob
			// for the duplicate upload is unreferenced, so drop it.
			if delErr := deps.Blobs.Delete(ctx, blobPath); delErr != nil {
				deps.Log.Warn("failed to remove duplicate blob", "err", delErr)
			}
			httputil.WriteJSON(w, http.StatusOK, documentResponse(doc))
			return
		}

		if err := deps.Orchestrator.EnqueueIngest(ctx, tenant, doc.ID); err != nil {
			// The document exists but processing never started; surface the
			// failure so the client retries the upload.
			if upErr := deps.Store.UpdateDocumentStatus(ctx, doc.ID, store.StatusError, "failed to enqueue ingestion"); upErr != nil {
				deps.Log.Error("failed to mark document errored", "err", upErr, "document_id", doc.ID)
			}
			httputil.Fail(deps.Log, w, "failed to enqueue document; please retry", err, http.StatusServiceUnavailable)
			return
		}

		deps.Audit.Emit(ctx, audit.Event{
			Type:       audit.EventUploadAccepted,
			TenantID:   tenant,
			DocumentID: doc.ID.String(),
			Detail:     map[string]any{"filename": doc.Filename, "size_bytes": doc.SizeBytes},
			At:         time.Now().UTC(),
		})

		httputil.WriteJSON(w, http.StatusAccepted, documentResponse(doc))
	}
}

// resolveMIMEType sniffs the uploaded bytes. Sniffing reports generic
// text/plain for markdown, so a more specific declared text type wins there.
func resolveMIMEType(declared string, content []byte) string {
	detected := mimetype.Detect(content)
	mt := detected.String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if mt == "text/plain" && declared != "" {
		if d := strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0])); strings.HasPrefix(d, "text/") {
			return d
		}
	}
	return mt
}

func documentResponse(doc store.Document) map[string]any {
	resp := map[string]any{
		"document_id": doc.ID.String(),
		"filename":    doc.Filename,
		"status":      doc.Status,
		"chunk_count": doc.ChunkCount,
	}
	if doc.ErrorReason != "" {
		resp["error_reason"] = doc.ErrorReason
	}
	return resp
}

func statusHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantID(w, r)
		if !ok {
			return
		}
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid document id")
			return
		}
		doc, err := deps.Store.GetDocument(r.Context(), tenant, docID)
		if errors.Is(err, store.ErrDocumentNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load document", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, documentResponse(doc))
	}
}

func listHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantID(w, r)
		if !ok {
			return
		}
		var statuses []store.DocumentStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				statuses = append(statuses, store.DocumentStatus(strings.TrimSpace(s)))
			}
		}
		docs, err := deps.Store.ListDocuments(r.Context(), tenant, statuses)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to list documents", err, http.StatusInternalServerError)
			return
		}
		items := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			items = append(items, documentResponse(doc))
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": items})
	}
}

func abortHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantID(w, r)
		if !ok {
			return
		}
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid document id")
			return
		}
		err = deps.Orchestrator.Abort(r.Context(), tenant, docID, "aborted by client")
		if errors.Is(err, store.ErrDocumentNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to abort document", err, http.StatusConflict)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"document_id": docID.String(), "status": store.StatusError})
	}
}

type searchRequest struct {
	Query string `json:"query" validate:"required,min=1"`
	TopK  int    `json:"top_k" validate:"gte=0,lte=20"`
}

func searchHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantID(w, r)
		if !ok {
			return
		}
		var req searchRequest
		if err := httputil.DecodeValid(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		hits, err := deps.RAG.Search(r.Context(), tenant, req.Query, req.TopK)
		if err != nil {
			httputil.Fail(deps.Log, w, "search unavailable", err, http.StatusServiceUnavailable)
			return
		}

		results := make([]map[string]any, 0, len(hits))
		for _, h := range hits {
			results = append(results, map[string]any{
				"document_id": h.DocumentID.String(),
				"chunk_index": h.ChunkIndex,
				"filename":    h.Filename,
				"score":       h.Score,
				"snippet":     h.Snippet,
			})
		}

		deps.Audit.Emit(r.Context(), audit.Event{
			Type:     audit.EventSearchExecuted,
			TenantID: tenant,
			Detail:   map[string]any{"hits": len(hits)},
			At:       time.Now().UTC(),
		})
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

type askRequest struct {
	Question string `json:"question" validate:"required,min=1"`
	TopK     int    `json:"top_k" validate:"gte=0,lte=20"`
}

func askHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantID(w, r)
		if !ok {
			return
		}
		var req askRequest
		if err := httputil.DecodeValid(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := deps.RAG.Ask(r.Context(), tenant, req.Question, req.TopK)
		if errors.Is(err, rag.ErrServiceUnavailable) {
			httputil.Fail(deps.Log, w, "answering unavailable", err, http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to answer question", err, http.StatusInternalServerError)
			return
		}

		deps.Audit.Emit(r.Context(), audit.Event{
			Type:     audit.EventQuestionAnswered,
			TenantID: tenant,
			Detail:   map[string]any{"grounded": result.Grounded, "citations": len(result.Citations)},
			At:       time.Now().UTC(),
		})
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}
