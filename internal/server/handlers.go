package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/assistant"
	"github.com/zombor/rx-tracker/internal/record"
	"github.com/zombor/rx-tracker/internal/synthesis"
	"github.com/zombor/rx-tracker/internal/value"
)

// maxUploadSize bounds uploads; phone photos can be large
const maxUploadSize = int64(50 << 20)

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// documentResponse is a stored document together with its derived view
type documentResponse struct {
	ID            string         `json:"id"`
	ExtractedText string         `json:"extractedText"`
	ImageRef      string         `json:"imageRef"`
	CreatedAt     time.Time      `json:"createdAt"`
	Confidence    float64        `json:"confidence"`
	Data          value.Value    `json:"data"`
	View          synthesis.View `json:"view"`
}

func newDocumentResponse(doc record.Document) documentResponse {
	return documentResponse{
		ID:            doc.ID,
		ExtractedText: doc.ExtractedText,
		ImageRef:      doc.ImageRef,
		CreatedAt:     doc.CreatedAt,
		Confidence:    doc.Confidence,
		Data:          doc.Data,
		View:          doc.View(),
	}
}

type sendMessageRequest struct {
	ChatID   string `json:"chatId"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// pipelineStatus maps a pipeline failure to an HTTP status
func pipelineStatus(err error) int {
	kind, _ := apperr.KindOf(err)
	switch kind {
	case apperr.KindCapture, apperr.KindPreprocess:
		return http.StatusBadRequest
	case apperr.KindInsufficientText:
		return http.StatusUnprocessableEntity
	case apperr.KindRecognition, apperr.KindExtraction:
		if errors.Is(err, apperr.ErrTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleUploadDocument runs an uploaded capture through the pipeline
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLargeMessage)
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
			return
		}
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	doc, err := s.documents.ProcessUpload(r.Context(), header.Filename, data)
	if err != nil {
		slog.Error("Error processing document", "filename", header.Filename, "error", err)
		writeError(w, pipelineStatus(err), apperr.UserMessage(err))
		return
	}

	writeJSON(w, http.StatusCreated, newDocumentResponse(*doc))
}

// handleListDocuments returns the documents matching ?q= and ?category=
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	docs, err := s.documents.SearchDocuments(query.Get("q"), query.Get("category"))
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, apperr.UserMessage(err))
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, newDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetDocument returns a single document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.GetDocument(r.PathValue("id"))
	if errors.Is(err, record.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		slog.Error("Error getting document", "error", err)
		writeError(w, http.StatusInternalServerError, apperr.UserMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, newDocumentResponse(*doc))
}

// handleGetDocumentImage returns the source image of a document
func (s *Server) handleGetDocumentImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.documents.GetDocumentImage(r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, record.ErrNotFound) {
			slog.Error("Error getting document image", "error", err)
		}
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteDocument deletes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.DeleteDocument(r.PathValue("id")); err != nil {
		slog.Error("Error deleting document", "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListCategories returns the categories documents are filed under
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, append([]string{synthesis.CategoryAll}, synthesis.Categories...))
}

// handleSendMessage adds a message to a chat and returns the updated chat
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	chat, err := s.chats.Send(r.Context(), req.ChatID, req.Content, req.Language)
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message is empty")
	case errors.Is(err, assistant.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "Chat not found")
	case err != nil:
		slog.Error("Error sending message", "chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusBadGateway, "The assistant is unavailable. Please try again.")
	default:
		writeJSON(w, http.StatusOK, chat)
	}
}

// handleListChats returns all chats
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.List()
	if err != nil {
		slog.Error("Error listing chats", "error", err)
		writeError(w, http.StatusInternalServerError, apperr.UserMessage(err))
		return
	}
	if chats == nil {
		chats = []assistant.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// handleGetChat returns a single chat
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.chats.Get(r.PathValue("id"))
	if errors.Is(err, assistant.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		slog.Error("Error getting chat", "error", err)
		writeError(w, http.StatusInternalServerError, apperr.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// handleDeleteChat deletes a chat
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chats.Delete(r.PathValue("id")); err != nil {
		slog.Error("Error deleting chat", "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTips returns the cached tips, fetching them on first use
func (s *Server) handleListTips(w http.ResponseWriter, r *http.Request) {
	tips, err := s.tips.Load(r.Context())
	if err != nil {
		slog.Error("Error loading tips", "error", err)
		writeError(w, http.StatusBadGateway, "Could not load health tips. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, tips)
}

// handleRefreshTips replaces the cached tips with a new batch
func (s *Server) handleRefreshTips(w http.ResponseWriter, r *http.Request) {
	tips, err := s.tips.Refresh(r.Context())
	if err != nil {
		slog.Error("Error refreshing tips", "error", err)
		writeError(w, http.StatusBadGateway, "Could not load health tips. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, tips)
}
