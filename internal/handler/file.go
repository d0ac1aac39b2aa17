// Package handler provides the HTTP handlers of the content bridge.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/logger"
	"github.com/CageChen/contentbridge/internal/middleware"
	"github.com/CageChen/contentbridge/internal/remote"
)

const (
	defaultUpdateMessage = "Update file via GitHub Content Bridge"
	defaultDeleteMessage = "Delete file via GitHub Content Bridge"
)

const (
	actionLoad   = "load"
	actionSave   = "save"
	actionDelete = "delete"
)

var (
	missingFieldMessages = map[string]string{
		actionLoad:   "owner, repo and path are required to load a file",
		actionSave:   "owner, repo and path are required to save a file",
		actionDelete: "owner, repo, path and sha are required to delete a file",
	}
	unexpectedMessages = map[string]string{
		actionLoad:   "an unexpected error occurred while loading the file",
		actionSave:   "an unexpected error occurred while saving the file",
		actionDelete: "an unexpected error occurred while deleting the file",
	}
)

var validate = validator.New()

// FileService performs the remote file operations.
type FileService interface {
	FetchFile(ctx context.Context, ref remote.FileRef) (*remote.File, error)
	WriteFile(ctx context.Context, w remote.WriteRequest) (*remote.WriteResult, error)
	DeleteFile(ctx context.Context, d remote.DeleteRequest) error
}

// ChangeNotifier is told about files changed through the bridge.
type ChangeNotifier interface {
	NotifyFileChange(FileChange)
}

// GetFileQuery is the query of GET /api/file
type GetFileQuery struct {
	Owner string `form:"owner" validate:"required"`
	Repo  string `form:"repo" validate:"required"`
	Path  string `form:"path" validate:"required"`
}

// PutFileRequest is the body of PUT /api/file. A nil SHA creates the file.
type PutFileRequest struct {
	Owner   string  `json:"owner" validate:"required"`
	Repo    string  `json:"repo" validate:"required"`
	Path    string  `json:"path" validate:"required"`
	Content string  `json:"content"`
	Message *string `json:"message"`
	SHA     *string `json:"sha"`
}

// DeleteFileRequest is the body of DELETE /api/file
type DeleteFileRequest struct {
	Owner   string  `json:"owner" validate:"required"`
	Repo    string  `json:"repo" validate:"required"`
	Path    string  `json:"path" validate:"required"`
	Message *string `json:"message"`
	SHA     string  `json:"sha" validate:"required"`
}

// FileResponse is the response of a successful load
type FileResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Path    string `json:"path"`
}

// WriteResponse is the response of a successful save
type WriteResponse struct {
	SHA  string `json:"sha"`
	Path string `json:"path"`
}

// FileHandler bridges /api/file to the remote file service. It keeps no
// state between requests.
type FileHandler struct {
	files    FileService
	notifier ChangeNotifier
	logger   *zap.Logger
}

// NewFileHandler creates a new file handler. notifier may be nil.
func NewFileHandler(files FileService, notifier ChangeNotifier, log *zap.Logger) *FileHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileHandler{
		files:    files,
		notifier: notifier,
		logger:   log,
	}
}

// GetFile loads a file
func (h *FileHandler) GetFile(c *gin.Context) {
	var q GetFileQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, actionLoad, remote.FileRef{}, newInvalidPayload())
		return
	}
	ref := remote.FileRef{Owner: q.Owner, Repo: q.Repo, Path: q.Path}
	if err := validate.Struct(q); err != nil {
		h.fail(c, actionLoad, ref, newMissingField(missingFieldMessages[actionLoad]))
		return
	}

	file, err := h.files.FetchFile(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, actionLoad, ref, err)
		return
	}

	c.JSON(http.StatusOK, FileResponse{
		Content: file.Content,
		SHA:     file.SHA,
		Path:    file.Path,
	})
}

// PutFile creates or updates a file
func (h *FileHandler) PutFile(c *gin.Context) {
	var req PutFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, actionSave, remote.FileRef{}, newInvalidPayload())
		return
	}
	ref := remote.FileRef{Owner: req.Owner, Repo: req.Repo, Path: req.Path}
	if err := validate.Struct(req); err != nil {
		h.fail(c, actionSave, ref, newMissingField(missingFieldMessages[actionSave]))
		return
	}

	message := defaultUpdateMessage
	if req.Message != nil {
		// An explicit empty message falls through to the per-path default.
		message = *req.Message
	}
	sha := ""
	if req.SHA != nil {
		sha = *req.SHA
	}

	res, err := h.files.WriteFile(c.Request.Context(), remote.WriteRequest{
		FileRef: ref,
		Content: req.Content,
		Message: message,
		SHA:     sha,
	})
	if err != nil {
		h.fail(c, actionSave, ref, err)
		return
	}

	h.notify(FileChange{Event: EventUpdate, Owner: req.Owner, Repo: req.Repo, Path: res.Path, SHA: res.SHA})
	c.JSON(http.StatusOK, WriteResponse{SHA: res.SHA, Path: res.Path})
}

// DeleteFile removes a file at the given revision
func (h *FileHandler) DeleteFile(c *gin.Context) {
	var req DeleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, actionDelete, remote.FileRef{}, newInvalidPayload())
		return
	}
	ref := remote.FileRef{Owner: req.Owner, Repo: req.Repo, Path: req.Path}
	if err := validate.Struct(req); err != nil {
		h.fail(c, actionDelete, ref, newMissingField(missingFieldMessages[actionDelete]))
		return
	}

	message := defaultDeleteMessage
	if req.Message != nil && *req.Message != "" {
		message = *req.Message
	}

	err := h.files.DeleteFile(c.Request.Context(), remote.DeleteRequest{
		FileRef: ref,
		Message: message,
		SHA:     req.SHA,
	})
	if err != nil {
		h.fail(c, actionDelete, ref, err)
		return
	}

	h.notify(FileChange{Event: EventRemove, Owner: req.Owner, Repo: req.Repo, Path: req.Path})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *FileHandler) notify(change FileChange) {
	if h.notifier != nil {
		h.notifier.NotifyFileChange(change)
	}
}

// fail writes the error response. Expected failures pass their message
// through; anything else is logged and answered with a generic 500.
func (h *FileHandler) fail(c *gin.Context, action string, ref remote.FileRef, err error) {
	_ = c.Error(err)

	fields := []zap.Field{
		zap.String(logger.FieldRequestID, middleware.RequestID(c)),
		zap.String(logger.FieldAction, action),
		zap.String(logger.FieldOwner, ref.Owner),
		zap.String(logger.FieldRepo, ref.Repo),
		zap.String(logger.FieldPath, ref.Path),
	}

	if be, ok := asBridgeError(err); ok {
		h.logger.Debug("request failed", append(fields,
			zap.String("kind", string(be.Kind)),
			zap.Int(logger.FieldStatus, be.StatusCode),
			zap.String(logger.FieldError, be.Message),
		)...)
		c.JSON(be.StatusCode, gin.H{"error": be.Message})
		return
	}

	h.logger.Error("unexpected failure", append(fields, zap.Error(err))...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": unexpectedMessages[action]})
}
