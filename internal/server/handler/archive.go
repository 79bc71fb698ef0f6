package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// ArchiveLister lists archived history files.
type ArchiveLister interface {
	Archives(ctx context.Context) ([]domain.BlobInfo, error)
}

// ArchiveHandler exposes what has been moved to object storage.
type ArchiveHandler struct {
	archives ArchiveLister
	logger   *slog.Logger
}

func NewArchiveHandler(archives ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logHandler(logger, "archive")}
}

// ListArchives
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	files, err := h.archives.Archives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": nonNil(files)})
}
