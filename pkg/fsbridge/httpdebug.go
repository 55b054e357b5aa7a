package fsbridge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// imageStatsResponse is the JSON shape returned by GET /images/{id}/stats,
// mirroring the stats/ pseudo-files' counter set for operators who would
// rather not parse the mount tree.
type imageStatsResponse struct {
	ID            string `json:"id"`
	Size          uint64 `json:"size"`
	ChunkSize     uint64 `json:"chunk_size"`
	Chunks        uint64 `json:"chunks"`
	BytesRead     uint64 `json:"bytes_read"`
	BytesWritten  uint64 `json:"bytes_written"`
	ChunkFetches  uint64 `json:"chunk_fetches"`
	ChunkSkips    uint64 `json:"chunk_fetch_skips"`
	ChunkDirties  uint64 `json:"chunk_dirties"`
	IOErrors      uint64 `json:"io_errors"`
}

// DebugRouter returns a chi.Router exposing GET /images/{id}/stats for
// every configured image.
func DebugRouter(b *Bridge) chi.Router {
	r := chi.NewRouter()
	r.Get("/images/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		img, ok := b.images[id]
		if !ok {
			http.NotFound(w, req)
			return
		}

		size, _ := img.GetSize()
		chunkSize := img.ChunkSize()
		stats := img.Stats()

		resp := imageStatsResponse{
			ID:           id,
			Size:         size,
			ChunkSize:    chunkSize,
			Chunks:       (size + chunkSize - 1) / chunkSize,
			BytesRead:    stats.BytesRead.Load(),
			BytesWritten: stats.BytesWritten.Load(),
			ChunkFetches: stats.ChunkFetches.Load(),
			ChunkSkips:   stats.ChunkFetchSkip.Load(),
			ChunkDirties: stats.ChunkDirties.Load(),
			IOErrors:     stats.IOErrors.Load(),
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return r
}
