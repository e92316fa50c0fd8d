package session

import (
	"encoding/json"
	"image/png"
	"net/http"

	"github.com/skipperro/mosaic/media"
)

// APIHandler returns the local HTTP API consumed by the settings UI: the
// stats snapshot, the current composite frame, and the command endpoints
// for resolution, encoder mode, buffer depth, and pipeline toggles.
func (c *Client) APIHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Snapshot())
	})

	mux.HandleFunc("GET /api/frame.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, c.surface.Frame()); err != nil {
			c.log.Debug("frame encode failed", "error", err)
		}
	})

	mux.HandleFunc("POST /api/resolution", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Width  int  `json:"width"`
			Height int  `json:"height"`
			Auto   bool `json:"auto"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Auto {
			c.coord.ResetToAuto(req.Width, req.Height)
		} else {
			c.coord.SetManualResolution(req.Width, req.Height)
		}
		writeJSON(w, c.coord.Resolution())
	})

	mux.HandleFunc("POST /api/mode", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mode, err := media.ParseEncoderMode(req.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.coord.SetEncoderMode(mode)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/buffer", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Depth int `json:"depth"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.SetBufferDepth(req.Depth)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/video", func(w http.ResponseWriter, r *http.Request) {
		handleToggle(w, r, c.SetVideoActive)
	})

	mux.HandleFunc("POST /api/audio", func(w http.ResponseWriter, r *http.Request) {
		handleToggle(w, r, c.SetAudioActive)
	})

	return mux
}

func handleToggle(w http.ResponseWriter, r *http.Request, set func(bool)) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	set(req.Active)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
