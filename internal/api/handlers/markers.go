package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"trip-route-service/internal/markers"
)

type MarkerHandler struct {
	Cache *markers.Cache
}

// MarkerURL is the image URL serving the marker described by kind and p.
// Colors are not encoded: the handler restyles from the palette.
func MarkerURL(kind markers.Kind, p markers.Params) string {
	q := url.Values{}
	if p.Number != 0 {
		q.Set("number", strconv.Itoa(p.Number))
	}
	if p.Label != "" {
		q.Set("label", p.Label)
	}
	if p.Dark {
		q.Set("dark", "true")
	}
	if p.Skipped {
		q.Set("skipped", "true")
	}
	if p.Start {
		q.Set("start", "true")
	}
	u := "/markers/" + string(kind) + ".png"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// PNG serves a marker bitmap from the cache, rendering it on a miss.
func (h *MarkerHandler) PNG(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	name, ok := strings.CutSuffix(file, ".png")
	if !ok {
		writeError(w, r, http.StatusNotFound, "marker must be a .png")
		return
	}
	kind := markers.Kind(name)
	if !kind.Valid() {
		writeError(w, r, http.StatusNotFound, "unknown marker kind "+strconv.Quote(name))
		return
	}

	number := 0
	if raw := r.URL.Query().Get("number"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "number must be an integer")
			return
		}
		number = n
	}

	params := markers.Styled(kind, number, r.URL.Query().Get("label"),
		queryBool(r, "dark"), queryBool(r, "skipped"), queryBool(r, "start"))
	if err := markers.Validate(kind, params); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bmp, err := h.Cache.Get(r.Context(), kind, params)
	if err != nil {
		writeServiceError(w, r, "render marker", err)
		return
	}
	body, err := bmp.PNG()
	if err != nil {
		writeServiceError(w, r, "encode marker", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("ETag", strconv.Quote(bmp.Key))
	_, _ = w.Write(body)
}
