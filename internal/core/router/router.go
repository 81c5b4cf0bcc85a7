package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
)

const maxBodyBytes = 64 << 10

// Segmenter turns a clicked point into a feature collection.
type Segmenter interface {
	Segment(ctx context.Context, p model.GeoPoint) (*geojson.FeatureCollection, error)
}

// HandleSegment parses a click from a JSON body (POST) or the query string
// (GET) and writes the segmentation result as GeoJSON.
func HandleSegment(logger *slog.Logger, s Segmenter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/segment", sw.code, time.Since(start).Seconds())
		}()

		p, err := ParseSegmentRequest(r)
		if err != nil {
			writeError(sw, r, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}

		fc, err := s.Segment(r.Context(), p)
		if err != nil {
			status, code, msg := classify(err)
			lvl := slog.LevelWarn
			if status >= http.StatusInternalServerError {
				lvl = slog.LevelError
			}
			logger.Log(r.Context(), lvl, "segmentation failed",
				"point", p.String(), "status", status, "code", code, "err", err)
			writeError(sw, r, status, code, msg)
			return
		}

		body, err := fc.MarshalJSON()
		if err != nil {
			logger.Error("encode feature collection", "err", err)
			writeError(sw, r, http.StatusInternalServerError, CodeInternal, "internal server error")
			return
		}
		sw.Header().Set("Content-Type", "application/geo+json")
		sw.WriteHeader(http.StatusOK)
		_, _ = sw.Write(body)
	}
}

// Index is the service banner at GET /.
func Index(version, checkpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service":    "farm-segmenter",
			"version":    version,
			"checkpoint": checkpoint,
			"usage":      `POST /segment {"lat": <float>, "lng": <float>}`,
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type segmentBody struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
	Lon *float64 `json:"lon"`
}

// ParseSegmentRequest reads the clicked point. Range checks are left to the
// pipeline so that every entry point rejects the same inputs.
func ParseSegmentRequest(r *http.Request) (model.GeoPoint, error) {
	switch r.Method {
	case http.MethodPost:
		return parseBody(r)
	case http.MethodGet:
		return parseQuery(r)
	default:
		return model.GeoPoint{}, fmt.Errorf("method %s not allowed", r.Method)
	}
}

func parseBody(r *http.Request) (model.GeoPoint, error) {
	var b segmentBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return model.GeoPoint{}, errors.New("request body is empty")
		}
		return model.GeoPoint{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	if b.Lat == nil {
		return model.GeoPoint{}, errors.New("missing required field: lat")
	}
	lon := b.Lng
	if lon == nil {
		lon = b.Lon
	}
	if lon == nil {
		return model.GeoPoint{}, errors.New("missing required field: lng")
	}
	return model.GeoPoint{Lat: *b.Lat, Lon: *lon}, nil
}

func parseQuery(r *http.Request) (model.GeoPoint, error) {
	q := r.URL.Query()
	rawLat := strings.TrimSpace(q.Get("lat"))
	if rawLat == "" {
		return model.GeoPoint{}, errors.New("missing required parameter: lat")
	}
	rawLon := strings.TrimSpace(q.Get("lng"))
	if rawLon == "" {
		rawLon = strings.TrimSpace(q.Get("lon"))
	}
	if rawLon == "" {
		return model.GeoPoint{}, errors.New("missing required parameter: lng")
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return model.GeoPoint{}, fmt.Errorf("lat: %w", err)
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return model.GeoPoint{}, fmt.Errorf("lng: %w", err)
	}
	return model.GeoPoint{Lat: lat, Lon: lon}, nil
}

