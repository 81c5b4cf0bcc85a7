package pmfby

import (
	"encoding/json"
	"errors"
	"fmt"
)

type HealthStatus struct {
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message,omitempty"`
}

type ThresholdRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Crop      string  `json:"crop"`
	Season    string  `json:"season"`
	District  string  `json:"district,omitempty"`
}

type ThresholdResponse struct {
	Success           bool    `json:"success"`
	Threshold         float64 `json:"threshold"`
	District          string  `json:"district,omitempty"`
	CalculationMethod string  `json:"calculation_method,omitempty"`
	Unit              string  `json:"unit,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// PredictRequest describes one farm. Year, District and Threshold are
// resolved by the server when left zero.
type PredictRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Crop      string  `json:"crop"`
	Season    string  `json:"season"`
	Area      float64 `json:"area"`
	Year      int     `json:"year,omitempty"`
	District  string  `json:"district,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

type PredictResponse struct {
	Success bool         `json:"success"`
	Data    *PredictData `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type PredictData struct {
	Location   Location        `json:"location"`
	CropInfo   CropInfo        `json:"crop_info"`
	Prediction Prediction      `json:"prediction"`
	PMFBY      Assessment      `json:"pmfby"`
	Model      ModelInfo       `json:"model"`
	Weather    json.RawMessage `json:"weather,omitempty"`
	Soil       json.RawMessage `json:"soil,omitempty"`
	Stress     json.RawMessage `json:"stress,omitempty"`
}

type Location struct {
	District  string  `json:"district"`
	State     string  `json:"state,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

type CropInfo struct {
	Crop   string  `json:"crop"`
	Season string  `json:"season"`
	Area   float64 `json:"area"`
	Year   int     `json:"year,omitempty"`
}

// Prediction yields are kg/ha; TotalProduction is kg.
type Prediction struct {
	PredictedYield     float64   `json:"predicted_yield"`
	Uncertainty        float64   `json:"uncertainty"`
	ConfidenceInterval []float64 `json:"confidence_interval,omitempty"`
	TotalProduction    float64   `json:"total_production"`
}

type Assessment struct {
	Threshold        float64 `json:"threshold"`
	ClaimTriggered   bool    `json:"claim_triggered"`
	ClaimProbability float64 `json:"claim_probability"`
}

type ModelInfo struct {
	Accuracy float64 `json:"accuracy"`
}

// BatchResult pairs one request with its outcome; exactly one of Response
// and Err is set.
type BatchResult struct {
	Request  PredictRequest
	Response *PredictResponse
	Err      error
}

// APIError is a non-2xx answer from the yield API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pmfby: status %d: %s", e.Status, e.Body)
}

func validateFarm(lat, lon float64, crop, season string) error {
	var errs []error
	if lat < -90 || lat > 90 {
		errs = append(errs, fmt.Errorf("latitude %g out of range", lat))
	}
	if lon < -180 || lon > 180 {
		errs = append(errs, fmt.Errorf("longitude %g out of range", lon))
	}
	if crop == "" {
		errs = append(errs, errors.New("crop is required"))
	}
	if season == "" {
		errs = append(errs, errors.New("season is required"))
	}
	return errors.Join(errs...)
}

func (r ThresholdRequest) Validate() error {
	return validateFarm(r.Latitude, r.Longitude, r.Crop, r.Season)
}

func (r PredictRequest) Validate() error {
	err := validateFarm(r.Latitude, r.Longitude, r.Crop, r.Season)
	if r.Area <= 0 {
		err = errors.Join(err, fmt.Errorf("area must be positive, got %g", r.Area))
	}
	return err
}
