package server

const (
	statusSuccess = "success"
	statusError   = "error"
	statusHealthy = "healthy"
)

type PredictionResponse struct {
	PredictedWord  string    `json:"predicted_word"`
	Confidence     float32   `json:"confidence"`
	Status         string    `json:"status"`
	Timestamp      string    `json:"timestamp"`
	SessionID      string    `json:"session_id,omitempty"`
	AllPredictions []float32 `json:"all_predictions,omitempty"`
}

type PredictionRequest struct {
	Image     string `json:"image"`
	SessionID string `json:"session_id"`
}

type ErrorResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ModelLoaded bool   `json:"model_loaded"`
	Timestamp   string `json:"timestamp"`
}

type RootResponse struct {
	Message     string `json:"message"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
}

type WordsResponse struct {
	Words []string `json:"words"`
	Count int      `json:"count"`
}

type ModelInfoResponse struct {
	ModelLoaded bool     `json:"model_loaded"`
	Labels      []string `json:"labels"`
	LabelCount  int      `json:"label_count"`
	ImageSize   int      `json:"image_size"`
	Threshold   float32  `json:"threshold"`
}
