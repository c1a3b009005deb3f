package server

import (
	"crypto/subtle"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/krau/signtagger/service"
)

const Version = "1.0.0"

var (
	errUnauthorized = errors.New("unauthorized")
)

// Classifier is the part of *service.Pipeline the handlers use.
type Classifier interface {
	IsReady() bool
	Labels() []string
	Options() service.Options
	Classify(img image.Image) (service.Result, error)
}

type Handler struct {
	classifier Classifier
	token      string
	maxUpload  int64
	maxPixels  int64
	now        func() time.Time
}

func NewHandler(classifier Classifier, token string, maxUpload, maxPixels int64) *Handler {
	return &Handler{
		classifier: classifier,
		token:      token,
		maxUpload:  maxUpload,
		maxPixels:  maxPixels,
		now:        time.Now,
	}
}

func (h *Handler) timestamp() string {
	return h.now().Format(time.RFC3339Nano)
}

func (h *Handler) authenticate(c *gin.Context) error {
	if h.token == "" {
		return nil
	}
	auth := c.GetHeader("Authorization")
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(h.token)) != 1 {
		return errUnauthorized
	}
	return nil
}

func (h *Handler) AuthMiddleware(c *gin.Context) {
	if err := h.authenticate(c); err != nil {
		h.abort(c, http.StatusUnauthorized, "authentication failed")
		return
	}
	c.Next()
}

func (h *Handler) abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Status:    statusError,
		Message:   msg,
		Timestamp: h.timestamp(),
	})
}

func (h *Handler) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, RootResponse{
		Message:     "Sign Language to Subtitle API",
		Version:     Version,
		ModelLoaded: h.classifier.IsReady(),
	})
}

func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      statusHealthy,
		Message:     "API is running",
		ModelLoaded: h.classifier.IsReady(),
		Timestamp:   h.timestamp(),
	})
}

func (h *Handler) WordsHandler(c *gin.Context) {
	words := h.classifier.Labels()
	c.JSON(http.StatusOK, WordsResponse{Words: words, Count: len(words)})
}

func (h *Handler) ModelInfoHandler(c *gin.Context) {
	labels := h.classifier.Labels()
	opts := h.classifier.Options()
	c.JSON(http.StatusOK, ModelInfoResponse{
		ModelLoaded: h.classifier.IsReady(),
		Labels:      labels,
		LabelCount:  len(labels),
		ImageSize:   opts.ImageSize,
		Threshold:   opts.Threshold,
	})
}

func (h *Handler) PredictHandler(c *gin.Context) {
	if c.Request.ContentLength > h.maxUpload {
		h.abort(c, http.StatusRequestEntityTooLarge, "image exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	fileHeader, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		fileHeader, err = c.FormFile("image")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.abort(c, http.StatusRequestEntityTooLarge, "image exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes")
			return
		}
		h.abort(c, http.StatusBadRequest, "no image uploaded, use the 'file' form field")
		return
	}

	data, err := readUpload(fileHeader)
	if err != nil {
		h.abort(c, http.StatusBadRequest, "unable to open the uploaded file")
		return
	}

	img, err := decodeImage(data, h.maxPixels)
	if err != nil {
		h.decodeFailed(c, err)
		return
	}

	h.classify(c, img, c.PostForm("session_id"))
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (h *Handler) PredictBase64Handler(c *gin.Context) {
	if c.Request.ContentLength > h.maxUpload {
		h.abort(c, http.StatusRequestEntityTooLarge, "request exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.abort(c, http.StatusRequestEntityTooLarge, "request exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes")
			return
		}
		h.abort(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Image == "" {
		h.abort(c, http.StatusBadRequest, "no image provided")
		return
	}

	img, err := decodeBase64Image(req.Image, h.maxPixels)
	if err != nil {
		h.decodeFailed(c, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	h.classify(c, img, sessionID)
}

func (h *Handler) decodeFailed(c *gin.Context, err error) {
	if errors.Is(err, errTooManyPixels) {
		h.abort(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	h.abort(c, http.StatusBadRequest, err.Error())
}

func (h *Handler) classify(c *gin.Context, img image.Image, sessionID string) {
	res, err := h.classifier.Classify(img)
	if err != nil {
		slog.Error("Classification failed", slog.String("error", err.Error()))
		h.abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	switch {
	case res.PredictedWord == service.WordNotLoaded:
		h.abort(c, http.StatusServiceUnavailable, res.Error)
		return
	case res.Failed():
		slog.Warn("Prediction failed", slog.String("error", res.Error))
		h.abort(c, http.StatusInternalServerError, res.Error)
		return
	}

	resp := PredictionResponse{
		PredictedWord: res.PredictedWord,
		Confidence:    res.Confidence,
		Status:        statusSuccess,
		Timestamp:     h.timestamp(),
		SessionID:     sessionID,
	}
	if c.Query("scores") == "true" {
		resp.AllPredictions = res.Scores
	}
	c.JSON(http.StatusOK, resp)
}
