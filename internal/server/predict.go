// ABOUTME: JSON inference endpoint over already engineered feature rows.
// ABOUTME: Scores instances with the selected model and returns one prediction per instance.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/types"

	"github.com/sirupsen/logrus"
)

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/api/predict")
	s.tracker.Touch(clientIP(r))

	var req engine.PredictRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Instances) == 0 {
		writeError(w, http.StatusBadRequest, "No instances")
		return
	}
	if req.Model == "" {
		req.Model = s.config.DefaultModel
	}

	prediction, err := s.scorer.Predict(r.Context(), req)
	if err != nil {
		kind := types.KindOf(err)
		status := http.StatusInternalServerError
		switch kind {
		case types.KindFeatureMismatch, types.KindSchemaError, types.KindNonNumericResidue:
			status = http.StatusBadRequest
		}
		logger.WithError(err).WithField("model", req.Model).Warn("Prediction request failed")
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
			"kind":  string(kind),
		})
		return
	}

	logger.WithFields(logrus.Fields{
		"model":     prediction.Model,
		"instances": len(prediction.Predictions),
	}).Info("Prediction request served")
	writeJSON(w, http.StatusOK, prediction)
}
