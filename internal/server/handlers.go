// ABOUTME: Handlers for system log upload, prediction download and the product list.
// ABOUTME: Uploads run the scoring engine in-process against the configured vulnerability catalog.

package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/history"
	"github.com/jfeddern/VulnRisk/internal/providers/local"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Multipart parts beyond this size are buffered on disk
const multipartMemory = 32 << 20

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// UploadResponse is returned by a successful upload
type UploadResponse struct {
	Message     string            `json:"message"`
	DownloadURL string            `json:"download_url"`
	Predictions []types.RiskScore `json:"predictions"`
}

// SecureFilename reduces an uploaded filename to a safe basename made of
// ASCII letters, digits, '_', '.' and '-'. Path separators and whitespace
// become '_'. The result may be empty.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Join(strings.Fields(strings.ReplaceAll(name, "/", " ")), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

func allowedFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// OutputName is the prediction filename for an upload: the UTC timestamp
// followed by the first eight characters of id
func OutputName(id string, ts string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("predictions_%s_%s.csv", ts, id)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/upload")

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	filename := SecureFilename(header.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}
	if !allowedFile(filename) {
		writeError(w, http.StatusBadRequest, "Invalid file format")
		return
	}

	uploadPath, err := s.saveUpload(filename, file)
	if err != nil {
		logger.WithError(err).Error("Failed to save upload")
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}

	selectedModel := strings.TrimSpace(r.FormValue("model"))
	if selectedModel == "" {
		selectedModel = s.config.DefaultModel
	}

	jobID := s.tracker.Enqueue()
	defer s.tracker.Done(jobID)
	s.tracker.Touch(clientIP(r))

	outputName := OutputName(uuid.NewString(), s.now().UTC().Format("20060102150405"))
	logger = logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"upload": uploadPath,
		"model":  selectedModel,
		"output": outputName,
	})
	logger.Info("Processing uploaded system log")

	result, err := s.scorer.Run(r.Context(), engine.Request{
		Systems:    local.NewSystemFile(uploadPath, s.logger),
		Catalog:    local.NewCatalogFile(s.config.CatalogFile, s.logger),
		Model:      selectedModel,
		OutputPath: filepath.Join(s.config.PredictionsDir, outputName),
	})
	if err != nil {
		logger.WithError(err).Error("Processing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Processing failed",
			"kind":  string(types.KindOf(err)),
		})
		return
	}

	predictions := result.Rows
	if predictions == nil {
		predictions = []types.RiskScore{}
	}
	writeJSON(w, http.StatusOK, UploadResponse{
		Message:     "Processing complete",
		DownloadURL: "/download/" + outputName,
		Predictions: predictions,
	})
}

// saveUpload stores the upload under a unique name ending in filename so
// concurrent uploads of the same file never share an input
func (s *Server) saveUpload(filename string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	dst, err := os.CreateTemp(s.config.UploadDir, "*_"+filename)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file for %s: %w", filename, err)
	}
	defer dst.Close()

	path := dst.Name()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, dst.Close()
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(mux.Vars(r)["filename"])
	path := filepath.Join(s.config.PredictionsDir, filename)

	file, err := os.Open(path)
	if err != nil {
		s.logger.WithField("path", path).Debug("Prediction file not found")
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	frame, err := table.ReadCSVFile(s.config.CatalogFile)
	if err != nil {
		if errors.Is(err, types.ErrInputNotFound) {
			writeError(w, http.StatusInternalServerError, "CVE log file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	col, ok := frame.Column(types.ColumnProduct)
	if !ok {
		writeError(w, http.StatusInternalServerError, "CVE log has no Product column")
		return
	}

	products := []string{}
	seen := make(map[string]bool)
	for i := 0; i < col.Len(); i++ {
		product, ok := col.Text(i)
		if !ok || product == "" || seen[product] {
			continue
		}
		seen[product] = true
		products = append(products, product)
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) records() []history.Record {
	if s.history == nil {
		return []history.Record{}
	}
	records := s.history.List()
	if records == nil {
		return []history.Record{}
	}
	return records
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.records())
}
