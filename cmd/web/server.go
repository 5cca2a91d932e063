package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	parser "github.com/ojos-clinic/go-autoref-parser"
	"github.com/ojos-clinic/go-autoref-parser/capture"
	"github.com/ojos-clinic/go-autoref-parser/datfs"
	"github.com/ojos-clinic/go-autoref-parser/internal/config"
	"github.com/ojos-clinic/go-autoref-parser/internal/logger"
)

const (
	maxUpload      = 10 << 20
	captureTimeout = 60 * time.Second
)

type server struct {
	cfg     *config.Config
	log     logger.Logger
	parser  *parser.Parser
	links   *datfs.LinkStore
	capture *capture.Reader // nil without a configured serial port

	// openRead and openSave resolve the folders per request so that a
	// folder linked at runtime takes effect immediately.
	openRead func() (datfs.Directory, error)
	openSave func() (datfs.Directory, error)
}

func newServer(cfg *config.Config, log logger.Logger, links *datfs.LinkStore) *server {
	s := &server{
		cfg:    cfg,
		log:    log,
		parser: cfg.Parser(),
		links:  links,
	}
	if cfg.Serial.Port != "" {
		s.capture = capture.NewReader(cfg.Capture(), capture.WithLogger(log))
	}
	s.openRead = s.readFolder
	s.openSave = s.saveFolder
	return s
}

// readFolder prefers the configured folder over the linked one.
func (s *server) readFolder() (datfs.Directory, error) {
	if s.cfg.Folders.Read != "" {
		return datfs.NewOSDirectory(s.cfg.Folders.Read)
	}
	return s.links.OpenRead()
}

func (s *server) saveFolder() (datfs.Directory, error) {
	if s.cfg.Folders.Save != "" {
		return datfs.NewOSDirectory(s.cfg.Folders.Save)
	}
	if links, err := s.links.Load(); err == nil && links.SaveDir != "" {
		return datfs.NewOSDirectory(links.SaveDir)
	}
	return s.readFolder()
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/layouts", s.handleLayouts).Methods(http.MethodGet)
	api.HandleFunc("/parse", s.handleParse).Methods(http.MethodPost)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/serialize", s.handleSerialize).Methods(http.MethodPost)
	api.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{name}", s.handleHistoryFile).Methods(http.MethodGet)
	api.HandleFunc("/save", s.handleSave).Methods(http.MethodPost)
	api.HandleFunc("/folders", s.handleFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders", s.handleLinkFolders).Methods(http.MethodPut)
	api.HandleFunc("/capture", s.handleCapture).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", handleIndex).Methods(http.MethodGet)
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleIndex serves the embedded page.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	data, _ := indexHTML.ReadFile("index.html")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleLayouts(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, parser.GetSupportedLayouts())
}

// handleParse parses one uploaded file (form field "file", optional "layout").
func (s *server) handleParse(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		sendError(w, http.StatusBadRequest, "cannot read upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, http.StatusBadRequest, "cannot read file: "+err.Error())
		return
	}
	defer file.Close()

	result, err := s.parser.ParseFile(file, header.Filename, s.layout(r.FormValue("layout")))
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// handleImport parses every uploaded "files" entry, newest measurement first.
func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		sendError(w, http.StatusBadRequest, "cannot read upload: "+err.Error())
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		sendError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	sources := make([]parser.DatSource, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			// a nil reader is reported by the batch as "no content"
			s.log.Warn("open upload %s: %v", h.Filename, err)
			sources = append(sources, parser.DatSource{Filename: h.Filename})
			continue
		}
		opened = append(opened, f)
		sources = append(sources, parser.DatSource{Filename: h.Filename, Reader: f})
	}

	result := s.parser.ImportBatch(sources, s.layout(r.FormValue("layout")))
	parser.SortNewestFirst(result.Records)
	sendJSON(w, http.StatusOK, result)
}

type recordRequest struct {
	Record  *parser.AutoRefraction `json:"record"`
	Patient parser.PatientContext  `json:"patient"`
}

type serializeResponse struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

func (s *server) decodeRecord(w http.ResponseWriter, r *http.Request) (*recordRequest, bool) {
	var req recordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpload)).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	if req.Record == nil {
		sendError(w, http.StatusBadRequest, "record is required")
		return nil, false
	}
	return &req, true
}

func (s *server) handleSerialize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, serializeResponse{
		Content:  parser.SerializeDat(req.Record),
		Filename: parser.BuildDatFilename(req.Record, req.Patient),
	})
}

type fileResponse struct {
	File   datfs.FileInfo          `json:"file"`
	Result *parser.DatImportResult `json:"result"`
}

// handleLatest parses the newest file of the read folder.
func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	dir, err := s.openRead()
	if err != nil {
		sendErr(w, err)
		return
	}
	if err := datfs.EnsurePermission(r.Context(), dir, datfs.ModeRead); err != nil {
		sendErr(w, err)
		return
	}
	info, data, err := datfs.Latest(r.Context(), dir)
	if err != nil {
		sendErr(w, err)
		return
	}
	s.sendParsed(w, info, data, r.FormValue("layout"))
}

type historyEntry struct {
	datfs.FileInfo
	Parsed bool                `json:"parsed"`
	Info   *parser.FilenameInfo `json:"info,omitempty"`
}

// handleHistory lists the save folder with the fields encoded in each name.
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	dir, err := s.openSave()
	if err != nil {
		sendErr(w, err)
		return
	}
	if err := datfs.EnsurePermission(r.Context(), dir, datfs.ModeRead); err != nil {
		sendErr(w, err)
		return
	}
	files, err := dir.List(r.Context())
	if err != nil {
		sendErr(w, err)
		return
	}

	entries := make([]historyEntry, 0, len(files))
	for _, f := range files {
		e := historyEntry{FileInfo: f}
		if info, ok := parser.ParseFilename(f.Name); ok {
			e.Parsed, e.Info = true, &info
		}
		entries = append(entries, e)
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"folder": dir.Name(),
		"files":  entries,
	})
}

func (s *server) handleHistoryFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	dir, err := s.openSave()
	if err != nil {
		sendErr(w, err)
		return
	}
	if err := datfs.EnsurePermission(r.Context(), dir, datfs.ModeRead); err != nil {
		sendErr(w, err)
		return
	}
	data, err := dir.Read(r.Context(), name)
	if err != nil {
		sendErr(w, err)
		return
	}
	s.sendParsed(w, datfs.FileInfo{Name: name, Size: int64(len(data))}, data, r.FormValue("layout"))
}

func (s *server) sendParsed(w http.ResponseWriter, info datfs.FileInfo, data []byte, layout string) {
	result, err := s.parser.ParseFile(bytes.NewReader(data), info.Name, s.layout(layout))
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, fileResponse{File: info, Result: result})
}

// handleSave writes the record to the save folder under its built filename.
func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	dir, err := s.openSave()
	if err != nil {
		sendErr(w, err)
		return
	}
	if err := datfs.EnsurePermission(r.Context(), dir, datfs.ModeReadWrite); err != nil {
		sendErr(w, err)
		return
	}

	content := parser.SerializeDat(req.Record)
	data, err := parser.EncodeInstrumentText(content, s.cfg.Instrument.Encoding)
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	name := parser.BuildDatFilename(req.Record, req.Patient)
	if err := dir.Write(r.Context(), name, data); err != nil {
		sendErr(w, err)
		return
	}

	s.log.Info("saved %s to %s", name, dir.Name())
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"folder":   dir.Name(),
		"filename": name,
	})
}

type foldersRequest struct {
	Read *string `json:"read"`
	Save *string `json:"save"`
}

func (s *server) handleFolders(w http.ResponseWriter, r *http.Request) {
	links, err := s.links.Load()
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"linked":     links,
		"configured": map[string]string{"read": s.cfg.Folders.Read, "save": s.cfg.Folders.Save},
	})
}

// handleLinkFolders remembers the folders given. Each must exist and be
// readable, the save folder also writable.
func (s *server) handleLinkFolders(w http.ResponseWriter, r *http.Request) {
	var req foldersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Read == nil && req.Save == nil {
		sendError(w, http.StatusBadRequest, "nothing to link")
		return
	}

	var links datfs.Links
	link := func(path *string, mode datfs.Mode, set func(string) (datfs.Links, error)) error {
		if path == nil {
			return nil
		}
		dir, err := datfs.NewOSDirectory(*path)
		if err != nil {
			return err
		}
		if err := datfs.EnsurePermission(r.Context(), dir, mode); err != nil {
			return err
		}
		links, err = set(dir.Name())
		return err
	}
	if err := link(req.Read, datfs.ModeRead, s.links.SetReadDir); err != nil {
		sendErr(w, err)
		return
	}
	if err := link(req.Save, datfs.ModeReadWrite, s.links.SetSaveDir); err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, links)
}

// handleCapture waits for the instrument to send a record over the serial line.
// "timeout" is in seconds.
func (s *server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.capture == nil {
		sendError(w, http.StatusServiceUnavailable, "no serial port configured")
		return
	}
	timeout := captureTimeout
	if v, err := strconv.Atoi(r.FormValue("timeout")); err == nil && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	record, text, err := s.capture.CaptureRecord(ctx, s.parser)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, capture.ErrNoData) {
			sendError(w, http.StatusGatewayTimeout, "no data from the instrument")
			return
		}
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"record":  record,
		"content": text,
	})
}

func (s *server) layout(v string) parser.Layout {
	if v == "" {
		return s.cfg.Layout()
	}
	return parser.ParseLayout(v)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, map[string]interface{}{
		"success": false,
		"errors":  []string{msg},
	})
}

// sendErr maps folder errors to a status code.
func sendErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, datfs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, datfs.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, datfs.ErrInvalidName):
		status = http.StatusBadRequest
	}
	sendError(w, status, fmt.Sprint(err))
}
