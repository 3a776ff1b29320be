package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/dht"
	"github.com/kutluhann/decen-dht/storage"
	"github.com/kutluhann/decen-dht/transfer"
)

// FileService is the node surface the HTTP API drives.
type FileService interface {
	Self() dht.Contact
	StoreFile(ctx context.Context, path string) (string, error)
	FetchFile(ctx context.Context, fileID, outputPath string) error
	Files() ([]storage.FileInfo, error)
	ChunkCount() (int, error)
	KnownPeers() int
	Buckets() []dht.BucketInfo
}

// StoreRequest names a local file to publish
type StoreRequest struct {
	Path string `json:"path"`
}

type StoreResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	FileID  string `json:"file_id,omitempty"`
}

// GetRequest asks for a file to be fetched into OutputPath
type GetRequest struct {
	FileID     string `json:"file_id"`
	OutputPath string `json:"output_path"`
}

type GetResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	FileID     string `json:"file_id"`
	OutputPath string `json:"output_path,omitempty"`
}

// StatusResponse represents node status information
type StatusResponse struct {
	NodeID       string             `json:"node_id"`
	IP           string             `json:"ip"`
	Port         int                `json:"port"`
	KnownPeers   int                `json:"known_peers"`
	StoredChunks int                `json:"stored_chunks"`
	Files        []storage.FileInfo `json:"files"`
}

type contactView struct {
	NodeID   string    `json:"node_id"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

type bucketView struct {
	Index    int           `json:"index"`
	Contacts []contactView `json:"contacts"`
}

// HTTPServer exposes store/get and node introspection over JSON.
type HTTPServer struct {
	Node FileService
	Port int

	server *http.Server
}

func NewHTTPServer(node FileService, port int) *HTTPServer {
	return &HTTPServer{
		Node: node,
		Port: port,
	}
}

// Router returns the API routes, also used by tests.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/store", s.handleStore).Methods(http.MethodPost)
	r.HandleFunc("/get", s.handleGet).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/routing-table", s.handleRoutingTable).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("[HTTP-API] Starting HTTP server on %s", addr)
	logrus.Infof("[HTTP-API]   POST /store  {\"path\"}")
	logrus.Infof("[HTTP-API]   POST /get    {\"file_id\", \"output_path\"}")
	logrus.Infof("[HTTP-API]   GET  /status /routing-table /health /metrics")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	logrus.Infof("[HTTP-API] Store request: %s", req.Path)
	fileID, err := s.Node.StoreFile(r.Context(), req.Path)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, StoreResponse{
			Message: fmt.Sprintf("Failed to store: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, StoreResponse{Success: true, FileID: fileID})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	var req GetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.FileID == "" || req.OutputPath == "" {
		http.Error(w, "file_id and output_path are required", http.StatusBadRequest)
		return
	}

	logrus.Infof("[HTTP-API] Get request: %s -> %s", req.FileID, req.OutputPath)
	err := s.Node.FetchFile(r.Context(), req.FileID, req.OutputPath)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dht.ErrInvalidIdentifier):
			status = http.StatusBadRequest
		case errors.Is(err, transfer.ErrFileNotFound):
			status = http.StatusNotFound
		case errors.Is(err, transfer.ErrChunkUnavailable), errors.Is(err, transfer.ErrKeyExchange):
			status = http.StatusBadGateway
		}
		writeJSON(w, status, GetResponse{
			Message: err.Error(),
			FileID:  req.FileID,
		})
		return
	}

	writeJSON(w, http.StatusOK, GetResponse{Success: true, FileID: req.FileID, OutputPath: req.OutputPath})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	files, err := s.Node.Files()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	chunks, err := s.Node.ChunkCount()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	self := s.Node.Self()
	writeJSON(w, http.StatusOK, StatusResponse{
		NodeID:       self.ID.String(),
		IP:           self.IP,
		Port:         self.Port,
		KnownPeers:   s.Node.KnownPeers(),
		StoredChunks: chunks,
		Files:        files,
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) handleRoutingTable(w http.ResponseWriter, r *http.Request) {
	// Enable CORS if running frontend separately
	w.Header().Set("Access-Control-Allow-Origin", "*")

	buckets := []bucketView{}
	for _, b := range s.Node.Buckets() {
		view := bucketView{Index: b.Index}
		for _, c := range b.Contacts {
			view.Contacts = append(view.Contacts, contactView{
				NodeID:   c.ID.String(),
				Address:  c.Addr(),
				LastSeen: c.LastSeen,
			})
		}
		buckets = append(buckets, view)
	}
	writeJSON(w, http.StatusOK, buckets)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
