package fixtures

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/eliteGoblin/focusd/face_mon/internal/infra"
)

// Embeddings returned per face. The stranger sits far outside any sane tolerance.
var (
	UserEmbedding     = []float32{0.1, 0.2, 0.3, 0.4}
	StrangerEmbedding = []float32{2.1, 2.2, 2.3, 2.4}
)

// EmbeddingServer is an in-process stand-in for the face embedding service.
// It answers /embed/face based on the scene encoded in the uploaded frame.
type EmbeddingServer struct {
	*httptest.Server
	requests atomic.Int64
	failing  atomic.Bool
}

// NewEmbeddingServer starts the server. Call Close when done.
func NewEmbeddingServer() *EmbeddingServer {
	s := &EmbeddingServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/face", s.handleFace)
	s.Server = httptest.NewServer(mux)
	return s
}

// Requests returns how many embedding requests were served.
func (s *EmbeddingServer) Requests() int {
	return int(s.requests.Load())
}

// SetFailing makes every request answer 503.
func (s *EmbeddingServer) SetFailing(failing bool) {
	s.failing.Store(failing)
}

func (s *EmbeddingServer) handleFace(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.failing.Load() {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var faces []infra.FaceDetection
	switch SceneOf(data) {
	case SceneUser:
		faces = append(faces, face(0, UserEmbedding))
	case SceneStranger:
		faces = append(faces, face(0, StrangerEmbedding))
	case SceneCrowd:
		faces = append(faces, face(0, StrangerEmbedding), face(1, UserEmbedding))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(infra.FaceResponse{
		FacesCount: len(faces),
		Faces:      faces,
		Model:      "fixture",
	})
}

func face(i int, embedding []float32) infra.FaceDetection {
	return infra.FaceDetection{
		FaceIndex: i,
		Dim:       len(embedding),
		Embedding: embedding,
		BBox:      []float64{10, 10, 110, 110},
		DetScore:  0.99,
	}
}
