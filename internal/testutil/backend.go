// backend.go - Fake claim-processing backend for testing
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tiss-anexos/intake/internal/submit"
)

// Backend is an httptest server speaking the /api/enviar and /api/process
// protocols. By default every PDF of a request is reported as delivered.
type Backend struct {
	*httptest.Server

	mu       sync.Mutex
	requests []submit.EnviarRequest
	legacy   [][]string
	failing  map[int]int

	// Gate, when set, blocks every /api/enviar request until it is closed.
	Gate chan struct{}
}

// NewBackend starts a fake backend that is closed with the test.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{failing: make(map[int]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/enviar", b.handleEnviar)
	mux.HandleFunc("/api/process", b.handleProcess)
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// SubmitURL is the batch endpoint URL.
func (b *Backend) SubmitURL() string { return b.URL + "/api/enviar" }

// LegacyURL is the multipart endpoint URL.
func (b *Backend) LegacyURL() string { return b.URL + "/api/process" }

// FailRequest makes the n-th /api/enviar request (1-based) answer with status.
func (b *Backend) FailRequest(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[n] = status
}

// Requests returns the batch requests received so far.
func (b *Backend) Requests() []submit.EnviarRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]submit.EnviarRequest(nil), b.requests...)
}

// LegacyUploads returns the file names of every multipart request.
func (b *Backend) LegacyUploads() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.legacy...)
}

func (b *Backend) handleEnviar(w http.ResponseWriter, r *http.Request) {
	if b.Gate != nil {
		<-b.Gate
	}

	var req submit.EnviarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	status, fail := b.failing[len(b.requests)]
	b.mu.Unlock()

	if fail {
		http.Error(w, http.StatusText(status), status)
		return
	}

	names := make([]string, 0, len(req.PDFs))
	for name := range req.PDFs {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := submit.EnviarResponse{Resumo: &submit.Resumo{}}
	for _, name := range names {
		guia := guiaOf(name)
		resp.Resultados = append(resp.Resultados, submit.Resultado{
			Paciente:       &submit.Paciente{NumeroGuiaPrestador: guia, NumeroCarteira: "0000" + guia, Nome: "PACIENTE " + guia},
			Success:        true,
			ResultadoEnvio: &submit.ResultadoEnvio{Success: true, StatusCode: http.StatusOK, Tentativas: 1},
			PDFName:        name,
		})
		resp.Resumo.Sucessos++
		resp.Resumo.Total++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (b *Backend) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var names []string
	var results []submit.Resultado
	for _, fh := range r.MultipartForm.File["files"] {
		names = append(names, fh.Filename)
		if strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			results = append(results, submit.Resultado{
				Paciente:       &submit.Paciente{NumeroGuiaPrestador: guiaOf(fh.Filename)},
				ResultadoEnvio: &submit.ResultadoEnvio{Success: true, StatusCode: http.StatusOK, Tentativas: 1},
			})
		}
	}

	b.mu.Lock()
	b.legacy = append(b.legacy, names)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(submit.ProcessResponse{Success: true, Resultados: results})
}

// guiaOf takes the guide number from names like 123_GUIA_doc1.pdf.
func guiaOf(name string) string {
	base := name
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	if i := strings.Index(base, "_"); i >= 0 {
		base = base[:i]
	}
	return base
}
