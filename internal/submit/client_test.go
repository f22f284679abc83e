package submit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiss-anexos/intake/internal/models"
)

func TestClient_Submit(t *testing.T) {
	var got EnviarRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/enviar", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"resultados": [{
				"paciente": {"numeroGuiaPrestador": "123", "numeroCarteira": "999", "nome": "Maria"},
				"success": true,
				"resultado_envio": {"success": true, "status_code": 200, "tentativas": 1},
				"pdf_name": "123_GUIA_doc1.pdf"
			}],
			"resumo": {"sucessos": 1, "erros": 0, "total": 1}
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/enviar", srv.URL+"/api/process", time.Second)
	resp, status, err := c.Submit(context.Background(), EnviarRequest{
		XMLFiles: []models.LoadedXML{{Name: "lote.xml", Content: "<x/>"}},
		PDFs:     map[string]string{"123_GUIA_doc1.pdf": "QUJD"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, "lote.xml", got.XMLFiles[0].Name)
	assert.Equal(t, "QUJD", got.PDFs["123_GUIA_doc1.pdf"])

	require.Len(t, resp.Resultados, 1)
	item := resp.Resultados[0].ToResult(0, 1, status)
	assert.True(t, item.Success)
	assert.Equal(t, models.Patient{GuiaPrestador: "123", Carteira: "999", Nome: "Maria"}, item.Patient)
	assert.Equal(t, "123_GUIA_doc1.pdf", item.PDFName)
	require.NotNil(t, resp.Resumo)
	assert.Equal(t, 1, resp.Resumo.Total)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json error field", http.StatusBadRequest, `{"error": "Nenhum arquivo XML enviado"}`, "400 - Nenhum arquivo XML enviado"},
		{"plain text", http.StatusInternalServerError, "boom", "500 - boom"},
		{"empty body", http.StatusBadGateway, "", "502 - Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, srv.URL, 0)
			_, status, err := c.Submit(context.Background(), EnviarRequest{})
			require.Error(t, err)
			assert.Equal(t, tt.status, status)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantMsg, se.Error())
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 50*time.Millisecond)
	_, status, err := c.Submit(context.Background(), EnviarRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Process(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/process", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var names []string
		for _, fh := range r.MultipartForm.File["files"] {
			names = append(names, fh.Filename)
		}
		assert.Equal(t, []string{"lote.xml", "123.pdf"}, names)

		io.WriteString(w, `{"success": true, "resultados": [
			{"paciente": {"numeroGuiaPrestador": "123", "carteirinha": "777"},
			 "resultado_envio": {"success": true, "status_code": 200, "tentativas": 2}},
			{"paciente": {"numeroGuiaPrestador": "456"}, "error": "PDF não encontrado"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/enviar", srv.URL+"/api/process", time.Second)
	resp, _, err := c.Process(context.Background(), []Part{
		{Name: "lote.xml", Body: strings.NewReader("<x/>")},
		{Name: "123.pdf", Body: strings.NewReader("%PDF")},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Resultados, 2)

	ok := resp.Resultados[0].ToResult(0, 1, 200)
	assert.True(t, ok.Success)
	assert.Equal(t, "777", ok.Patient.Carteira)
	assert.Equal(t, 2, ok.Attempts)

	missing := resp.Resultados[1].ToResult(0, 1, 200)
	assert.False(t, missing.Success)
	assert.Equal(t, "PDF não encontrado", missing.ErrorMessage)
}

func TestResultado_ErrorText(t *testing.T) {
	assert.Equal(t, "from envio", Resultado{ResultadoEnvio: &ResultadoEnvio{Error: "from envio"}, Error: "top"}.ErrorText())
	assert.Equal(t, "top", Resultado{ResultadoEnvio: &ResultadoEnvio{}, Error: "top"}.ErrorText())
	assert.Equal(t, "unknown error", Resultado{}.ErrorText())
}
