package submit

import "github.com/tiss-anexos/intake/internal/models"

// EnviarRequest is the JSON body of a batch submission.
type EnviarRequest struct {
	XMLFiles []models.LoadedXML `json:"xmlFiles"`
	PDFs     map[string]string  `json:"pdfs"`
}

// Paciente identifies the claim a backend result refers to.
type Paciente struct {
	NumeroGuiaPrestador string `json:"numeroGuiaPrestador,omitempty"`
	NumeroCarteira      string `json:"numeroCarteira,omitempty"`
	Nome                string `json:"nome,omitempty"`
	Carteirinha         string `json:"carteirinha,omitempty"`
}

// ResultadoEnvio is the backend's record of its own delivery attempts.
type ResultadoEnvio struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Tentativas int    `json:"tentativas,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Resultado is one per-item entry of a backend response.
type Resultado struct {
	Paciente       *Paciente       `json:"paciente,omitempty"`
	Success        bool            `json:"success"`
	ResultadoEnvio *ResultadoEnvio `json:"resultado_envio,omitempty"`
	Error          string          `json:"error,omitempty"`
	PDFName        string          `json:"pdf_name,omitempty"`
}

// Resumo is the backend's per-request tally.
type Resumo struct {
	Sucessos int `json:"sucessos"`
	Erros    int `json:"erros"`
	Total    int `json:"total"`
}

// EnviarResponse is the body returned for a batch submission.
type EnviarResponse struct {
	Resultados []Resultado `json:"resultados"`
	Resumo     *Resumo     `json:"resumo,omitempty"`
}

// ProcessResponse is the body returned by the legacy multipart endpoint.
type ProcessResponse struct {
	Success    bool        `json:"success"`
	Resultados []Resultado `json:"resultados,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Succeeded reports the item outcome. The legacy endpoint only fills
// resultado_envio.
func (r Resultado) Succeeded() bool {
	if r.Success {
		return true
	}
	return r.ResultadoEnvio != nil && r.ResultadoEnvio.Success
}

// ErrorText returns the most specific error message available.
func (r Resultado) ErrorText() string {
	if r.ResultadoEnvio != nil && r.ResultadoEnvio.Error != "" {
		return r.ResultadoEnvio.Error
	}
	if r.Error != "" {
		return r.Error
	}
	return "unknown error"
}

// Patient maps the backend patient block.
func (r Resultado) Patient() models.Patient {
	if r.Paciente == nil {
		return models.Patient{}
	}
	carteira := r.Paciente.NumeroCarteira
	if carteira == "" {
		carteira = r.Paciente.Carteirinha
	}
	return models.Patient{
		GuiaPrestador: r.Paciente.NumeroGuiaPrestador,
		Carteira:      carteira,
		Nome:          r.Paciente.Nome,
	}
}

// ToResult converts a backend entry. batchAttempts and httpStatus are used
// when the entry carries no delivery record of its own.
func (r Resultado) ToResult(batchIndex, batchAttempts, httpStatus int) models.SubmissionResult {
	res := models.SubmissionResult{
		Patient:    r.Patient(),
		PDFName:    r.PDFName,
		BatchIndex: batchIndex,
		Success:    r.Succeeded(),
		StatusCode: httpStatus,
		Attempts:   batchAttempts,
	}
	if r.ResultadoEnvio != nil {
		if r.ResultadoEnvio.StatusCode != 0 {
			res.StatusCode = r.ResultadoEnvio.StatusCode
		}
		if r.ResultadoEnvio.Tentativas > 0 {
			res.Attempts = r.ResultadoEnvio.Tentativas
		}
	}
	if !res.Success {
		res.ErrorMessage = r.ErrorText()
	}
	return res
}
