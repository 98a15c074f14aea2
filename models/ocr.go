package models

// OCRExtractRequest is the body sent to the OCR sidecar.
type OCRExtractRequest struct {
	Image    []byte `json:"image"`
	Language string `json:"language,omitempty"`
}

// OCRExtractResponse parses the extracted text from the sidecar reply.
type OCRExtractResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}
