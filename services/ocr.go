package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/constella/horizon-backend/models"
)

// OCREngine is the external OCR collaborator: image bytes in, extracted
// text out. Implementations may fail or time out; they never retry.
type OCREngine interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// HTTPOCREngine reaches a tesseract sidecar over HTTP.
type HTTPOCREngine struct {
	httpClient *http.Client
	baseURL    string
	language   string
}

func NewHTTPOCREngine(client *http.Client, baseURL, language string) *HTTPOCREngine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPOCREngine{httpClient: client, baseURL: baseURL, language: language}
}

// Extract posts the image to the sidecar's /extract endpoint.
func (e *HTTPOCREngine) Extract(ctx context.Context, img []byte) (string, error) {
	reqBody, err := json.Marshal(models.OCRExtractRequest{Image: img, Language: e.language})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ocr request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create ocr http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call ocr engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ocr engine returned non-200 status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var ocrResp models.OCRExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return "", fmt.Errorf("failed to decode ocr response: %w", err)
	}
	return ocrResp.Text, nil
}

// OCRPipeline wraps the engine with input validation, a deadline, and a
// single bounded retry on timeout with a shortened budget.
type OCRPipeline struct {
	engine        OCREngine
	timeout       time.Duration
	maxImageBytes int
}

const (
	defaultOCRTimeout   = 15 * time.Second
	defaultMaxImageSize = 8 << 20
)

func NewOCRPipeline(engine OCREngine, timeout time.Duration, maxImageBytes int) *OCRPipeline {
	if timeout <= 0 {
		timeout = defaultOCRTimeout
	}
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageSize
	}
	return &OCRPipeline{engine: engine, timeout: timeout, maxImageBytes: maxImageBytes}
}

// ExtractText validates the image and runs the engine under a deadline.
// Oversized or undecodable images are rejected up front, never sent to
// the engine. A timed-out attempt is retried once with half the budget.
func (p *OCRPipeline) ExtractText(ctx context.Context, img []byte) (string, error) {
	const op = "ocr.extract"

	if len(img) == 0 {
		return "", Errorf(KindInvalidInput, op, "empty image payload")
	}
	if len(img) > p.maxImageBytes {
		return "", Errorf(KindImageTooLarge, op, "image is %d bytes, limit %d", len(img), p.maxImageBytes)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		return "", E(KindOCRDecode, op, fmt.Errorf("unsupported raster format: %w", err))
	} else {
		log.Printf("OCR: extracting text from %s image (%d bytes)", format, len(img))
	}

	text, err := p.extractOnce(ctx, img, p.timeout)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return "", E(KindOCREngine, op, err)
	}

	// One retry with a shortened budget, then surface the timeout.
	log.Printf("OCR: attempt timed out after %v, retrying with shortened budget", p.timeout)
	text, err = p.extractOnce(ctx, img, p.timeout/2)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", E(KindOCRTimeout, op, err)
	}
	return "", E(KindOCREngine, op, err)
}

func (p *OCRPipeline) extractOnce(ctx context.Context, img []byte, budget time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	text, err := p.engine.Extract(attemptCtx, img)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attemptCtx.Err() != nil {
			return "", context.DeadlineExceeded
		}
		return "", err
	}
	return text, nil
}
