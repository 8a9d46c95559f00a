package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"phasesim/internal/domain"
	"phasesim/pkg/utils"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second

	processPath = "/process"
	uploadPath  = "/upload"
	healthPath  = "/health"

	maxErrorBody = 1 << 20
)

type ProcessedImage struct {
	Data        []byte
	ContentType string
	Message     string
}

type processImageResponse struct {
	ProcessedImage string `json:"processed_image"`
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
}

type UploadResponse struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ProcessImage(ctx context.Context, file *domain.SelectedFile, phase domain.Phase) (*ProcessedImage, error) {
	body, contentType, err := multipartBody("file", file, map[string]string{"phase": string(phase)})
	if err != nil {
		return nil, unexpectedError("failed to build request body", err)
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, processPath, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	respType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(respType)

	if mediaType != "application/json" {
		if respType == "" {
			respType = http.DetectContentType(data)
		}

		c.log.Info("Image processed",
			zap.String("phase", string(phase)),
			zap.String("file", file.Name),
			zap.Int("size", len(data)),
			zap.Duration("elapsed", time.Since(start)))

		return &ProcessedImage{Data: data, ContentType: respType}, nil
	}

	var out processImageResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, unexpectedError("failed to decode process response", err)
	}

	if !out.Success {
		message := out.Message
		if message == "" {
			message = "Processing failed"
		}
		return nil, &APIError{
			Kind:    KindServer,
			Message: message,
			Status:  resp.StatusCode,
			Details: map[string]any{"detail": message},
		}
	}

	blob, err := decodeProcessedImage(out.ProcessedImage)
	if err != nil {
		return nil, unexpectedError("failed to decode processed image", err)
	}

	c.log.Info("Image processed",
		zap.String("phase", string(phase)),
		zap.String("file", file.Name),
		zap.Int("size", len(blob.Data)),
		zap.Duration("elapsed", time.Since(start)))

	return &ProcessedImage{Data: blob.Data, ContentType: blob.MIMEType, Message: out.Message}, nil
}

func (c *Client) UploadImage(ctx context.Context, file *domain.SelectedFile) (*UploadResponse, error) {
	body, contentType, err := multipartBody("image", file, nil)
	if err != nil {
		return nil, unexpectedError("failed to build request body", err)
	}

	resp, err := c.do(ctx, http.MethodPost, uploadPath, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, unexpectedError("failed to decode upload response", err)
	}

	c.log.Info("Image uploaded",
		zap.String("file", file.Name),
		zap.String("id", out.ID))

	return &out, nil
}

func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, healthPath, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, unexpectedError("failed to decode health response", err)
	}

	return &out, nil
}

// do возвращает ответ только для 2xx; остальное превращается в *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, unexpectedError("failed to create request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := transportError(err)
		c.log.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("kind", string(apiErr.Kind)),
			zap.Error(err))
		return nil, apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := errorFromResponse(resp)
		c.log.Warn("Backend returned error status",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return nil, apiErr
	}

	return resp, nil
}

func errorFromResponse(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil || details == nil {
		details = map[string]any{}
	}

	message, _ := details["message"].(string)
	if message == "" {
		message = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
	}

	return &APIError{
		Kind:    KindServer,
		Message: message,
		Status:  resp.StatusCode,
		Details: details,
	}
}

func decodeProcessedImage(b64 string) (blob utils.Blob, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	// часть бэкендов отдаёт data URL, а не голый base64
	mimeType := ""
	if rest, ok := strings.CutPrefix(b64, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return utils.Blob{}, fmt.Errorf("malformed data URL")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		b64 = payload
	}

	return utils.Base64ToBlob(b64, mimeType), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(field string, file *domain.SelectedFile, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(file.Name)))
	contentType := file.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
