package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/vitwit/paygate/types"
)

// RelayClient posts files to the storage relay.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

// NewRelayClient creates a client for the relay at baseURL. A zero timeout means 30s.
func NewRelayClient(baseURL string, timeout time.Duration) *RelayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RelayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Upload sends POST /upload with multipart fields file and uploadId.
func (c *RelayClient) Upload(ctx context.Context, file *types.File, id types.CorrelationID) (*types.UploadResult, error) {
	body, contentType, err := encodeUpload(file, id)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RelayError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RelayError{Err: fmt.Errorf("failed to read relay response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e types.ErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RelayError{StatusCode: resp.StatusCode, Message: msg}
	}

	var result types.UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &RelayError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid relay response: %v", err)}
	}
	if result.CID == "" {
		return nil, &RelayError{StatusCode: resp.StatusCode, Message: "relay response missing cid"}
	}
	return &result, nil
}

func encodeUpload(file *types.File, id types.CorrelationID) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("uploadId", id.Hex()); err != nil {
		return nil, "", err
	}

	name := file.Name
	if name == "" {
		name = "file"
	}
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
