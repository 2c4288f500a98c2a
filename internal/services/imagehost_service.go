package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alumnet/backend/internal/config"
)

// HostedImage is one object in the external image store, with the metadata the
// uploader embedded in it and its named delivery variants.
type HostedImage struct {
	ExternalID string
	Filename   string
	UploadedAt time.Time
	Metadata   map[string]string
	Variants   map[string]string // variant name -> delivery URL
}

// HostError carries the provider's status and body for any non-success
// response. This layer does no retries; retry policy belongs to the caller.
type HostError struct {
	StatusCode int
	Body       string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("image host error: status %d: %s", e.StatusCode, e.Body)
}

// ImageHost is the only boundary through which the application talks to the
// remote image-hosting service.
type ImageHost interface {
	Upload(ctx context.Context, data []byte, filename string, metadata map[string]string) (*HostedImage, error)
	Delete(ctx context.Context, externalID string) error
	Details(ctx context.Context, externalID string) (*HostedImage, error)
	List(ctx context.Context, page, perPage int) ([]HostedImage, bool, error)
	DeliveryURL(externalID, variant string) string
	VariantURLs(ctx context.Context, externalID string) (map[string]string, error)
}

// ImageHostService speaks the Cloudflare-Images-compatible REST API of the
// configured provider.
type ImageHostService struct {
	cfg    *config.Config
	client *http.Client
}

func NewImageHostService(cfg *config.Config) *ImageHostService {
	return &ImageHostService{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type hostImagePayload struct {
	ID       string            `json:"id"`
	Filename string            `json:"filename"`
	Uploaded time.Time         `json:"uploaded"`
	Meta     map[string]string `json:"meta"`
	Variants []string          `json:"variants"`
}

type hostResponse struct {
	Success bool            `json:"success"`
	Errors  json.RawMessage `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

func (s *ImageHostService) imagesURL(suffix string) string {
	u := fmt.Sprintf("%s/accounts/%s/images/v1",
		strings.TrimRight(s.cfg.ImageHostAPIBase, "/"), s.cfg.ImageHostAccountID)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func (s *ImageHostService) do(ctx context.Context, method, url string, body io.Reader, contentType string) (*hostResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.ImageHostAPIToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HostError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var hr hostResponse
	if err := json.Unmarshal(raw, &hr); err != nil {
		return nil, fmt.Errorf("failed to decode image host response: %w", err)
	}
	if !hr.Success {
		return nil, &HostError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return &hr, nil
}

func (s *ImageHostService) toHostedImage(p *hostImagePayload) *HostedImage {
	img := &HostedImage{
		ExternalID: p.ID,
		Filename:   p.Filename,
		UploadedAt: p.Uploaded,
		Metadata:   p.Meta,
		Variants:   map[string]string{},
	}
	for _, v := range p.Variants {
		// Variant name is the last path segment of the delivery URL.
		parts := strings.Split(strings.TrimRight(v, "/"), "/")
		if len(parts) > 0 {
			img.Variants[parts[len(parts)-1]] = v
		}
	}
	return img
}

// Upload sends the image bytes in a single multipart call. The metadata map is
// embedded in the external object so reconciliation can filter on it later.
func (s *ImageHostService) Upload(ctx context.Context, data []byte, filename string, metadata map[string]string) (*HostedImage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		if err := w.WriteField("metadata", string(metaJSON)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	hr, err := s.do(ctx, http.MethodPost, s.imagesURL(""), &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var payload hostImagePayload
	if err := json.Unmarshal(hr.Result, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode upload result: %w", err)
	}
	return s.toHostedImage(&payload), nil
}

// Delete removes an object from the external store.
func (s *ImageHostService) Delete(ctx context.Context, externalID string) error {
	_, err := s.do(ctx, http.MethodDelete, s.imagesURL(externalID), nil, "")
	return err
}

// Details fetches a single object with its metadata and variants.
func (s *ImageHostService) Details(ctx context.Context, externalID string) (*HostedImage, error) {
	hr, err := s.do(ctx, http.MethodGet, s.imagesURL(externalID), nil, "")
	if err != nil {
		return nil, err
	}
	var payload hostImagePayload
	if err := json.Unmarshal(hr.Result, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode image details: %w", err)
	}
	return s.toHostedImage(&payload), nil
}

// List returns one page of the store's contents. hasMore is inferred from the
// page being full; a short page signals exhaustion.
func (s *ImageHostService) List(ctx context.Context, page, perPage int) ([]HostedImage, bool, error) {
	url := s.imagesURL("") + "?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(perPage)
	hr, err := s.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, false, err
	}

	var result struct {
		Images []hostImagePayload `json:"images"`
	}
	if err := json.Unmarshal(hr.Result, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode image list: %w", err)
	}

	images := make([]HostedImage, 0, len(result.Images))
	for i := range result.Images {
		images = append(images, *s.toHostedImage(&result.Images[i]))
	}
	return images, len(images) == perPage, nil
}

// DeliveryURL builds the public URL for a variant. Pure templating, no network.
func (s *ImageHostService) DeliveryURL(externalID, variant string) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		strings.TrimRight(s.cfg.ImageHostDeliveryBase, "/"),
		s.cfg.ImageHostAccountHash, externalID, variant)
}

// VariantURLs fetches an object's known variants expanded to delivery URLs.
func (s *ImageHostService) VariantURLs(ctx context.Context, externalID string) (map[string]string, error) {
	img, err := s.Details(ctx, externalID)
	if err != nil {
		return nil, err
	}
	urls := make(map[string]string, len(img.Variants))
	for name := range img.Variants {
		urls[name] = s.DeliveryURL(externalID, name)
	}
	return urls, nil
}
