package fingerprint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultTimeout      = 30 * time.Second
)

// Client detects faces and computes face embeddings using the embedding server.
type Client struct {
	client *resty.Client
	dim    int
}

var _ facematch.Analyzer = (*Client)(nil)

// NewClient creates a client for the embedding server.
func NewClient(cfg *config.EmbeddingConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{client: client, dim: cfg.Dim}
}

// FaceDetection represents a single detected face.
type FaceDetection struct {
	FaceIndex int         `json:"face_index"`
	Dim       int         `json:"dim"`
	Embedding []float32   `json:"embedding"`
	BBox      []float64   `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64     `json:"det_score"`
	Kps       [][]float64 `json:"kps,omitempty"`
}

// FaceResponse represents the response from the face embedding endpoint.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// ComputeFaceEmbeddings detects faces and computes their embeddings.
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	var faceResp FaceResponse
	var errResp errorResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartField("file", "image"+ExtensionFor(imageData), detectMIMEType(imageData), bytes.NewReader(imageData)).
		SetResult(&faceResp).
		SetError(&errResp).
		Post("/embed/face")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if errResp.Detail != "" {
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode(), errResp.Detail)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return &faceResp, nil
}

// Detect returns every face with its box, landmarks, score and normalized embedding.
func (c *Client) Detect(ctx context.Context, imageData []byte) ([]facematch.Detection, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	dets := make([]facematch.Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		d := facematch.Detection{
			Box:   facematch.BoxFromSlice(f.BBox),
			Score: f.DetScore,
		}
		for _, kp := range f.Kps {
			if len(kp) >= 2 {
				d.Landmarks = append(d.Landmarks, facematch.Point{X: kp[0], Y: kp[1]})
			}
		}
		if len(f.Embedding) > 0 {
			d.Embedding = facematch.EnsureNormalized(f.Embedding)
		}
		dets = append(dets, d)
	}
	return dets, nil
}

// Extract returns the normalized embedding of the face best overlapping box,
// or of the largest face when box is empty.
func (c *Client) Extract(ctx context.Context, imageData []byte, box facematch.Box) ([]float32, error) {
	dets, err := c.Detect(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", facematch.ErrExtractionFailed, err)
	}
	return SelectEmbedding(dets, box, c.dim)
}

// SelectEmbedding picks the embedding for box out of dets and validates its dimension.
func SelectEmbedding(dets []facematch.Detection, box facematch.Box, dim int) ([]float32, error) {
	if len(dets) == 0 {
		return nil, facematch.ErrNoFaceDetected
	}

	idx := facematch.LargestDetection(dets)
	if !box.IsEmpty() {
		idx = facematch.BestOverlap(dets, box)
		if idx < 0 {
			return nil, facematch.ErrNoFaceDetected
		}
	}

	emb := dets[idx].Embedding
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", facematch.ErrExtractionFailed)
	}
	if dim > 0 && len(emb) != dim {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d", facematch.ErrExtractionFailed, len(emb), dim)
	}
	return facematch.EnsureNormalized(emb), nil
}

// Health checks that the embedding server responds.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.New("embedding server unhealthy: " + resp.Status())
	}
	return nil
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	return "application/octet-stream"
}

// ExtensionFor returns the file extension matching the image's MIME type.
func ExtensionFor(data []byte) string {
	switch detectMIMEType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}
