// Package faceapi talks to the face server that runs detection and embedding
// models, and prepares face crops for it.
package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/vector"
)

const (
	defaultServerURL = "http://localhost:8000"
	defaultTimeout   = 30 * time.Second
)

// Face is a single detection in image coordinates.
type Face struct {
	Index int
	BBox  image.Rectangle
	Score float64
}

// Detector finds faces in an image.
type Detector interface {
	DetectFaces(ctx context.Context, img image.Image) ([]Face, error)
}

// Embedder turns a square face crop into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float64, error)
}

// Client implements Detector and Embedder against the face server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a face server client. An empty URL falls back to localhost.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type detection struct {
	FaceIndex int       `json:"face_index"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

type detectResponse struct {
	FacesCount int         `json:"faces_count"`
	Faces      []detection `json:"faces"`
}

type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
}

// DetectFaces returns the faces found in img, in the order the server reports them.
func (c *Client) DetectFaces(ctx context.Context, img image.Image) ([]Face, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/detect/face", data)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, d := range resp.Faces {
		if len(d.BBox) != 4 {
			continue
		}
		faces = append(faces, Face{
			Index: d.FaceIndex,
			BBox:  image.Rect(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3])),
			Score: d.DetScore,
		})
	}
	return faces, nil
}

// Embed computes the embedding for an already cropped face.
func (c *Client) Embed(ctx context.Context, face image.Image) ([]float64, error) {
	data, err := EncodeJPEG(face)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/crop", data)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return vector.FromFloat32(resp.Embedding), nil
}

func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
