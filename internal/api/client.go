package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"
)

// Upload validation errors, surfaced before any network call is made.
var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds the upload size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// supportedUploadExts are the geospatial formats the backend ingests.
var supportedUploadExts = map[string]bool{
	".geojson": true,
	".json":    true,
	".zip":     true, // zipped shapefile
	".kml":     true,
	".gpkg":    true,
	".tif":     true,
	".tiff":    true,
}

// Client talks to the analysis backend's HTTP surface. The websocket stream
// is handled separately by the socket package.
type Client struct {
	baseURL       string
	http          *http.Client
	logger        *log.Logger
	maxUploadByte int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithMaxUploadSize bounds accepted upload sizes in bytes.
func WithMaxUploadSize(n int64) ClientOption {
	return func(c *Client) { c.maxUploadByte = n }
}

// NewClient creates a backend client rooted at baseURL (e.g. "http://host:8000/api").
func NewClient(baseURL string, logger *log.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
		maxUploadByte: 100 << 20, // 100 MB
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSession retrieves the server-issued session id.
func (c *Client) GetSession(ctx context.Context) (SessionResponse, error) {
	var out SessionResponse
	err := c.getJSON(ctx, "/session", nil, &out)
	return out, err
}

// SubmitQuery submits a natural-language query and returns the job handle.
func (c *Client) SubmitQuery(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var out QueryResponse
	if err := c.postJSON(ctx, "/query", req, &out); err != nil {
		return QueryResponse{}, err
	}
	if out.JobID == "" {
		return QueryResponse{}, fmt.Errorf("query accepted without a job_id")
	}
	return out, nil
}

// ValidateUpload applies the local pre-flight checks shared with UploadDataset.
func (c *Client) ValidateUpload(filename string, size int64) error {
	if size <= 0 {
		return ErrEmptyFile
	}
	if size > c.maxUploadByte {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, size, c.maxUploadByte)
	}
	ext := strings.ToLower(path.Ext(filename))
	if !supportedUploadExts[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	return nil
}

// UploadDataset streams a multipart upload. Validation failures are rejected
// locally before any request is issued. The optional progress callback
// receives byte counts during the copy and stops firing once the request
// terminates, successfully or not.
func (c *Client) UploadDataset(ctx context.Context, filename string, size int64, r io.Reader, meta UploadMetadata, progress func(written, total int64)) (Dataset, error) {
	if err := c.ValidateUpload(filename, size); err != nil {
		return Dataset{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Dataset{}, fmt.Errorf("build upload body: %w", err)
	}
	src := io.Reader(r)
	if progress != nil {
		src = &progressReader{r: r, total: size, report: progress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return Dataset{}, fmt.Errorf("read upload source: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Dataset{}, fmt.Errorf("encode upload metadata: %w", err)
	}
	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return Dataset{}, fmt.Errorf("build upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Dataset{}, fmt.Errorf("build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return Dataset{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Dataset
	if err := c.do(req, &out); err != nil {
		return Dataset{}, err
	}
	c.logger.Info("dataset uploaded", "dataset_id", out.DatasetID, "file", filename)
	return out, nil
}

// ListDatasets returns all uploaded datasets known to the backend.
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var out []Dataset
	err := c.getJSON(ctx, "/datasets", nil, &out)
	return out, err
}

// DeleteDataset removes a dataset server-side. Callers drop local state only
// after this returns nil.
func (c *Client) DeleteDataset(ctx context.Context, datasetID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/datasets/"+url.PathEscape(datasetID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ReingestDataset asks the backend to re-run ingestion for a failed dataset.
func (c *Client) ReingestDataset(ctx context.Context, datasetID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/datasets/"+url.PathEscape(datasetID)+"/ingest", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// FetchLayerData fetches GeoJSON for a layer, optionally scoped to a bounding
// box and zoom level (dynamic layers refetch as the viewport moves).
func (c *Client) FetchLayerData(ctx context.Context, layerID string, bound *orb.Bound, zoom int) (json.RawMessage, error) {
	q := url.Values{}
	if bound != nil {
		q.Set("bbox", fmt.Sprintf("%g,%g,%g,%g",
			bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()))
	}
	if zoom > 0 {
		q.Set("zoom", fmt.Sprintf("%d", zoom))
	}
	q.Set("format", "geojson")

	var out json.RawMessage
	if err := c.getJSON(ctx, "/layers/"+url.PathEscape(layerID)+"/data", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetResults retrieves the full results record for a completed job.
func (c *Client) GetResults(ctx context.Context, jobID string) (ResultsResponse, error) {
	var out ResultsResponse
	err := c.getJSON(ctx, "/results/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

// DownloadFile streams one result artifact into w.
func (c *Client) DownloadFile(ctx context.Context, jobID, filename string, w io.Writer) error {
	u := c.baseURL + "/download/" + url.PathEscape(jobID) + "/" + url.PathEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", filename, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", filename, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, p string, q url.Values, out any) error {
	u := c.baseURL + p
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, p string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+p, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// progressReader reports cumulative bytes read to the progress callback.
type progressReader struct {
	r       io.Reader
	total   int64
	written int64
	report  func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		p.report(p.written, p.total)
	}
	return n, err
}
