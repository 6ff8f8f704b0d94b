// Package inference talks to the hosted object detector: running
// predictions against a model and deploying user-trained weights.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	sc "github.com/dmitrijs2005/lscinspector/internal/server/config"
)

// Detection is one predicted object. X and Y are the box center in
// pixels of the submitted image.
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// ModelRef selects a hosted model. The zero value selects the demo model.
type ModelRef struct {
	APIKey  string
	Project string
	Version int
}

// Demo is the sentinel for the tenant-wide demo model.
var Demo = ModelRef{}

func (m ModelRef) IsDemo() bool { return m == Demo }

// DeployRequest carries a weights archive to register with the provider.
type DeployRequest struct {
	APIKey    string
	Workspace string
	Project   string
	Version   int
	ModelType string
	Weights   []byte
}

// Predictor runs a model on an image.
type Predictor interface {
	Predict(ctx context.Context, image []byte, model ModelRef) ([]Detection, error)
}

// Deployer uploads weights to the provider.
type Deployer interface {
	Deploy(ctx context.Context, req DeployRequest) error
}

// Client implements Predictor and Deployer over the provider's HTTP API.
type Client struct {
	http       *http.Client
	predictURL string
	deployURL  string
	demo       ModelRef
	confidence int
	overlap    int
	timeout    time.Duration
}

// NewClient builds a Client from cfg. A nil httpClient means
// http.DefaultClient.
func NewClient(cfg *sc.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:       httpClient,
		predictURL: strings.TrimRight(cfg.InferenceBaseURL, "/"),
		deployURL:  strings.TrimRight(cfg.DeployBaseURL, "/"),
		demo: ModelRef{
			APIKey:  cfg.DemoAPIKey,
			Project: cfg.DemoProject,
			Version: cfg.DemoVersion,
		},
		confidence: cfg.Confidence,
		overlap:    cfg.Overlap,
		timeout:    cfg.InferenceTimeout,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

type predictResponse struct {
	Predictions []Detection `json:"predictions"`
}

// Predict submits image to the model and returns its detections in
// provider order. An empty result is not an error here.
func (c *Client) Predict(ctx context.Context, image []byte, model ModelRef) ([]Detection, error) {
	if model.IsDemo() {
		model = c.demo
	}
	if model.APIKey == "" || model.Project == "" {
		return nil, common.Dependency("inference model is not configured", 0, nil)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	q := url.Values{}
	q.Set("api_key", model.APIKey)
	q.Set("confidence", strconv.Itoa(c.confidence))
	q.Set("overlap", strconv.Itoa(c.overlap))
	endpoint := fmt.Sprintf("%s/%s/%d?%s", c.predictURL, url.PathEscape(model.Project), model.Version, q.Encode())

	body := strings.NewReader(base64.StdEncoding.EncodeToString(image))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, common.Dependency("inference request", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, common.Dependency("inference failed: "+readSnippet(resp.Body), resp.StatusCode, nil)
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, common.Dependency("decode inference response", resp.StatusCode, err)
	}
	return result.Predictions, nil
}

type uploadURLResponse struct {
	URL string `json:"url"`
}

// Deploy asks the provider for a signed upload URL for the model version,
// then PUTs the weights there.
func (c *Client) Deploy(ctx context.Context, d DeployRequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	q := url.Values{}
	q.Set("api_key", d.APIKey)
	q.Set("modelType", d.ModelType)
	q.Set("nocache", "true")
	endpoint := fmt.Sprintf("%s/%s/%s/%d/uploadModel?%s", c.deployURL,
		url.PathEscape(d.Workspace), url.PathEscape(d.Project), d.Version, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return common.Dependency("deploy: request upload url", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return common.Dependency("deploy: upload url refused: "+readSnippet(resp.Body), resp.StatusCode, nil)
	}
	var target uploadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil || target.URL == "" {
		return common.Dependency("deploy: malformed upload url response", resp.StatusCode, err)
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, target.URL, bytes.NewReader(d.Weights))
	if err != nil {
		return common.Dependency("deploy: bad upload url", 0, err)
	}
	put.Header.Set("Content-Type", "application/octet-stream")
	put.ContentLength = int64(len(d.Weights))

	putResp, err := c.http.Do(put)
	if err != nil {
		return common.Dependency("deploy: upload weights", 0, err)
	}
	defer putResp.Body.Close()

	if putResp.StatusCode < 200 || putResp.StatusCode > 299 {
		return common.Dependency("deploy: weights upload failed: "+readSnippet(putResp.Body), putResp.StatusCode, nil)
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
