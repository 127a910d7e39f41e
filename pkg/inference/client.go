package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/apex/log"
)

// ErrMalformedResponse marks a prediction response body that could not be
// decoded.
var ErrMalformedResponse = errors.New("malformed prediction response")

// ServiceError is an error payload returned by the prediction service.
type ServiceError struct {
	Project string
	Model   string
	Payload json.RawMessage
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("prediction service error for %s/%s: %s", e.Project, e.Model, string(e.Payload))
}

// PredictionResult holds index-aligned class ids and scores of one image.
type PredictionResult struct {
	ClassIDs []int
	Scores   []float64
}

type instance struct {
	Key   string     `json:"key"`
	Image imageBytes `json:"image"`
}

type imageBytes struct {
	B64 string `json:"b64"`
}

type predictRequest struct {
	Instances []instance `json:"instances"`
}

type prediction struct {
	DetectionClasses []float64 `json:"detection_classes"`
	DetectionScores  []float64 `json:"detection_scores"`
}

type predictResponse struct {
	Predictions []prediction    `json:"predictions"`
	Error       json.RawMessage `json:"error"`
}

// Client calls an online prediction endpoint. The HTTP client owns
// authorization, so one Client is built at startup and reused.
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *log.Entry
}

func NewClient(httpClient *http.Client, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		logger:     log.WithField("module", "inference"),
	}
}

// Predict runs object detection on one image.
func (c *Client) Predict(ctx context.Context, project, model string, image []byte) (*PredictionResult, error) {
	logger := c.logger.WithFields(log.Fields{"project": project, "model": model})

	body, err := json.Marshal(predictRequest{
		Instances: []instance{{
			Key:   "1",
			Image: imageBytes{B64: base64.StdEncoding.EncodeToString(image)},
		}},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/projects/%s/models/%s:predict", c.endpoint, project, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		logger.WithError(err).Error("prediction request failed")
		return nil, fmt.Errorf("predict %s/%s: %w", project, model, err)
	}
	defer res.Body.Close()

	data, err := ioutil.ReadAll(res.Body)
	if err != nil {
		logger.WithError(err).Error("reading prediction response failed")
		return nil, fmt.Errorf("predict %s/%s: %w", project, model, err)
	}

	return parseResponse(logger, project, model, res.StatusCode, data)
}

func parseResponse(logger *log.Entry, project, model string, status int, data []byte) (*PredictionResult, error) {
	parsed := predictResponse{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		logger.WithError(err).Errorf("invalid prediction response (status %d)", status)
		return nil, fmt.Errorf("%w for %s/%s: %v", ErrMalformedResponse, project, model, err)
	}

	if len(parsed.Error) > 0 && string(parsed.Error) != "null" {
		svcErr := &ServiceError{Project: project, Model: model, Payload: parsed.Error}
		logger.Error(svcErr.Error())
		return nil, svcErr
	}

	if len(parsed.Predictions) == 0 {
		logger.Errorf("prediction response has no predictions (status %d)", status)
		return nil, fmt.Errorf("%w for %s/%s: no predictions", ErrMalformedResponse, project, model)
	}

	p := parsed.Predictions[0]
	result := &PredictionResult{
		ClassIDs: make([]int, len(p.DetectionClasses)),
		Scores:   p.DetectionScores,
	}
	for i, id := range p.DetectionClasses {
		result.ClassIDs[i] = int(id)
	}
	return result, nil
}
