// Package kb queries an external Dify-style knowledge-base service: one
// call resolves the dataset by name, a second retrieves ranked segments.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrDatasetNotFound is returned when no dataset matches the requested name.
var ErrDatasetNotFound = errors.New("knowledge base not found")

// Client talks to the knowledge-base HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	topK         int
	rerankEnable bool
	rerankModel  string

	lookupHTTP   *http.Client
	retrieveHTTP *http.Client
	log          *slog.Logger
}

// New builds a Client. topK bounds the segments per query.
func New(baseURL, apiKey string, topK int, rerankEnable bool, rerankModel string) *Client {
	if topK <= 0 {
		topK = 5
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		topK:         topK,
		rerankEnable: rerankEnable,
		rerankModel:  rerankModel,
		lookupHTTP:   &http.Client{Timeout: 10 * time.Second},
		retrieveHTTP: &http.Client{Timeout: 20 * time.Second},
		log:          slog.With("component", "kb"),
	}
}

// Record is one retrieved segment.
type Record struct {
	Content      string  `json:"content"`
	DocumentName string  `json:"document_name"`
	Score        float64 `json:"score"`
}

type datasetListResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// resolveDataset finds the dataset id whose name equals (or failing that,
// contains) kbName.
func (c *Client) resolveDataset(ctx context.Context, kbName string) (string, error) {
	u := fmt.Sprintf("%s/datasets?keyword=%s", c.baseURL, url.QueryEscape(kbName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.lookupHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("list datasets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("dataset lookup returned %d: %s", resp.StatusCode, payload)
	}

	var parsed datasetListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode dataset list: %w", err)
	}
	for _, d := range parsed.Data {
		if d.Name == kbName {
			return d.ID, nil
		}
	}
	for _, d := range parsed.Data {
		if strings.Contains(d.Name, kbName) {
			return d.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDatasetNotFound, kbName)
}

type retrieveRequest struct {
	Query          string         `json:"query"`
	RetrievalModel retrievalModel `json:"retrieval_model"`
}

type retrievalModel struct {
	SearchMethod    string        `json:"search_method"`
	RerankingEnable bool          `json:"reranking_enable"`
	RerankingModel  *rerankConfig `json:"reranking_model,omitempty"`
	TopK            int           `json:"top_k"`
	ScoreThreshold  *float64      `json:"score_threshold"`
}

type rerankConfig struct {
	RerankingProviderName string `json:"reranking_provider_name"`
	RerankingModelName    string `json:"reranking_model_name"`
}

type retrieveResponse struct {
	Records []struct {
		Segment struct {
			Content  string `json:"content"`
			Document struct {
				Name string `json:"name"`
			} `json:"document"`
		} `json:"segment"`
		Score float64 `json:"score"`
	} `json:"records"`
}

// Query retrieves up to topK segments for query from the named knowledge
// base.
func (c *Client) Query(ctx context.Context, kbName, query string, topK int) ([]Record, error) {
	datasetID, err := c.resolveDataset(ctx, kbName)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = c.topK
	}

	reqBody := retrieveRequest{
		Query: query,
		RetrievalModel: retrievalModel{
			SearchMethod:    "semantic_search",
			RerankingEnable: c.rerankEnable,
			TopK:            topK,
			ScoreThreshold:  nil,
		},
	}
	if c.rerankEnable && c.rerankModel != "" {
		reqBody.RetrievalModel.RerankingModel = &rerankConfig{
			RerankingModelName: c.rerankModel,
		}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/datasets/%s/retrieve", c.baseURL, datasetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.retrieveHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve from %s: %w", kbName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("retrieve returned %d: %s", resp.StatusCode, payload)
	}

	var parsed retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode retrieve response: %w", err)
	}

	records := make([]Record, 0, len(parsed.Records))
	for _, r := range parsed.Records {
		records = append(records, Record{
			Content:      r.Segment.Content,
			DocumentName: r.Segment.Document.Name,
			Score:        r.Score,
		})
	}
	c.log.Debug("kb query", "kb", kbName, "records", len(records))
	return records, nil
}

// FormatRecords renders records as numbered plain text for the LLM.
func FormatRecords(records []Record) string {
	if len(records) == 0 {
		return "未检索到相关内容"
	}
	var b strings.Builder
	for i, r := range records {
		fmt.Fprintf(&b, "[%d] 来源: %s (相关度 %.3f)\n%s\n\n", i+1, r.DocumentName, r.Score, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
