package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"mismatched length", []float64{1, 2}, []float64{1}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func embeddingServer(t *testing.T, vectors map[string][]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			w.WriteHeader(http.StatusOK)
		case "/embeddings":
			var req struct {
				Input []string `json:"input"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			type datum struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}
			var data []datum
			for i, in := range req.Input {
				v, ok := vectors[in]
				if !ok {
					v = []float64{0, 0, 1}
				}
				data = append(data, datum{Index: i, Embedding: v})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRankBySimilarity(t *testing.T) {
	srv := embeddingServer(t, map[string][]float64{
		"城东变电站": {1, 0, 0},
		"城东站":   {0.9, 0.1, 0},
		"西郊水电站": {0, 1, 0},
		"南部开关站": {0, 0.5, 0.5},
	})
	defer srv.Close()

	c := New(srv.URL, "test-key", "test-model")
	matches, err := c.RankBySimilarity(context.Background(), "城东变电站",
		[]string{"西郊水电站", "城东站", "南部开关站"}, 2)
	if err != nil {
		t.Fatalf("RankBySimilarity: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Text != "城东站" {
		t.Errorf("top match = %q", matches[0].Text)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Error("matches not sorted by similarity")
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "m")
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("mismatched vector count accepted")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := embeddingServer(t, nil)
	c := New(srv.URL, "", "m")
	if !c.HealthCheck(context.Background()) {
		t.Error("healthy service reported down")
	}
	srv.Close()
	if c.HealthCheck(context.Background()) {
		t.Error("dead service reported up")
	}
}
