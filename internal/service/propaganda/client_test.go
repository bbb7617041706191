package propaganda

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/apollolytics/dialogue-backend/internal/config"
)

func newAnalysisServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Consume the analyze request before streaming results.
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Errorf("read request failed: %v", err)
			return
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				t.Errorf("write frame failed: %v", err)
				return
			}
		}

		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAnalyzeKeepsLastWellFormedFrame(t *testing.T) {
	srv := newAnalysisServer(t, []string{
		`{"data":{"loaded_language":[{"explanation":"first pass"}]}}`,
		`not json at all`,
		`{"data":{"loaded_language":[{"explanation":"final pass","location":"para 2"}]}}`,
	})
	defer srv.Close()

	client := NewClient(config.PropagandaConfig{WSURL: wsURL(srv), ModelName: "gpt-4o"})
	result := client.Analyze(context.Background(), "article text", "")

	findings, ok := result.Data["loaded_language"]
	if !ok || len(findings) != 1 {
		t.Fatalf("expected one loaded_language finding, got %+v", result.Data)
	}
	if findings[0].Explanation != "final pass" {
		t.Fatalf("expected the last frame to win, got %q", findings[0].Explanation)
	}
	if findings[0].Location != "para 2" {
		t.Fatalf("unexpected location %q", findings[0].Location)
	}
}

func TestAnalyzeUnreachableServiceReturnsEmpty(t *testing.T) {
	client := NewClient(config.PropagandaConfig{WSURL: "ws://127.0.0.1:1/ws/analyze_propaganda"})
	result := client.Analyze(context.Background(), "article text", "")

	if !result.Empty() {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestAnalyzeCacheByOriginURL(t *testing.T) {
	srv := newAnalysisServer(t, []string{
		`{"data":{"flag_waving":[{"explanation":"appeal to nation"}]}}`,
	})

	client := NewClient(config.PropagandaConfig{WSURL: wsURL(srv), CacheEnabled: true})

	first := client.Analyze(context.Background(), "article", "https://example.com/a")
	if first.Empty() {
		t.Fatal("expected a result from the live service")
	}

	// With the server gone, only the cache can answer.
	srv.Close()

	second := client.Analyze(context.Background(), "article", "https://example.com/a")
	if second.Empty() {
		t.Fatal("expected cached result after server shutdown")
	}

	third := client.Analyze(context.Background(), "article", "https://example.com/other")
	if !third.Empty() {
		t.Fatal("expected empty result for uncached origin")
	}
}

func TestNormalizeDropsExtraFields(t *testing.T) {
	srv := newAnalysisServer(t, []string{
		`{"data":{"doubt":[{"name":"doubt","explanation":"casts doubt","location":"title","contextualize":"historical context","score":0.9}]}}`,
	})
	defer srv.Close()

	client := NewClient(config.PropagandaConfig{WSURL: wsURL(srv)})
	result := client.Analyze(context.Background(), "article", "")

	normalized := result.Normalize()
	findings := normalized["doubt"]
	if len(findings) != 1 {
		t.Fatalf("expected one normalized finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Explanation != "casts doubt" || f.Location != "title" || f.Contextualize != "historical context" {
		t.Fatalf("unexpected normalized finding: %+v", f)
	}
}
