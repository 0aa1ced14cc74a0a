package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGeminiDecide(t *testing.T) {
	var gotPath, gotKey string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "No: "}, {Text: "all quiet"}}},
			}},
		})
	}))
	defer srv.Close()

	client := NewGeminiClient(srv.URL, "test-key", "gemini-2.0-flash", time.Second)
	resp, err := client.Decide(context.Background(), "anything to do?")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "No: all quiet" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Timestamp == "" {
		t.Error("Timestamp is empty")
	}
	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "anything to do?" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestGeminiDecideAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client := NewGeminiClient(srv.URL, "k", "", time.Second)
	_, err := client.Decide(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}

func TestGeminiDecideTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewGeminiClient(srv.URL, "k", "", 20*time.Millisecond)
	if _, err := client.Decide(context.Background(), "x"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestOpenAIDecide(t *testing.T) {
	var gotAuth string
	var gotReq oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(oaiResponse{
			Choices: []oaiChoice{{Message: oaiMessage{Role: "assistant", Content: "Yes: do it"}}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-test", "gpt-4o-mini", time.Second)
	resp, err := client.Decide(context.Background(), "should we?")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "Yes: do it" {
		t.Errorf("Text = %q", resp.Text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", gotReq.Model)
	}
}

func TestAnthropicDecide(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewEncoder(w).Encode(anthResponse{
			Content: []anthContentBlock{
				{Type: "text", Text: "No: "},
				{Type: "text", Text: "nothing to report"},
			},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient(srv.URL, "ak-test", "claude-sonnet-4-20250514", time.Second)
	resp, err := client.Decide(context.Background(), "status?")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "No: nothing to report" {
		t.Errorf("Text = %q", resp.Text)
	}
	if gotKey != "ak-test" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotVersion == "" {
		t.Error("anthropic-version header missing")
	}
}

func TestFromConfig(t *testing.T) {
	for _, api := range []string{"gemini", "", "openai-completions", "anthropic"} {
		if _, err := FromConfig(ClientConfig{API: api}); err != nil {
			t.Errorf("api %q: %v", api, err)
		}
	}
	if _, err := FromConfig(ClientConfig{API: "carrier-pigeon"}); err == nil {
		t.Error("unknown api accepted")
	}
}
