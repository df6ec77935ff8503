package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// DialAnthropic constructs an Anthropic SDK client for a TransportSDK
// Endpoint. Retries are disabled on the SDK client itself — RetryPolicy
// owns all retry behavior so a call is never retried twice over.
func DialAnthropic(apiKey string, _ map[string]any) (any, error) {
	client := anthropic.NewClient(
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	)
	return &client, nil
}

// DialOpenAI constructs an OpenAI SDK client for a TransportSDK Endpoint.
func DialOpenAI(apiKey string, opts map[string]any) (any, error) {
	clientOpts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if baseURL, ok := opts["base_url"].(string); ok && baseURL != "" {
		clientOpts = append(clientOpts, openaioption.WithBaseURL(baseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &client, nil
}

// DialOllama constructs an Ollama SDK client. Ollama has no API key; apiKey
// is ignored and host is taken from client_options["host"].
func DialOllama(_ string, opts map[string]any) (any, error) {
	host, _ := opts["host"].(string)
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

// DialGoogleGenAI constructs a Google GenAI SDK client for Gemini models.
func DialGoogleGenAI(apiKey string, opts map[string]any) (any, error) {
	backend := genai.BackendGeminiAPI
	if v, ok := opts["backend"].(string); ok && v == "vertex" {
		backend = genai.BackendVertexAI
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: backend,
	})
	if err != nil {
		return nil, fmt.Errorf("construct genai client: %w", err)
	}
	return client, nil
}
