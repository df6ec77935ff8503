package endpoint

import "testing"

func TestDialOllamaUsesOptsHostOverride(t *testing.T) {
	client, err := DialOllama("", map[string]any{"host": "http://ollama.internal:1234"})
	if err != nil {
		t.Fatalf("DialOllama() error = %v", err)
	}
	if client == nil {
		t.Fatalf("DialOllama() returned nil client")
	}
}

func TestDialOllamaDefaultsHostWhenOptsEmpty(t *testing.T) {
	client, err := DialOllama("", nil)
	if err != nil {
		t.Fatalf("DialOllama() error = %v", err)
	}
	if client == nil {
		t.Fatalf("DialOllama() returned nil client")
	}
}

func TestDialOllamaSurfacesHostParseError(t *testing.T) {
	_, err := DialOllama("", map[string]any{"host": "http://%zz"})
	if err == nil {
		t.Fatalf("expected an error for an unparsable host")
	}
}
