package config

import "testing"

func TestGetModelProvider(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-sonnet-4-5", ProviderAnthropic},
		{"claude-haiku-9", ProviderAnthropic}, // prefix inference
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-2.5-flash", ProviderGoogle},
		{"llama3.2", ProviderOllama},
		{"ollama:phi4", ProviderOllama},
	}

	for _, tt := range tests {
		got, err := GetModelProvider(tt.model)
		if err != nil {
			t.Errorf("GetModelProvider(%q) returned error: %v", tt.model, err)
			continue
		}
		if got != tt.provider {
			t.Errorf("GetModelProvider(%q) = %q, want %q", tt.model, got, tt.provider)
		}
	}
}

func TestGetModelProviderUnknown(t *testing.T) {
	if _, err := GetModelProvider("totally-unknown-model"); err == nil {
		t.Error("expected error for unmappable model name")
	}
}

func TestGetModelInfoExactMatch(t *testing.T) {
	info, known := GetModelInfo("gpt-4o")
	if !known {
		t.Fatal("expected gpt-4o to be a known model")
	}
	if info.MaxContextTokens != 128000 {
		t.Errorf("expected 128000 context tokens, got %d", info.MaxContextTokens)
	}
}

func TestGetModelInfoLongestPrefixWins(t *testing.T) {
	// "o3-mini" is a longer known prefix of "o3-mini-2025" than "o3".
	info, known := GetModelInfo("o3-mini-2025")
	if !known {
		t.Fatal("expected prefix match for o3-mini-2025")
	}
	if info.MaxOutputTokens != 16384 {
		t.Errorf("expected o3-mini limits, got %+v", info)
	}
}

func TestGetModelInfoUnknownFallsBackToDefaults(t *testing.T) {
	info, known := GetModelInfo("mystery-model-x")
	if known {
		t.Fatal("mystery-model-x should not be known")
	}
	if info.MaxContextTokens != DefaultContextTokens {
		t.Errorf("expected conservative default %d, got %d", DefaultContextTokens, info.MaxContextTokens)
	}
}

func TestApplyModelOverrides(t *testing.T) {
	doc := []byte(`
models:
  gpt-4o:
    max_context_tokens: 64000
  my-local-llama:
    provider: ollama
    max_context_tokens: 8192
`)
	orig := KnownModels["gpt-4o"]
	defer func() {
		KnownModels["gpt-4o"] = orig
		delete(KnownModels, "my-local-llama")
	}()

	if err := ApplyModelOverrides(doc); err != nil {
		t.Fatalf("ApplyModelOverrides failed: %v", err)
	}

	if got := KnownModels["gpt-4o"].MaxContextTokens; got != 64000 {
		t.Errorf("expected override to 64000, got %d", got)
	}
	// Untouched fields survive.
	if got := KnownModels["gpt-4o"].Provider; got != ProviderOpenAI {
		t.Errorf("provider clobbered by partial override: %q", got)
	}
	if got := KnownModels["my-local-llama"].Provider; got != ProviderOllama {
		t.Errorf("new model not added, provider = %q", got)
	}
}
