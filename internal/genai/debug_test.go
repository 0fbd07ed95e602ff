package genai

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Test the debug logging functionality
func TestDebugLogging(t *testing.T) {
	tempDir := t.TempDir()

	client := &Client{
		chat:        &mockChatService{resp: completion("Test response")},
		model:       "test-model",
		temperature: 0.7,
		maxTokens:   100,
		debugMode:   true,
		stateDir:    tempDir,
	}

	if _, err := client.GeneratePromptWithContext(context.Background(), "System prompt", "User prompt"); err != nil {
		t.Fatalf("GeneratePromptWithContext failed: %v", err)
	}

	debugDir := filepath.Join(tempDir, "debug")
	files, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("Failed to read debug directory: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 debug file, got %d", len(files))
	}

	content, err := os.ReadFile(filepath.Join(debugDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Failed to unmarshal debug log: %v", err)
	}

	for _, field := range []string{"timestamp", "method", "model", "params", "response"} {
		if _, exists := logEntry[field]; !exists {
			t.Errorf("Required field '%s' missing from debug log", field)
		}
	}
	if logEntry["method"] != "GeneratePromptWithContext" {
		t.Errorf("Expected method 'GeneratePromptWithContext', got %v", logEntry["method"])
	}
	if logEntry["model"] != "test-model" {
		t.Errorf("Expected model 'test-model', got %v", logEntry["model"])
	}
}

// Test that debug logging is disabled when debug mode is false
func TestDebugLoggingDisabled(t *testing.T) {
	tempDir := t.TempDir()

	client := &Client{
		chat:        &mockChatService{resp: completion("Test response")},
		model:       "test-model",
		temperature: 0.7,
		maxTokens:   100,
		debugMode:   false,
		stateDir:    tempDir,
	}

	if _, err := client.GeneratePromptWithContext(context.Background(), "System prompt", "User prompt"); err != nil {
		t.Fatalf("GeneratePromptWithContext failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, "debug")); !os.IsNotExist(err) {
		t.Errorf("Debug directory should not be created when debug mode is disabled")
	}
}
