package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/secondbrain/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 512
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	requestTimeout   = 30 * time.Second
	maxInputChars    = 8000
	recordTool       = "record_entry"
)

// ErrNoClassification is returned when the model answered without
// calling the record tool.
var ErrNoClassification = errors.New("model returned no classification")

// ClaudeClassifier asks the Claude Messages API to classify a capture.
type ClaudeClassifier struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	client    *http.Client
}

// NewClaudeClassifier creates a classifier with the given configuration.
func NewClaudeClassifier(apiKey, modelName string, maxTokens int) *ClaudeClassifier {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &ClaudeClassifier{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		endpoint:  apiURL,
		client:    &http.Client{Timeout: requestTimeout},
	}
}

// Classify implements Classifier.
func (c *ClaudeClassifier) Classify(ctx context.Context, subject, text string) (Classification, error) {
	resp, err := c.callAPI(ctx, buildPrompt(subject, text))
	if err != nil {
		return Classification{}, err
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != recordTool {
			continue
		}

		var out struct {
			Category   string  `json:"category"`
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal(block.Input, &out); err != nil {
			return Classification{}, fmt.Errorf("decoding classification: %w", err)
		}

		cat := model.Category(strings.ToLower(strings.TrimSpace(out.Category)))
		if !Valid(cat) {
			return Classification{}, fmt.Errorf("model returned unknown category %q", out.Category)
		}

		name := strings.TrimSpace(out.Name)
		if name == "" {
			name = EntryName(subject, text)
		}

		return Classification{
			Category:   cat,
			Name:       EntryName(name, ""),
			Confidence: clamp(out.Confidence),
		}, nil
	}

	return Classification{}, ErrNoClassification
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func buildPrompt(subject, text string) string {
	if len(text) > maxInputChars {
		text = strings.ToValidUTF8(text[:maxInputChars], "")
	}

	var sb strings.Builder
	sb.WriteString("Subject: ")
	sb.WriteString(subject)
	sb.WriteString("\n\n")
	sb.WriteString(text)
	return sb.String()
}

const systemPrompt = "You file short notes that a person emailed to their " +
	"personal knowledge base. Pick exactly one category: people (about a " +
	"specific person), projects (work with a goal and next steps), ideas " +
	"(thoughts and observations), admin (errands, tasks, appointments). " +
	"Give the note a short name of at most eight words and your confidence " +
	"between 0 and 1. Always answer by calling the record_entry tool."

// callAPI makes a single request to the Claude Messages API.
func (c *ClaudeClassifier) callAPI(ctx context.Context, prompt string) (*apiResponse, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: prompt}},
		}},
		Tools:      []apiTool{recordToolDefinition()},
		ToolChoice: &apiToolChoice{Type: "tool", Name: recordTool},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// --- Claude API types ---

type apiRequest struct {
	Model      string         `json:"model"`
	MaxTokens  int            `json:"max_tokens"`
	System     string         `json:"system"`
	Messages   []apiMessage   `json:"messages"`
	Tools      []apiTool      `json:"tools,omitempty"`
	ToolChoice *apiToolChoice `json:"tool_choice,omitempty"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type apiToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

func recordToolDefinition() apiTool {
	return apiTool{
		Name:        recordTool,
		Description: "Record the category, name and confidence for the note.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {
					"type": "string",
					"enum": ["people", "projects", "ideas", "admin"]
				},
				"name": {
					"type": "string",
					"description": "Short title for the note"
				},
				"confidence": {
					"type": "number",
					"minimum": 0,
					"maximum": 1
				}
			},
			"required": ["category", "name", "confidence"]
		}`),
	}
}
