package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/do"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

//go:embed system_prompt.txt
var systemPromptTemplate string

const (
	initTimeout = time.Minute

	// Returned instead of an empty string when the model produces nothing.
	fallbackAnswer = "Извините, не удалось получить ответ. " +
		"Попробуйте переформулировать вопрос."
)

// Client bridges the worker to the conversational agent: an MCP retrieval
// tool plus an OpenAI-compatible LLM. The MCP connection is a scoped
// resource, Open before first use, Close unconditionally on shutdown.
type Client struct {
	cfg config.Agent

	mcpClient *client.Client
	ragTool   *mcpToolAdapter
	llm       llms.Model
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(cfg.Agent), nil
}

func New(cfg config.Agent) *Client {
	return &Client{cfg: cfg}
}

// Open connects to the MCP server, resolves the retrieval tool and builds
// the LLM. A partially failed Open leaves the client safe to Close.
func (c *Client) Open(ctx context.Context) error {
	mcpClient, err := client.NewSSEMCPClient(c.cfg.MCPURL)
	if err != nil {
		return &AgentError{Err: fmt.Errorf("create MCP client: %w", err)}
	}
	c.mcpClient = mcpClient

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if err := c.mcpClient.Start(initCtx); err != nil {
		return &AgentError{Err: fmt.Errorf("start MCP client: %w", err)}
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "avito-worker",
		Version: "1.0.0",
	}

	if _, err := c.mcpClient.Initialize(initCtx, initRequest); err != nil {
		return &AgentError{Err: fmt.Errorf("initialize MCP client: %w", err)}
	}

	toolsResponse, err := c.mcpClient.ListTools(initCtx, mcp.ListToolsRequest{})
	if err != nil {
		return &AgentError{Err: fmt.Errorf("list MCP tools: %w", err)}
	}

	for _, mcpTool := range toolsResponse.Tools {
		if mcpTool.Name == c.cfg.RAGToolName {
			c.ragTool = &mcpToolAdapter{
				client: c.mcpClient,
				tool:   mcpTool,
			}
			break
		}
	}

	if c.ragTool == nil {
		return &AgentError{Err: fmt.Errorf("tool %q not found on MCP server", c.cfg.RAGToolName)}
	}

	llm, err := openai.New(
		openai.WithBaseURL(c.cfg.OpenAI.BaseURL),
		openai.WithToken(c.cfg.OpenAI.Token),
		openai.WithModel(c.cfg.OpenAI.Model),
	)
	if err != nil {
		return &AgentError{Err: fmt.Errorf("create LLM: %w", err)}
	}
	c.llm = llm

	slog.Info("Agent initialized", "tool", c.cfg.RAGToolName, "model", c.cfg.OpenAI.Model)

	return nil
}

// Close releases the MCP connection. Safe after a failed Open and safe to
// call more than once.
func (c *Client) Close() error {
	if c.mcpClient == nil {
		return nil
	}

	err := c.mcpClient.Close()
	c.mcpClient = nil
	c.ragTool = nil
	c.llm = nil

	if err != nil {
		return &AgentError{Err: fmt.Errorf("close MCP client: %w", err)}
	}

	return nil
}

// GetAnswer produces one full reply for the user's message. The model output
// is consumed as a fragment stream and concatenated in arrival order; an
// empty stream yields the fallback apology instead of an empty string.
func (c *Client) GetAnswer(ctx context.Context, userText string) (string, error) {
	if c.llm == nil || c.ragTool == nil {
		return "", &AgentError{Err: fmt.Errorf("agent is not initialized")}
	}

	productContext := c.retrieveContext(ctx, userText)

	prompt := strings.ReplaceAll(systemPromptTemplate, "{context}", productContext)

	var fragments []string

	_, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, prompt),
			llms.TextParts(llms.ChatMessageTypeHuman, userText),
		},
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				fragments = append(fragments, string(chunk))
			}
			return nil
		}),
	)
	if err != nil {
		return "", &AgentError{Err: err}
	}

	answer := strings.TrimSpace(strings.Join(fragments, ""))
	if answer == "" {
		slog.Warn("Agent produced an empty answer")
		return fallbackAnswer, nil
	}

	slog.Debug("Agent answer ready", "length", len(answer))

	return answer, nil
}

// retrieveContext queries the product search tool. Retrieval is best-effort:
// on failure the model answers without catalog context.
func (c *Client) retrieveContext(ctx context.Context, userText string) string {
	result, err := c.ragTool.Call(ctx, userText)
	if err != nil {
		slog.Warn("Product search failed", "error", err)
		return "нет данных"
	}

	if strings.TrimSpace(result) == "" {
		return "нет данных"
	}

	return result
}
