package ai

import (
	"context"
	"errors"
	"net"

	pkgerrors "github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/kinshiphq/kinship/plugin/ai/timeout"
)

// EmbeddingService is the vector embedding service interface. It is the
// single choke point for calls to the remote embedding model: auth,
// preprocessing, dimension validation and retry classification all live
// behind it.
type EmbeddingService interface {
	// Embed generates a vector for a single text, preprocessed with the
	// given content label.
	Embed(ctx context.Context, contentLabel, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts sharing one label.
	EmbedBatch(ctx context.Context, contentLabel string, texts []string) ([][]float32, error)

	// Dimensions returns the model's declared vector dimension.
	Dimensions() int

	// Model returns the model identifier.
	Model() string
}

type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewEmbeddingService creates a new EmbeddingService.
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	var clientConfig openai.ClientConfig

	switch cfg.Provider {
	case "openai", "siliconflow":
		// SiliconFlow is compatible with the OpenAI API
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}

	case "ollama":
		clientConfig = openai.DefaultConfig("")
		clientConfig.BaseURL = cfg.BaseURL

	default:
		return nil, pkgerrors.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &embeddingService{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, contentLabel, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, contentLabel, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, pkgerrors.Wrap(ErrEmbeddingUnavailable, "empty embedding result")
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, contentLabel string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, pkgerrors.Wrap(ErrInvalidQuery, "no texts provided for embedding")
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = Preprocess(contentLabel, text)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, pkgerrors.Wrap(ErrEmbeddingUnavailable, err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()

	resp, err := s.createEmbeddings(ctx, inputs)
	if err != nil {
		// One retry for clearly transient network errors only; anything
		// else is surfaced so the caller's latency stays predictable.
		if !isTransient(err) {
			return nil, pkgerrors.Wrapf(ErrEmbeddingUnavailable, "create embeddings failed: %v", err)
		}
		resp, err = s.createEmbeddings(ctx, inputs)
		if err != nil {
			return nil, pkgerrors.Wrapf(ErrEmbeddingUnavailable, "create embeddings failed after retry: %v", err)
		}
	}

	if len(resp.Data) != len(inputs) {
		return nil, pkgerrors.Wrapf(ErrEmbeddingUnavailable, "expected %d embeddings, got %d", len(inputs), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) != s.dimensions {
			// Never pad or truncate: a wrong-dimension vector silently
			// poisons every similarity computation downstream.
			return nil, pkgerrors.Wrapf(ErrInvalidDimension, "model returned %d dimensions, expected %d", len(data.Embedding), s.dimensions)
		}
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

func (s *embeddingService) createEmbeddings(ctx context.Context, inputs []string) (openai.EmbeddingResponse, error) {
	return s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	})
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

func (s *embeddingService) Model() string {
	return s.model
}

// isTransient classifies errors worth a single immediate retry: network
// timeouts and provider-side overload. Malformed responses are not.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
