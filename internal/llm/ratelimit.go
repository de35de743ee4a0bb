package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator wraps a TextGenerator with a token-bucket rate
// limiter so extraction bursts cannot overwhelm a local provider. Complete
// blocks until a slot is available or the context is done.
type RateLimitedGenerator struct {
	inner   TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps gen with a limiter allowing rps requests
// per second with the given burst. A non-positive rps disables limiting.
func NewRateLimitedGenerator(gen TextGenerator, rps float64, burst int) *RateLimitedGenerator {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedGenerator{inner: gen, limiter: limiter}
}

func (g *RateLimitedGenerator) Complete(ctx context.Context, req Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return g.inner.Complete(ctx, req)
}

func (g *RateLimitedGenerator) Model() string {
	return g.inner.Model()
}

// RateLimitedEmbedder is the embedding counterpart of RateLimitedGenerator.
type RateLimitedEmbedder struct {
	inner   EmbeddingGenerator
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps gen with a limiter allowing rps requests per
// second with the given burst. A non-positive rps disables limiting.
func NewRateLimitedEmbedder(gen EmbeddingGenerator, rps float64, burst int) *RateLimitedEmbedder {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedEmbedder{inner: gen, limiter: limiter}
}

func (g *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return g.inner.Embed(ctx, texts)
}

func (g *RateLimitedEmbedder) Model() string {
	return g.inner.Model()
}

var (
	_ TextGenerator      = (*RateLimitedGenerator)(nil)
	_ EmbeddingGenerator = (*RateLimitedEmbedder)(nil)
)
