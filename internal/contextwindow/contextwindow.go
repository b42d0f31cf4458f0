// Package contextwindow implements ContextWindow (§4.10): token-budgeted
// selection of candidate chunks for a response, using tiktoken-go for
// counting so the budget matches what the downstream model actually sees.
package contextwindow

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// Chunk is one candidate unit of context competing for budget.
type Chunk struct {
	ID        string
	Text      string
	Priority  float64 // caller-assigned importance, 0..1
	Relevance float64 // caller-assigned query relevance, 0..1
	UpdatedAt time.Time
}

// Config controls budget and scoring (§6 context.*).
type Config struct {
	MaxTokens           int
	OverlapTokens       int
	PriorityBoost       float64
	RecencyWeight       float64
	RelevanceThreshold  float64
	PreserveCodeBlocks  bool
}

// Selector scores and greedily selects chunks within a token budget.
type Selector struct {
	cfg  Config
	enc  *tiktoken.Tiktoken
}

// New builds a Selector. If the requested tiktoken encoding cannot be
// loaded, it returns a domain.ErrInternal error; there is no fallback
// token counter.
func New(cfg Config, encoding string) (*Selector, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128000
	}
	if cfg.PriorityBoost <= 0 {
		cfg.PriorityBoost = 1.5
	}
	if cfg.RecencyWeight <= 0 {
		cfg.RecencyWeight = 0.3
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, domain.NewError("contextwindow.New", domain.ErrInternal, err.Error())
	}
	return &Selector{cfg: cfg, enc: enc}, nil
}

// CountTokens returns the token count of text under the selector's encoding.
func (s *Selector) CountTokens(text string) int {
	return len(s.enc.Encode(text, nil, nil))
}

// Select scores each chunk by priority*boost + recency*weight + relevance,
// then greedily adds chunks in descending score order until the budget
// (max_tokens - overlap_tokens) is exhausted (§4.10). Chunks below
// relevance_threshold are dropped before scoring.
func (s *Selector) Select(chunks []Chunk, now time.Time) []Chunk {
	budget := s.cfg.MaxTokens - s.cfg.OverlapTokens
	if budget <= 0 {
		return nil
	}

	type scoredChunk struct {
		chunk Chunk
		score float64
		toks  int
	}

	candidates := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Relevance < s.cfg.RelevanceThreshold {
			continue
		}
		recency := recencyScore(c.UpdatedAt, now)
		score := c.Priority*s.cfg.PriorityBoost + recency*s.cfg.RecencyWeight + c.Relevance
		candidates = append(candidates, scoredChunk{chunk: c, score: score, toks: s.CountTokens(c.Text)})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var selected []Chunk
	used := 0
	for _, c := range candidates {
		text, toks := c.chunk.Text, c.toks
		if used+toks > budget {
			if !s.cfg.PreserveCodeBlocks {
				continue
			}
			truncated, truncToks := s.truncatePreservingCode(text, budget-used)
			if truncToks == 0 {
				continue
			}
			text, toks = truncated, truncToks
		}
		c.chunk.Text = text
		selected = append(selected, c.chunk)
		used += toks
		if used >= budget {
			break
		}
	}
	return selected
}

// recencyScore maps age into [0, 1], halving every 24 hours; a zero
// updatedAt scores 0.
func recencyScore(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	hours := now.Sub(updatedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp2(-hours / 24)
}

var codeBlockFence = regexp.MustCompile("```")

// truncatePreservingCode truncates text to fit within maxTokens, preferring
// to cut at a code-fence boundary over splitting mid-block (§4.10
// preserve_code_blocks).
func (s *Selector) truncatePreservingCode(text string, maxTokens int) (string, int) {
	if maxTokens <= 0 {
		return "", 0
	}
	tokens := s.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, len(tokens)
	}

	truncated := s.enc.Decode(tokens[:maxTokens])
	fences := codeBlockFence.FindAllStringIndex(truncated, -1)
	if len(fences)%2 == 1 {
		// An odd number of fences means we cut inside a code block; back up
		// to the start of that block so it is dropped whole instead of left
		// open.
		cut := fences[len(fences)-1][0]
		truncated = truncated[:cut]
	}
	return truncated, s.CountTokens(truncated)
}
