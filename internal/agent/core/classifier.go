package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/helpers"
	"go.uber.org/zap"
)

const classificationSchema = `{
  "type": "object",
  "required": ["classifications"],
  "properties": {
    "classifications": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "is_seller"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "is_seller": {"type": "boolean"},
          "reason": {"type": "string"}
        }
      }
    }
  }
}`

const defaultClassifierBatch = 25

// LLMIntentClassifier labels leads as buyers or sellers in batches. It only ever removes
// leads; surviving leads are returned untouched and in input order.
type LLMIntentClassifier struct {
	config    *config.Config
	llm       StructuredCompleter
	logger    *zap.Logger
	batchSize int
}

// NewIntentClassifier creates a classifier.
func NewIntentClassifier(cfg *config.Config, llm StructuredCompleter, logger *zap.Logger) *LLMIntentClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.Prospecting.ClassifierBatchSize
	if size <= 0 {
		size = defaultClassifierBatch
	}
	return &LLMIntentClassifier{config: cfg, llm: llm, logger: logger.Named("classifier"), batchSize: size}
}

type classificationResponse struct {
	Classifications []struct {
		Index    int    `json:"index"`
		IsSeller bool   `json:"is_seller"`
		Reason   string `json:"reason"`
	} `json:"classifications"`
}

// Classify returns the buyers among leads and how many sellers were dropped.
func (c *LLMIntentClassifier) Classify(ctx context.Context, leads []Lead) ([]Lead, int, error) {
	if len(leads) == 0 {
		return nil, 0, nil
	}
	buyers := make([]Lead, 0, len(leads))
	removed := 0
	for start := 0; start < len(leads); start += c.batchSize {
		end := start + c.batchSize
		if end > len(leads) {
			end = len(leads)
		}
		batch := leads[start:end]

		resp, err := WithBoundedRetry(ctx, func(ctx context.Context, _ int) (classificationResponse, error) {
			var out classificationResponse
			err := c.llm.Complete(ctx, CompletionRequest{
				Component: "classifier",
				Model:     c.config.LLM.Routing.Model("classification"),
				Prompt:    c.createPrompt(batch),
				Schema:    classificationSchema,
				Options:   map[string]interface{}{"temperature": 0.0, "max_tokens": 2000},
			}, &out)
			return out, err
		})
		if err != nil {
			return nil, 0, fmt.Errorf("classify batch %d-%d: %w", start, end, err)
		}

		sellers := make(map[int]bool, len(resp.Classifications))
		for _, cl := range resp.Classifications {
			if cl.IsSeller && cl.Index >= 0 && cl.Index < len(batch) {
				sellers[cl.Index] = true
			}
		}
		for i, lead := range batch {
			if sellers[i] {
				removed++
				continue
			}
			buyers = append(buyers, lead)
		}
	}
	if removed > 0 {
		c.logger.Debug("sellers removed", zap.Int("removed", removed), zap.Int("kept", len(buyers)))
	}
	return buyers, removed, nil
}

func (c *LLMIntentClassifier) createPrompt(batch []Lead) string {
	var b strings.Builder
	b.WriteString(`Classify each person as a BUYER (has a problem, is evaluating or asking for tools) or a SELLER
(promotes their own product, agency, consulting or services, or is a vendor employee pitching).

People:
`)
	for i, l := range batch {
		fmt.Fprintf(&b, "[%d] name=%q title=%q company=%q source=%s signal=%q\n",
			i, l.Name, l.Title, l.Company, l.SourcePlatform, helpers.Truncate(l.IntentSignal, 300))
	}
	b.WriteString(`
Return ONLY JSON: {"classifications": [{"index": 0, "is_seller": false, "reason": "short reason"}]}
Include every index exactly once.`)
	return b.String()
}
