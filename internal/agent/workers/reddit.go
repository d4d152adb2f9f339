package workers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/samz905/wrrk-pilot/internal/helpers"
	"go.uber.org/zap"
)

const redditScoreSchema = `{
  "type": "object",
  "required": ["scores"],
  "properties": {
    "scores": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "intent_score"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "intent_score": {"type": "integer", "minimum": 0, "maximum": 100},
          "intent_signal": {"type": "string"}
        }
      }
    }
  }
}`

const defaultMaxLeads = 20

type redditPost struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Username  string `json:"username"`
	URL       string `json:"url"`
	Community string `json:"communityName"`
	DataType  string `json:"dataType"`
}

type scoredPost struct {
	post   redditPost
	score  int
	signal string
}

// RedditWorker finds people asking for help with the problem the product solves.
// Steps: search, score, extract, classify.
type RedditWorker struct {
	apify      *ApifyClient
	cfg        config.RedditConfig
	llm        core.StructuredCompleter
	model      string
	classifier core.IntentClassifier
	logger     *zap.Logger
}

func NewRedditWorker(cfg *config.Config, apify *ApifyClient, llm core.StructuredCompleter, classifier core.IntentClassifier, logger *zap.Logger) *RedditWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedditWorker{
		apify:      apify,
		cfg:        cfg.Workers.Reddit,
		llm:        llm,
		model:      cfg.LLM.Routing.Model("scoring"),
		classifier: classifier,
		logger:     logger.Named("reddit"),
	}
}

func (w *RedditWorker) ID() string { return string(core.SourceReddit) }

func (w *RedditWorker) Invoke(ctx context.Context, plan core.StrategyPlan, params core.ParameterSet) core.WorkerResult {
	queries := params.Queries
	if len(queries) == 0 {
		queries = plan.SearchTerms
	}
	maxLeads := params.MaxLeads
	if maxLeads <= 0 {
		maxLeads = defaultMaxLeads
	}
	p := newPipeline(w.ID())

	var posts []redditPost
	p.step(ctx, "search", len(queries), func(ctx context.Context) (int, error) {
		seen := map[string]bool{}
		for _, q := range queries {
			items, err := RunActor[redditPost](ctx, w.apify, w.cfg.Search, map[string]interface{}{
				"queries":        []string{q},
				"sort":           "relevance",
				"timeframe":      "month",
				"urls":           []string{},
				"maxPosts":       clamp(maxLeads*3, 10, 100),
				"maxComments":    1,
				"scrapeComments": false,
				"includeNsfw":    false,
			})
			if err != nil {
				return len(posts), err
			}
			for _, it := range items {
				key := helpers.URLKey(it.URL)
				if it.Username == "" || it.URL == "" || seen[key] || (it.DataType != "" && it.DataType != "post") {
					continue
				}
				seen[key] = true
				posts = append(posts, it)
			}
		}
		return len(posts), nil
	})

	var scored []scoredPost
	p.step(ctx, "score", len(posts), func(ctx context.Context) (int, error) {
		var err error
		scored, err = w.score(ctx, plan, posts)
		return len(scored), err
	})

	var leads []core.Lead
	p.step(ctx, "extract", len(scored), func(ctx context.Context) (int, error) {
		leads = extractRedditLeads(scored, maxLeads)
		return len(leads), nil
	})

	res := p.classify(ctx, w.classifier, leads)
	w.logger.Debug("reddit invocation finished",
		zap.Int("queries", len(queries)),
		zap.Int("posts", len(posts)),
		zap.Int("leads", len(res.Leads)),
		zap.Bool("success", res.Success))
	return res
}

type redditScoreResponse struct {
	Scores []struct {
		Index        int    `json:"index"`
		IntentScore  int    `json:"intent_score"`
		IntentSignal string `json:"intent_signal"`
	} `json:"scores"`
}

// score rates buying intent per post and keeps those at or above the configured minimum.
func (w *RedditWorker) score(ctx context.Context, plan core.StrategyPlan, posts []redditPost) ([]scoredPost, error) {
	if len(posts) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, `Product: %s

Rate how likely each Reddit author is to buy a product like this soon (0-100).
High scores: actively asking for a tool, frustrated with a current tool, comparing options.
Low scores: news, memes, vendors promoting themselves, unrelated discussion.

Posts:
`, plan.Product)
	for i, post := range posts {
		fmt.Fprintf(&b, "[%d] r/%s u/%s: %q %q\n", i, post.Community, post.Username, helpers.Truncate(post.Title, 200), helpers.Truncate(post.Body, 400))
	}
	b.WriteString(`
Return ONLY JSON: {"scores": [{"index": 0, "intent_score": 0, "intent_signal": "one line quote or summary"}]}`)

	resp, err := core.WithBoundedRetry(ctx, func(ctx context.Context, _ int) (redditScoreResponse, error) {
		var out redditScoreResponse
		err := w.llm.Complete(ctx, core.CompletionRequest{
			Component: "scoring",
			Model:     w.model,
			Prompt:    b.String(),
			Schema:    redditScoreSchema,
			Options:   map[string]interface{}{"temperature": 0.1, "max_tokens": 2500},
		}, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}

	minScore := w.cfg.MinIntentScore
	kept := make([]scoredPost, 0, len(resp.Scores))
	used := map[int]bool{}
	for _, s := range resp.Scores {
		if s.Index < 0 || s.Index >= len(posts) || used[s.Index] || s.IntentScore < minScore {
			continue
		}
		used[s.Index] = true
		kept = append(kept, scoredPost{post: posts[s.Index], score: s.IntentScore, signal: s.IntentSignal})
	}
	return kept, nil
}

// extractRedditLeads turns scored posts into one lead per author, keeping the author's best post.
func extractRedditLeads(scored []scoredPost, maxLeads int) []core.Lead {
	byAuthor := map[string]int{}
	leads := make([]core.Lead, 0, len(scored))
	for _, s := range scored {
		signal := s.signal
		if signal == "" {
			signal = helpers.Truncate(s.post.Title, 160)
		}
		lead := core.Lead{
			Name:           s.post.Username,
			Username:       s.post.Username,
			IntentScore:    s.score,
			SourcePlatform: core.SourceReddit,
			IntentSignal:   signal,
			SourceURL:      s.post.URL,
		}
		key := strings.ToLower(s.post.Username)
		if pos, ok := byAuthor[key]; ok {
			if lead.IntentScore > leads[pos].IntentScore {
				leads[pos] = lead
			}
			continue
		}
		byAuthor[key] = len(leads)
		leads = append(leads, lead)
	}
	return capLeads(leads, maxLeads)
}

// capLeads keeps the maxLeads best-scored leads, stable on ties.
func capLeads(leads []core.Lead, maxLeads int) []core.Lead {
	sort.SliceStable(leads, func(i, j int) bool { return leads[i].IntentScore > leads[j].IntentScore })
	if len(leads) > maxLeads {
		leads = leads[:maxLeads]
	}
	return leads
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
