package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/samz905/wrrk-pilot/internal/helpers"
	"go.uber.org/zap"
)

const fundingSelectSchema = `{
  "type": "object",
  "required": ["companies"],
  "properties": {
    "companies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["company", "relevance_score"],
        "properties": {
          "company": {"type": "string", "minLength": 1},
          "headline": {"type": "string"},
          "amount": {"type": "string"},
          "page": {"type": "integer", "minimum": 1},
          "relevance_score": {"type": "integer", "minimum": 0, "maximum": 100}
        }
      }
    }
  }
}`

const (
	fundedLeadScore    = 75
	minFundingRelevant = 50
	maxPageChars       = 12000
	rolesPerCompany    = 3
)

type crawledPage struct {
	URL      string `json:"url"`
	Text     string `json:"text"`
	Metadata struct {
		Title string `json:"title"`
	} `json:"metadata"`
}

type fundedCompany struct {
	Company   string `json:"company"`
	Headline  string `json:"headline"`
	Amount    string `json:"amount"`
	Relevance int    `json:"relevance_score"`
	Page      int    `json:"page"`
	SourceURL string `json:"-"`
}

type fundingSelection struct {
	Companies []fundedCompany `json:"companies"`
}

type serpPage struct {
	SearchQuery struct {
		Term string `json:"term"`
	} `json:"searchQuery"`
	OrganicResults []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
	} `json:"organicResults"`
}

// TechCrunchWorker turns recent funding announcements into decision-maker leads.
// Steps: fetch_articles, select_articles, find_decision_makers, classify.
type TechCrunchWorker struct {
	apify      *ApifyClient
	cfg        config.TechCrunchConfig
	llm        core.StructuredCompleter
	model      string
	classifier core.IntentClassifier
	logger     *zap.Logger
}

func NewTechCrunchWorker(cfg *config.Config, apify *ApifyClient, llm core.StructuredCompleter, classifier core.IntentClassifier, logger *zap.Logger) *TechCrunchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TechCrunchWorker{
		apify:      apify,
		cfg:        cfg.Workers.TechCrunch,
		llm:        llm,
		model:      cfg.LLM.Routing.Model("scoring"),
		classifier: classifier,
		logger:     logger.Named("techcrunch"),
	}
}

func (w *TechCrunchWorker) ID() string { return string(core.SourceTechCrunch) }

func (w *TechCrunchWorker) Invoke(ctx context.Context, plan core.StrategyPlan, params core.ParameterSet) core.WorkerResult {
	pages := params.Pages
	if len(pages) == 0 {
		pages = []int{1, 2}
	}
	focus := params.Queries
	if len(focus) == 0 && plan.IndustryFocus != "" {
		focus = []string{plan.IndustryFocus}
	}
	roles := params.TargetRoles
	if len(roles) == 0 {
		roles = plan.TargetRoles
	}
	maxLeads := params.MaxLeads
	if maxLeads <= 0 {
		maxLeads = defaultMaxLeads
	}
	p := newPipeline(w.ID())

	var crawled []crawledPage
	p.step(ctx, "fetch_articles", len(pages), func(ctx context.Context) (int, error) {
		for _, page := range pages {
			items, err := RunActor[crawledPage](ctx, w.apify, w.cfg.Articles, map[string]interface{}{
				"startUrls":     []map[string]string{{"url": w.pageURL(page)}},
				"maxCrawlDepth": 0,
				"maxCrawlPages": 1,
			})
			if err != nil {
				return len(crawled), err
			}
			crawled = append(crawled, items...)
		}
		return len(crawled), nil
	})

	var companies []fundedCompany
	p.step(ctx, "select_articles", len(crawled), func(ctx context.Context) (int, error) {
		var err error
		companies, err = w.selectCompanies(ctx, plan, focus, crawled)
		return len(companies), err
	})

	var leads []core.Lead
	p.step(ctx, "find_decision_makers", len(companies), func(ctx context.Context) (int, error) {
		seen := map[string]bool{}
		for _, c := range companies {
			if len(leads) >= maxLeads {
				break
			}
			found, err := w.decisionMakers(ctx, c, roles)
			if err != nil {
				return len(leads), err
			}
			for _, l := range found {
				k := strings.ToLower(l.Name)
				if seen[k] {
					continue
				}
				seen[k] = true
				leads = append(leads, l)
			}
		}
		leads = capLeads(leads, maxLeads)
		return len(leads), nil
	})

	res := p.classify(ctx, w.classifier, leads)
	w.logger.Debug("techcrunch invocation finished",
		zap.Ints("pages", pages),
		zap.Int("companies", len(companies)),
		zap.Int("leads", len(res.Leads)),
		zap.Bool("success", res.Success))
	return res
}

func (w *TechCrunchWorker) pageURL(page int) string {
	base := strings.TrimRight(w.cfg.BaseURL, "/")
	if page <= 1 {
		return base + "/"
	}
	return fmt.Sprintf("%s/page/%d/", base, page)
}

// selectCompanies asks the model which funded companies fit the product and drops weak matches.
func (w *TechCrunchWorker) selectCompanies(ctx context.Context, plan core.StrategyPlan, focus []string, pages []crawledPage) ([]fundedCompany, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, `Product: %s
Industry focus: %s

Below are TechCrunch funding listings. Extract every company that recently raised money
and rate 0-100 how likely it is to need the product right after the round.

`, plan.Product, strings.Join(focus, ", "))
	for i, pg := range pages {
		fmt.Fprintf(&b, "=== page %d (%s) ===\n%s\n\n", i+1, pg.URL, helpers.Truncate(pg.Text, maxPageChars))
	}
	b.WriteString(`Return ONLY JSON: {"companies": [{"company": "...", "headline": "...", "amount": "$10M", "page": 1, "relevance_score": 0}]}`)

	resp, err := core.WithBoundedRetry(ctx, func(ctx context.Context, _ int) (fundingSelection, error) {
		var out fundingSelection
		err := w.llm.Complete(ctx, core.CompletionRequest{
			Component: "scoring",
			Model:     w.model,
			Prompt:    b.String(),
			Schema:    fundingSelectSchema,
			Options:   map[string]interface{}{"temperature": 0.1, "max_tokens": 2000},
		}, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	selected := make([]fundedCompany, 0, len(resp.Companies))
	for _, c := range resp.Companies {
		c.Company = strings.TrimSpace(c.Company)
		k := strings.ToLower(c.Company)
		if c.Company == "" || seen[k] || c.Relevance < minFundingRelevant {
			continue
		}
		seen[k] = true
		c.SourceURL = pages[0].URL
		if c.Page >= 1 && c.Page <= len(pages) {
			c.SourceURL = pages[c.Page-1].URL
		}
		selected = append(selected, c)
	}
	return selected, nil
}

// decisionMakers searches LinkedIn profiles for the target roles at one company, founders last.
func (w *TechCrunchWorker) decisionMakers(ctx context.Context, c fundedCompany, roles []string) ([]core.Lead, error) {
	var queries []string
	for i, role := range roles {
		if i == rolesPerCompany {
			break
		}
		queries = append(queries, fmt.Sprintf(`"%s" "%s" site:linkedin.com/in/`, c.Company, role))
	}
	queries = append(queries,
		fmt.Sprintf(`"%s" founder site:linkedin.com/in/`, c.Company),
		fmt.Sprintf(`"%s" CEO site:linkedin.com/in/`, c.Company),
	)

	results, err := RunActor[serpPage](ctx, w.apify, w.cfg.SERP, map[string]interface{}{
		"queries":          strings.Join(queries, "\n"),
		"maxPagesPerQuery": 1,
		"resultsPerPage":   10,
	})
	if err != nil {
		return nil, err
	}

	signal := fmt.Sprintf("%s raised funding", c.Company)
	if c.Headline != "" {
		signal = c.Headline
	} else if c.Amount != "" {
		signal = fmt.Sprintf("%s raised %s", c.Company, c.Amount)
	}

	var leads []core.Lead
	seen := map[string]bool{}
	for _, page := range results {
		for _, r := range page.OrganicResults {
			if !strings.Contains(r.URL, "linkedin.com/in/") {
				continue
			}
			name, title := parseProfileTitle(r.Title)
			if name == "" || seen[strings.ToLower(name)] {
				continue
			}
			seen[strings.ToLower(name)] = true
			leads = append(leads, core.Lead{
				Name:           name,
				Title:          title,
				Company:        c.Company,
				LinkedInURL:    r.URL,
				IntentScore:    fundedLeadScore,
				SourcePlatform: core.SourceTechCrunch,
				IntentSignal:   signal,
				SourceURL:      c.SourceURL,
			})
		}
	}
	return leads, nil
}

// parseProfileTitle splits a search result title of the form "Name - Title - Company | LinkedIn".
// Names longer than four words are rejected.
func parseProfileTitle(raw string) (name, title string) {
	raw = strings.NewReplacer("| LinkedIn", "", "- LinkedIn", "").Replace(raw)
	raw = strings.ReplaceAll(raw, " – ", " - ")
	parts := strings.Split(strings.TrimSpace(raw), " - ")
	name = strings.TrimSpace(parts[0])
	if words := len(strings.Fields(name)); words == 0 || words > 4 {
		return "", ""
	}
	if len(parts) > 1 {
		title = strings.TrimSpace(parts[1])
	}
	return name, title
}
