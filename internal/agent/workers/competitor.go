package workers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/samz905/wrrk-pilot/internal/helpers"
	"go.uber.org/zap"
)

const (
	engagerLeadScore   = 65
	maxCommentsPerPost = 10
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

type linkedInActor struct {
	Name        string `json:"name"`
	LinkedInURL string `json:"linkedinUrl"`
	Position    string `json:"position"`
}

type linkedInComment struct {
	Actor      linkedInActor `json:"actor"`
	Commentary string        `json:"commentary"`
}

type companyPost struct {
	Type        string            `json:"type"`
	LinkedInURL string            `json:"linkedinUrl"`
	Content     string            `json:"content"`
	Comments    []linkedInComment `json:"comments"`
	Actor       linkedInActor     `json:"actor"`
	Commentary  string            `json:"commentary"`
	Query       struct {
		Post string `json:"post"`
	} `json:"query"`
}

type postEngager struct {
	Author struct {
		Name       string `json:"name"`
		Headline   string `json:"headline"`
		ProfileURL string `json:"profile_url"`
	} `json:"author"`
	Text      string `json:"text"`
	PostInput string `json:"post_input"`
}

type engagement struct {
	competitor string
	postURL    string
	name       string
	title      string
	profileURL string
	comment    string
}

// CompetitorWorker collects people who comment on competitors' LinkedIn posts.
// Steps: find_posts, scrape_engagers, extract, classify.
type CompetitorWorker struct {
	apify      *ApifyClient
	cfg        config.CompetitorConfig
	classifier core.IntentClassifier
	logger     *zap.Logger
}

func NewCompetitorWorker(cfg *config.Config, apify *ApifyClient, classifier core.IntentClassifier, logger *zap.Logger) *CompetitorWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompetitorWorker{
		apify:      apify,
		cfg:        cfg.Workers.Competitor,
		classifier: classifier,
		logger:     logger.Named("competitor"),
	}
}

func (w *CompetitorWorker) ID() string { return string(core.SourceCompetitorLinkedIn) }

func (w *CompetitorWorker) Invoke(ctx context.Context, plan core.StrategyPlan, params core.ParameterSet) core.WorkerResult {
	competitors := params.Competitors
	if len(competitors) == 0 {
		competitors = plan.CompetitorNames
	}
	maxLeads := params.MaxLeads
	if maxLeads <= 0 {
		maxLeads = defaultMaxLeads
	}
	p := newPipeline(w.ID())

	var (
		engagements []engagement
		bare        []engagement // posts without embedded comments
	)
	p.step(ctx, "find_posts", len(competitors), func(ctx context.Context) (int, error) {
		posts := 0
		for _, name := range competitors {
			items, err := RunActor[companyPost](ctx, w.apify, w.cfg.Posts, map[string]interface{}{
				"targetUrls":        []string{companyURL(name)},
				"maxPosts":          max(w.cfg.Posts.MaxItems, 1),
				"scrapeComments":    true,
				"maxComments":       maxCommentsPerPost,
				"scrapeReactions":   false,
				"includeQuotePosts": true,
				"includeReposts":    true,
			})
			if err != nil {
				return posts, err
			}
			for _, it := range items {
				switch it.Type {
				case "comment":
					engagements = append(engagements, fromComment(name, it.Query.Post, linkedInComment{Actor: it.Actor, Commentary: it.Commentary}))
				default:
					posts++
					if len(it.Comments) == 0 && it.LinkedInURL != "" {
						bare = append(bare, engagement{competitor: name, postURL: it.LinkedInURL})
						continue
					}
					for _, c := range it.Comments {
						engagements = append(engagements, fromComment(name, it.LinkedInURL, c))
					}
				}
			}
		}
		return posts, nil
	})

	p.step(ctx, "scrape_engagers", len(bare), func(ctx context.Context) (int, error) {
		if len(bare) == 0 || w.cfg.Engagers.ActorID == "" {
			return 0, nil
		}
		found := 0
		for _, post := range bare {
			items, err := RunActor[postEngager](ctx, w.apify, w.cfg.Engagers, map[string]interface{}{
				"postIds":     []string{post.postURL},
				"page_number": 1,
			})
			if err != nil {
				return found, err
			}
			for _, it := range items {
				engagements = append(engagements, engagement{
					competitor: post.competitor,
					postURL:    post.postURL,
					name:       it.Author.Name,
					title:      it.Author.Headline,
					profileURL: it.Author.ProfileURL,
					comment:    it.Text,
				})
				found++
			}
		}
		return found, nil
	})

	var leads []core.Lead
	p.step(ctx, "extract", len(engagements), func(ctx context.Context) (int, error) {
		leads = extractEngagerLeads(engagements, maxLeads)
		return len(leads), nil
	})

	res := p.classify(ctx, w.classifier, leads)
	w.logger.Debug("competitor invocation finished",
		zap.Strings("competitors", competitors),
		zap.Int("engagements", len(engagements)),
		zap.Int("leads", len(res.Leads)),
		zap.Bool("success", res.Success))
	return res
}

func fromComment(competitor, postURL string, c linkedInComment) engagement {
	return engagement{
		competitor: competitor,
		postURL:    postURL,
		name:       c.Actor.Name,
		title:      c.Actor.Position,
		profileURL: c.Actor.LinkedInURL,
		comment:    c.Commentary,
	}
}

// extractEngagerLeads keeps one lead per profile. Engagers without a personal profile URL are skipped.
func extractEngagerLeads(engagements []engagement, maxLeads int) []core.Lead {
	seen := map[string]bool{}
	var leads []core.Lead
	for _, e := range engagements {
		key, ok := helpers.ProfileKey(e.profileURL)
		if strings.TrimSpace(e.name) == "" || !ok || seen[key] {
			continue
		}
		seen[key] = true
		signal := fmt.Sprintf("Engaged with %s post", e.competitor)
		if c := strings.TrimSpace(e.comment); c != "" {
			signal = fmt.Sprintf("Commented on %s: %q", e.competitor, helpers.Truncate(c, 80))
		}
		leads = append(leads, core.Lead{
			Name:           strings.TrimSpace(e.name),
			Title:          e.title,
			LinkedInURL:    e.profileURL,
			IntentScore:    engagerLeadScore,
			SourcePlatform: core.SourceCompetitorLinkedIn,
			IntentSignal:   signal,
			SourceURL:      e.postURL,
		})
		if len(leads) == maxLeads {
			break
		}
	}
	return leads
}

// companyURL accepts a LinkedIn company URL or a bare company name.
func companyURL(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "http") {
		return strings.TrimRight(name, "/")
	}
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	return "https://www.linkedin.com/company/" + slug
}

