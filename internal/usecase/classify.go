package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
	"RSSBouncer/internal/retry"
)

const defaultMaxSummaryChars = 1000

// Criteria is the immutable classification input shared by every batch.
type Criteria struct {
	Personas        []domain.Persona
	SkipCriteria    []string
	CollectionRules map[domain.Collection]string
	PriorityTopics  []string
}

// ClassifierDeps wires the model client and tuning knobs into the classifier.
type ClassifierDeps struct {
	Chat            ports.ChatClient
	Criteria        Criteria
	Retry           retry.Policy
	MaxSummaryChars int
	Logger          *slog.Logger
}

// Classifier turns batches of entries into validated verdicts.
type Classifier struct {
	chat            ports.ChatClient
	criteria        Criteria
	policy          retry.Policy
	maxSummaryChars int
	logger          *slog.Logger
}

// NewClassifier constructs the classification engine.
func NewClassifier(deps ClassifierDeps) *Classifier {
	maxChars := deps.MaxSummaryChars
	if maxChars <= 0 {
		maxChars = defaultMaxSummaryChars
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	policy := deps.Retry
	policy.Retryable = func(err error) bool {
		return domain.IsTransient(err) || domain.IsValidation(err)
	}

	return &Classifier{
		chat:            deps.Chat,
		criteria:        deps.Criteria,
		policy:          policy,
		maxSummaryChars: maxChars,
		logger:          logger.With("component", "classifier"),
	}
}

// Classify sends one request for the batch and returns exactly one verdict
// per entry, in batch order. Transient and validation failures are retried
// up to the policy ceiling.
func (c *Classifier) Classify(ctx context.Context, batch []domain.Entry) ([]domain.Verdict, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if c.chat == nil {
		return nil, domain.NewPermanentError(errors.New("chat client is not configured"))
	}

	req := ports.ChatRequest{
		Messages: []ports.ChatMessage{{Role: "user", Content: c.BuildPrompt(batch)}},
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("classification attempt failed", "attempt", attempt, "retry_in", delay, "batch_size", len(batch), "error", err)
	}

	var verdicts []domain.Verdict
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		content, err := c.chat.Complete(ctx, req)
		if err != nil {
			return err
		}
		verdicts, err = parseVerdicts(content, batch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("classify batch after %d attempt(s): %w", attempts, err)
	}

	return verdicts, nil
}

// BuildPrompt renders the user message for one batch. Articles are keyed by
// their 1-based position.
func (c *Classifier) BuildPrompt(batch []domain.Entry) string {
	var b strings.Builder

	b.WriteString("Classify each article below for the readers described here. ")
	b.WriteString("Choose exactly one collection per article.\n\n")

	b.WriteString("Reader personas:\n")
	if len(c.criteria.Personas) == 0 {
		b.WriteString("- (none configured)\n")
	}
	for _, persona := range c.criteria.Personas {
		fmt.Fprintf(&b, "- %s: %s\n", persona.Name, strings.Join(persona.Interests, "; "))
	}

	if len(c.criteria.PriorityTopics) > 0 {
		b.WriteString("\nPriority topics (lean towards read):\n")
		writeList(&b, c.criteria.PriorityTopics)
	}

	if len(c.criteria.SkipCriteria) > 0 {
		b.WriteString("\nSkip criteria (topics the readers do not want):\n")
		writeList(&b, c.criteria.SkipCriteria)
	}

	b.WriteString("\nCollections:\n")
	for _, collection := range domain.Collections {
		rule := strings.TrimSpace(c.criteria.CollectionRules[collection])
		if rule == "" {
			fmt.Fprintf(&b, "- %s\n", collection)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", collection, rule)
	}

	b.WriteString("\nArticles:\n")
	for i, entry := range batch {
		fmt.Fprintf(&b, "[%d] Title: %s\n", i+1, strings.TrimSpace(entry.Title))
		if summary := truncateRunes(strings.TrimSpace(entry.Summary), c.maxSummaryChars); summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", summary)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Respond with a JSON object containing exactly %d verdicts, one per article:\n", len(batch))
	b.WriteString(`{"verdicts":[{"id":"1","collection":"read|maybe|skip","reason":"one short sentence"}]}`)

	return b.String()
}

type verdictEnvelope struct {
	Verdicts []rawVerdict `json:"verdicts"`
}

type rawVerdict struct {
	ID         verdictID `json:"id"`
	Collection string    `json:"collection"`
	Reason     string    `json:"reason"`
}

// verdictID accepts both "1" and 1; models are inconsistent about quoting.
type verdictID string

func (v *verdictID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = verdictID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("verdict id must be a string or number: %s", data)
	}
	*v = verdictID(n.String())
	return nil
}

// parseVerdicts validates a model response against the batch. Any missing,
// duplicate, unknown or mis-labelled verdict rejects the whole response.
func parseVerdicts(content string, batch []domain.Entry) ([]domain.Verdict, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, domain.NewValidationError("response contains no JSON object")
	}

	var envelope verdictEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, domain.NewValidationError("decode response: %v", err)
	}

	verdicts := make([]domain.Verdict, len(batch))
	seen := make([]bool, len(batch))

	for _, rv := range envelope.Verdicts {
		position, err := strconv.Atoi(string(rv.ID))
		if err != nil || position < 1 || position > len(batch) {
			return nil, domain.NewValidationError("unknown article id %q", rv.ID)
		}
		idx := position - 1
		if seen[idx] {
			return nil, domain.NewValidationError("duplicate verdict for article %d", position)
		}

		collection, ok := domain.ParseCollection(rv.Collection)
		if !ok {
			return nil, domain.NewValidationError("article %d: invalid collection %q", position, rv.Collection)
		}

		seen[idx] = true
		verdicts[idx] = domain.Verdict{
			EntryID:    batch[idx].ID,
			Collection: collection,
			Rationale:  strings.TrimSpace(rv.Reason),
		}
	}

	var missing []string
	for i, ok := range seen {
		if !ok {
			missing = append(missing, strconv.Itoa(i+1))
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewValidationError("missing verdicts for articles %s", strings.Join(missing, ", "))
	}

	return verdicts, nil
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			fmt.Fprintf(b, "- %s\n", item)
		}
	}
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
