// Package ai wraps the generative model collaborators: spending projections and
// receipt scanning. Responses are cached by a hash of their input.
package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
)

var (
	ErrEmptyImage      = core.NewValidationError("empty image")
	ErrUnsupportedMIME = core.NewValidationError("unsupported image type")
	ErrImageTooLarge   = core.NewValidationError("image too large")
	ErrUnreadable      = core.NewValidationError("receipt could not be read")
)

const maxImageBytes = 10 << 20

const projectionPrompt = `You are a personal finance assistant.
Given the summary below, project income, expenses and savings for the next three
months, point out unusual spending and suggest one concrete saving.
Answer in plain text, at most 200 words.

`

const receiptPrompt = `Extract the purchase from the attached receipt.
Return STRICT JSON only, no code fences, with these fields:
- "date": string, ISO format "YYYY-MM-DD"
- "amount": number, the total paid
- "description": string, the merchant name and a short summary
`

// Receipt is what a receipt scan yields. The caller decides whether to record it.
type Receipt struct {
	Date        core.Date  `json:"date"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
}

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Service runs prompts against a Model behind an LRU cache.
type Service struct {
	model  Model
	cache  *cache.LRUCache[string]
	logger *log.Logger
}

func NewService(model Model, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 100
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		model:  model,
		cache:  cache.NewLRUCache[string](size, ttl),
		logger: logger.WithComponent(log.ComponentAI),
	}
}

// Cache exposes the response cache so it can be registered for cleanup.
func (s *Service) Cache() *cache.LRUCache[string] { return s.cache }

// Projection asks the model to project the next months from snap. The text is
// returned as is.
func (s *Service) Projection(ctx context.Context, snap *services.Snapshot) (string, error) {
	prompt := projectionPrompt + BuildSummary(snap)
	return s.generate(ctx, "projection", prompt, nil)
}

// ScanReceipt extracts date, amount and description from a receipt image.
func (s *Service) ScanReceipt(ctx context.Context, image []byte, mimeType string) (Receipt, error) {
	if len(image) == 0 {
		return Receipt{}, ErrEmptyImage
	}
	if len(image) > maxImageBytes {
		return Receipt{}, ErrImageTooLarge
	}
	if !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" {
		return Receipt{}, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mimeType)
	}

	text, err := s.generate(ctx, "receipt", receiptPrompt, &Attachment{MIMEType: mimeType, Data: image})
	if err != nil {
		return Receipt{}, err
	}
	r, err := parseReceipt(text)
	if err != nil {
		s.cache.Delete(cacheKey("receipt", receiptPrompt, &Attachment{MIMEType: mimeType, Data: image}))
		s.logger.WarnContext(ctx, "Unreadable receipt response", log.FieldError, err)
		return Receipt{}, err
	}
	return r, nil
}

func (s *Service) generate(ctx context.Context, kind, prompt string, att *Attachment) (string, error) {
	key := cacheKey(kind, prompt, att)
	if text, ok := s.cache.Get(key); ok {
		s.logger.DebugContext(ctx, "AI cache hit", log.FieldOperation, kind)
		return text, nil
	}

	start := time.Now()
	var (
		text string
		err  error
	)
	if att != nil {
		text, err = s.model.Generate(ctx, prompt, *att)
	} else {
		text, err = s.model.Generate(ctx, prompt)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "AI request failed", log.FieldOperation, kind, log.FieldError, err)
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	s.logger.InfoContext(ctx, "AI request completed",
		log.FieldOperation, kind,
		log.FieldDuration, time.Since(start).Milliseconds())
	s.cache.Set(key, text)
	return text, nil
}

func cacheKey(kind, prompt string, att *Attachment) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	if att != nil {
		h.Write([]byte{0})
		h.Write([]byte(att.MIMEType))
		h.Write([]byte{0})
		h.Write(att.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type rawReceipt struct {
	Date        string      `json:"date"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
}

func parseReceipt(text string) (Receipt, error) {
	var raw rawReceipt
	if err := json.Unmarshal([]byte(cleanModelJSON(text)), &raw); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	date, err := core.ParseDate(raw.Date)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: date %q", ErrUnreadable, raw.Date)
	}
	cents, err := core.ParseDecimalToCents(raw.Amount.String())
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: amount %q", ErrUnreadable, raw.Amount)
	}
	desc := strings.TrimSpace(raw.Description)
	if desc == "" {
		desc = "Receipt"
	}
	return Receipt{Date: date, Amount: core.Cents(cents), Description: desc}, nil
}

// cleanModelJSON strips code fences and any text around the outermost object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i != -1 {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "```"); i != -1 {
		s = s[:i]
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
