package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/platform/auth"
)

type Service struct {
	repo  Repository
	audit audit.Appender
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetAuditAppender records publications in the audit trail.
func (s *Service) SetAuditAppender(a audit.Appender) {
	s.audit = a
}

func normalize(e *Entry) {
	e.Code = strings.TrimSpace(e.Code)
	if e.Currency == "" {
		e.Currency = "USD"
	}
	if e.WorkflowType == "" {
		e.WorkflowType = strings.ToLower(string(e.Department))
	}
}

func (s *Service) CreateEntry(ctx context.Context, e *Entry) error {
	normalize(e)
	if err := e.Validate(); err != nil {
		return err
	}
	e.PublishedAt = nil
	return s.repo.Create(ctx, e)
}

func (s *Service) UpdateEntry(ctx context.Context, e *Entry) error {
	normalize(e)
	if err := e.Validate(); err != nil {
		return err
	}
	return s.repo.UpdateDraft(ctx, e)
}

// PublishEntry freezes a draft. Publishing an already published entry returns
// it unchanged.
func (s *Service) PublishEntry(ctx context.Context, code string) (*Entry, error) {
	existing, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing.Published() {
		return existing, nil
	}
	e, err := s.repo.Publish(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		actor := auth.UserIDFromContext(ctx)
		if actor == "" {
			actor = "system"
		}
		err := s.audit.Append(ctx, &audit.Entry{
			Actor:        actor,
			Role:         strings.Join(auth.RolesFromContext(ctx), ","),
			Action:       audit.ActionCatalogPublished,
			ResourceType: "service_catalog_entry",
			ResourceID:   e.Code,
			Metadata: map[string]interface{}{
				"amount":   e.Amount.String(),
				"currency": e.Currency,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("audit publish %s: %w", code, err)
		}
	}
	return e, nil
}

func (s *Service) GetEntry(ctx context.Context, code string) (*Entry, error) {
	return s.repo.Get(ctx, code)
}

func (s *Service) ListEntries(ctx context.Context, filter ListFilter, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// ImportResult counts what Import did with each entry.
type ImportResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
}

// Import creates or updates drafts and publishes them. Entries already published
// are skipped; they can only be superseded by a new code.
func (s *Service) Import(ctx context.Context, entries []*Entry) (ImportResult, error) {
	var res ImportResult
	for _, e := range entries {
		normalize(e)
		if err := e.Validate(); err != nil {
			return res, fmt.Errorf("entry %q: %w", e.Code, err)
		}

		existing, err := s.repo.Get(ctx, e.Code)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := s.repo.Create(ctx, e); err != nil {
				return res, fmt.Errorf("create %s: %w", e.Code, err)
			}
			res.Created++
		case err != nil:
			return res, fmt.Errorf("load %s: %w", e.Code, err)
		case existing.Published():
			res.Skipped++
			continue
		default:
			if err := s.repo.UpdateDraft(ctx, e); err != nil {
				return res, fmt.Errorf("update %s: %w", e.Code, err)
			}
			res.Updated++
		}

		if _, err := s.PublishEntry(ctx, e.Code); err != nil {
			return res, fmt.Errorf("publish %s: %w", e.Code, err)
		}
		res.Published++
	}
	return res, nil
}
