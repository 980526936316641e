package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotdesk/internal/config"
	"slotdesk/internal/domain"
	"slotdesk/internal/models"

	"github.com/rs/zerolog"
)

// ResourceService manages bookable resources and their availability blocks.
// Active resources are cached; every write refreshes the cache.
type ResourceService struct {
	repo   domain.ResourceRepository
	logger *zerolog.Logger
	now    domain.Clock

	mu        sync.RWMutex
	active    []*models.Resource
	activeMap map[string]*models.Resource
}

func NewResourceService(repo domain.ResourceRepository, logger *zerolog.Logger) *ResourceService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ResourceService{
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		activeMap: make(map[string]*models.Resource),
	}
}

// Seed upserts resources declared in configuration. Existing rows are updated in place.
func (s *ResourceService) Seed(ctx context.Context, resources []models.Resource) error {
	for i := range resources {
		r := resources[i]
		if err := s.repo.UpsertResource(ctx, &r); err != nil {
			return domain.Storage("seed resources", err)
		}
		s.logger.Debug().Str("resource", r.Ref).Msg("Resource seeded")
	}
	s.logger.Info().Int("count", len(resources)).Msg("Resources seeded")
	return s.Refresh(ctx)
}

// ListActive returns the cached active resources sorted by ref.
func (s *ResourceService) ListActive(ctx context.Context) ([]*models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Resource, len(s.active))
	copy(out, s.active)
	return out, nil
}

func (s *ResourceService) List(ctx context.Context, activeOnly bool) ([]*models.Resource, error) {
	if activeOnly {
		return s.ListActive(ctx)
	}
	resources, err := s.repo.ListResources(ctx, false)
	if err != nil {
		return nil, domain.Storage("list resources", err)
	}
	return resources, nil
}

// Get serves active resources from the cache and falls back to storage.
func (s *ResourceService) Get(ctx context.Context, ref string) (*models.Resource, error) {
	s.mu.RLock()
	r, ok := s.activeMap[ref]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}
	r, err := s.repo.GetResource(ctx, ref)
	if err != nil {
		return nil, domain.Storage("get resource", err)
	}
	return r, nil
}

func (s *ResourceService) Upsert(ctx context.Context, r *models.Resource) error {
	if r.Kind == "" {
		r.Kind = models.ResourceService
	}
	r.Calendar = r.Calendar.WithDefaults()
	if err := config.ValidateResources([]models.Resource{*r}); err != nil {
		return domain.E(domain.KindInvalidInput, "upsert resource", err)
	}
	if err := s.repo.UpsertResource(ctx, r); err != nil {
		return domain.Storage("upsert resource", err)
	}
	s.logger.Info().Str("resource", r.Ref).Bool("active", r.IsActive).Msg("Resource saved")
	return s.Refresh(ctx)
}

// Deactivate stops new bookings on the resource. Existing bookings are kept.
func (s *ResourceService) Deactivate(ctx context.Context, ref string) error {
	return s.setActive(ctx, ref, false)
}

func (s *ResourceService) Activate(ctx context.Context, ref string) error {
	return s.setActive(ctx, ref, true)
}

func (s *ResourceService) setActive(ctx context.Context, ref string, active bool) error {
	if err := s.repo.SetResourceActive(ctx, ref, active); err != nil {
		return domain.Storage("set resource active", err)
	}
	s.logger.Info().Str("resource", ref).Bool("active", active).Msg("Resource status changed")
	return s.Refresh(ctx)
}

// AddBlock takes the resource out of service for the window. Bookings already
// inside the window are left alone; new ones are rejected as conflicts.
func (s *ResourceService) AddBlock(ctx context.Context, b *models.AvailabilityBlock) error {
	const op = "add block"
	if !b.Window.Valid() {
		return domain.Errorf(domain.KindInvalidWindow, op, "window end must be after start")
	}
	if _, err := s.Get(ctx, b.ResourceRef); err != nil {
		return err
	}
	b.Window = b.Window.Normalize()
	if !b.Window.Valid() {
		return domain.Errorf(domain.KindInvalidWindow, op, "window is shorter than one second")
	}
	if b.Reason == "" {
		b.Reason = models.BlockOther
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC().Truncate(time.Second)
	}
	if err := s.repo.CreateBlock(ctx, b); err != nil {
		return domain.Storage(op, err)
	}
	s.logger.Info().
		Str("resource", b.ResourceRef).
		Str("reason", b.Reason).
		Time("start", b.Window.Start).
		Time("end", b.Window.End).
		Msg("Availability block added")
	return nil
}

func (s *ResourceService) ListBlocks(ctx context.Context, ref string, from, to time.Time) ([]*models.AvailabilityBlock, error) {
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return nil, domain.Errorf(domain.KindInvalidWindow, "list blocks", "range end must be after start")
	}
	blocks, err := s.repo.ListBlocks(ctx, ref, from, to)
	if err != nil {
		return nil, domain.Storage("list blocks", err)
	}
	return blocks, nil
}

func (s *ResourceService) Refresh(ctx context.Context) error {
	resources, err := s.repo.ListResources(ctx, true)
	if err != nil {
		return domain.Storage("refresh resources", err)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Ref < resources[j].Ref })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = resources
	s.activeMap = make(map[string]*models.Resource, len(resources))
	for _, r := range resources {
		s.activeMap[r.Ref] = r
	}
	return nil
}
