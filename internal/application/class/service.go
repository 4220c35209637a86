package class

import (
	"context"
	"time"

	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/pkg/id"
)

type Service interface {
	Create(ctx context.Context, req domain.CreateClassRequest, teacherID string) (*domain.Class, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]domain.Class, error)
}

type classStore interface {
	Put(ctx context.Context, c *domain.Class) error
	ListByTeacher(ctx context.Context, teacherID string) ([]domain.Class, error)
}

type service struct {
	repo classStore
}

func NewService(repo classStore) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, req domain.CreateClassRequest, teacherID string) (*domain.Class, error) {
	c := &domain.Class{
		ClassID:   id.New(),
		Name:      req.Name,
		TeacherID: teacherID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Put(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) ListByTeacher(ctx context.Context, teacherID string) ([]domain.Class, error) {
	return s.repo.ListByTeacher(ctx, teacherID)
}
