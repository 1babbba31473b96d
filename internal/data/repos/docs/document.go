package docs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{
		db:  db,
		log: baseLog.With("repo", "DocumentRepo"),
	}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) error {
	t := dbc.Handle(r.db)
	if doc == nil {
		return nil
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return t.WithContext(dbc.Ctx).Create(doc).Error
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	t := dbc.Handle(r.db)
	var doc types.Document
	if err := t.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &doc, nil
}
