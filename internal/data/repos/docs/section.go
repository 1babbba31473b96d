package docs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/logger"
)

type SectionRepo interface {
	Create(dbc dbctx.Context, sec *types.Section) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Section, error)
	GetByDocumentID(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Section, error)
	UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding []float32, modelVersion string) error
}

type sectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSectionRepo(db *gorm.DB, baseLog *logger.Logger) SectionRepo {
	return &sectionRepo{
		db:  db,
		log: baseLog.With("repo", "SectionRepo"),
	}
}

func (r *sectionRepo) Create(dbc dbctx.Context, sec *types.Section) error {
	t := dbc.Handle(r.db)
	if sec == nil {
		return nil
	}
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	if sec.Kind == "" {
		sec.Kind = types.SectionKindOther
	}
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.UpdatedAt = now
	return t.WithContext(dbc.Ctx).Create(sec).Error
}

func (r *sectionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Section, error) {
	t := dbc.Handle(r.db)
	var sec types.Section
	if err := t.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&sec).Error; err != nil {
		return nil, err
	}
	return &sec, nil
}

func (r *sectionRepo) GetByDocumentID(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Section, error) {
	t := dbc.Handle(r.db)
	var out []*types.Section
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("idx ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sectionRepo) UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding []float32, modelVersion string) error {
	t := dbc.Handle(r.db)
	if id == uuid.Nil {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Section{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":   types.EncodeEmbedding(embedding),
			"embed_model": modelVersion,
			"updated_at":  time.Now().UTC(),
		}).Error
}
