package assoc

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/logger"
)

type RunRepo interface {
	Create(dbc dbctx.Context, run *types.AssociationRun) error
	GetBySectionID(dbc dbctx.Context, sectionID uuid.UUID) ([]*types.AssociationRun, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{
		db:  db,
		log: baseLog.With("repo", "AssociationRunRepo"),
	}
}

func (r *runRepo) Create(dbc dbctx.Context, run *types.AssociationRun) error {
	t := dbc.Handle(r.db)
	if run == nil || run.SectionID == uuid.Nil {
		return nil
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	return t.WithContext(dbc.Ctx).Create(run).Error
}

func (r *runRepo) GetBySectionID(dbc dbctx.Context, sectionID uuid.UUID) ([]*types.AssociationRun, error) {
	t := dbc.Handle(r.db)
	var out []*types.AssociationRun
	if sectionID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("section_id = ?", sectionID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
