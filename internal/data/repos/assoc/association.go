package assoc

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/logger"
)

// UpsertResult summarizes a batch upsert. Failures are per-row; the batch
// itself never aborts on a row error.
type UpsertResult struct {
	Persisted int
	Skipped   int
	Failed    int
}

type AssociationRepo interface {
	// Upsert writes associations keyed by (section_id, subject, predicate,
	// object). An existing row is overwritten only when the incoming row
	// improves on it (higher method precedence, or equal precedence and a
	// higher score) or when force is set.
	Upsert(dbc dbctx.Context, rows []*types.Association, force bool) (UpsertResult, error)
	ListBySection(dbc dbctx.Context, sectionID uuid.UUID) ([]*types.Association, error)
	TopN(dbc dbctx.Context, sectionID uuid.UUID, n int) ([]*types.Association, error)
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Association, error)
}

type associationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssociationRepo(db *gorm.DB, baseLog *logger.Logger) AssociationRepo {
	return &associationRepo{
		db:  db,
		log: baseLog.With("repo", "AssociationRepo"),
	}
}

func validateRow(row *types.Association) error {
	if row == nil {
		return fmt.Errorf("%w: nil association", errs.ErrInvalidArgument)
	}
	if row.SectionID == uuid.Nil {
		return fmt.Errorf("%w: association missing section id", errs.ErrInvalidArgument)
	}
	if row.Subject == "" || row.Predicate == "" || row.Object == "" {
		return fmt.Errorf("%w: association missing triple identity", errs.ErrInvalidArgument)
	}
	if row.Score < 0 || row.Score > 1 {
		return fmt.Errorf("%w: association score %v outside [0,1]", errs.ErrInvalidArgument, row.Score)
	}
	if types.MethodPrecedence(row.Method) == 0 {
		return fmt.Errorf("%w: unknown association method %q", errs.ErrInvalidArgument, row.Method)
	}
	return nil
}

// improves reports whether incoming should replace existing.
func improves(existing, incoming *types.Association) bool {
	ep := types.MethodPrecedence(existing.Method)
	ip := types.MethodPrecedence(incoming.Method)
	if ip != ep {
		return ip > ep
	}
	return incoming.Score > existing.Score
}

func (r *associationRepo) Upsert(dbc dbctx.Context, rows []*types.Association, force bool) (UpsertResult, error) {
	t := dbc.Handle(r.db)
	var res UpsertResult

	for _, row := range rows {
		if err := validateRow(row); err != nil {
			r.log.Warn("rejecting association row", "error", err)
			res.Failed++
			continue
		}

		var existing types.Association
		err := t.WithContext(dbc.Ctx).
			Where("section_id = ? AND subject = ? AND predicate = ? AND object = ?",
				row.SectionID, row.Subject, row.Predicate, row.Object).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			now := time.Now().UTC()
			row.CreatedAt = now
			row.UpdatedAt = now
			// DoNothing keeps concurrent writers of the same pair from
			// erroring; the row that lost the race is a duplicate anyway.
			if cErr := t.WithContext(dbc.Ctx).
				Clauses(clause.OnConflict{
					Columns: []clause.Column{
						{Name: "section_id"}, {Name: "subject"}, {Name: "predicate"}, {Name: "object"},
					},
					DoNothing: true,
				}).
				Create(row).Error; cErr != nil {
				r.log.Warn("association insert failed", "section_id", row.SectionID, "error", cErr)
				res.Failed++
				continue
			}
			res.Persisted++

		case err != nil:
			r.log.Warn("association lookup failed", "section_id", row.SectionID, "error", err)
			res.Failed++

		default:
			if !force && !improves(&existing, row) {
				res.Skipped++
				continue
			}
			if uErr := t.WithContext(dbc.Ctx).
				Model(&types.Association{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"score":       row.Score,
					"method":      row.Method,
					"explanation": row.Explanation,
					"updated_at":  time.Now().UTC(),
				}).Error; uErr != nil {
				r.log.Warn("association update failed", "section_id", row.SectionID, "error", uErr)
				res.Failed++
				continue
			}
			res.Persisted++
		}
	}
	return res, nil
}

func (r *associationRepo) ListBySection(dbc dbctx.Context, sectionID uuid.UUID) ([]*types.Association, error) {
	t := dbc.Handle(r.db)
	var out []*types.Association
	if sectionID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("section_id = ?", sectionID).
		Order("score DESC, subject ASC, predicate ASC, object ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *associationRepo) TopN(dbc dbctx.Context, sectionID uuid.UUID, n int) ([]*types.Association, error) {
	if n <= 0 {
		return nil, nil
	}
	t := dbc.Handle(r.db)
	var out []*types.Association
	if err := t.WithContext(dbc.Ctx).
		Where("section_id = ?", sectionID).
		Order("score DESC, subject ASC, predicate ASC, object ASC").
		Limit(n).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *associationRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Association, error) {
	t := dbc.Handle(r.db)
	var out []*types.Association
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Joins("JOIN section ON section.id = section_triple_association.section_id").
		Where("section.document_id = ?", documentID).
		Order("section.idx ASC, score DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
