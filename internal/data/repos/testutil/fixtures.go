package testutil

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/semlink/semlink/internal/domain"
	"github.com/semlink/semlink/internal/platform/dbctx"
)

func SeedDocument(tb testing.TB, dbc dbctx.Context, tx *gorm.DB, title string) *types.Document {
	tb.Helper()
	doc := &types.Document{
		ID:    uuid.New(),
		Title: title,
	}
	if err := tx.WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return doc
}

func SeedSection(tb testing.TB, dbc dbctx.Context, tx *gorm.DB, documentID uuid.UUID, index int, text string) *types.Section {
	tb.Helper()
	sec := &types.Section{
		ID:         uuid.New(),
		DocumentID: documentID,
		Index:      index,
		Kind:       types.SectionKindFacts,
		Text:       text,
	}
	if err := tx.WithContext(dbc.Ctx).Create(sec).Error; err != nil {
		tb.Fatalf("seed section: %v", err)
	}
	return sec
}
