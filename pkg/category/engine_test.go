package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

func cat(name, pattern string, level models.ProtectionLevel) models.Category {
	return models.Category{Name: name, Pattern: pattern, Protection: level, Kind: models.KindFiles}
}

func TestLiteralPrefix(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"evidence/**", "evidence"},
		{"evidence/financial/**", "evidence/financial"},
		{"evidence/*.pdf", "evidence"},
		{"**", ""},
		{"**/*.pdf", ""},
		{"notes/readme.md", "notes"},
		{"a/{b,c}/**", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, LiteralPrefix(tt.pattern))
		})
	}
}

func TestNests(t *testing.T) {
	tests := []struct {
		ancestor, pattern string
		want              bool
	}{
		{"evidence/**", "evidence/financial/**", true},
		{"evidence/**", "evidence/*.pdf", true},
		{"evidence/**", "evidence/**", false},
		{"evidence/**", "evidence_old/**", false},
		{"evidence/financial/**", "evidence/**", false},
		{"evidence/*.pdf", "evidence/financial/**", false},
		{"**", "notes/**", true},
	}
	for _, tt := range tests {
		t.Run(tt.ancestor+" > "+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Nests(tt.ancestor, tt.pattern))
		})
	}
}

func TestEngine_ScenarioA(t *testing.T) {
	e := NewEngine(nil, []models.Category{
		cat("evidence", "evidence/**", models.ProtectionImmutable),
		cat("notes", "notes/**", models.ProtectionEditable),
	})

	assert.Equal(t, models.ProtectionImmutable, e.Classify("evidence/report.pdf"))
	assert.Equal(t, models.ProtectionEditable, e.Classify("notes/todo.md"))
	assert.Equal(t, models.ProtectionEditable, e.Classify("scratch.txt"))

	err := e.CheckWritable("evidence/report.pdf")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeEditDenied))
	var denied *EditDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "evidence", denied.Category)

	assert.NoError(t, e.CheckWritable("notes/todo.md"))
}

func TestEngine_StrictestMatchWins(t *testing.T) {
	// A more specific pattern never loosens what a broader one imposes,
	// even if such a set was stored without validation.
	e := NewEngine(nil, []models.Category{
		cat("evidence", "evidence/**", models.ProtectionImmutable),
		cat("financial", "evidence/financial/**", models.ProtectionProtected),
	})

	path := "evidence/financial/receipt.pdf"
	assert.Equal(t, models.ProtectionImmutable, e.Classify(path))

	display, ok := e.Display(path)
	require.True(t, ok)
	assert.Equal(t, "financial", display.Name)
	assert.Equal(t, "evidence/financial", e.DisplayPath(path))
	assert.ElementsMatch(t, []string{"evidence", "financial"}, e.Names(path))
}

func TestEngine_ClassifyIsDeterministic(t *testing.T) {
	e := NewEngine(nil, []models.Category{
		cat("a", "a/**", models.ProtectionProtected),
		cat("pdfs", "**/*.pdf", models.ProtectionImmutable),
	})
	first := e.Classify("a/x.pdf")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, e.Classify("a/x.pdf"))
	}
	assert.Equal(t, models.ProtectionImmutable, first)
}

func TestEngine_ProjectOverridesWorkspace(t *testing.T) {
	e := NewEngine(
		[]models.Category{cat("sources", "sources/**", models.ProtectionProtected), cat("shared", "shared/**", models.ProtectionEditable)},
		[]models.Category{cat("sources", "sources/**", models.ProtectionImmutable)},
	)
	c, ok := e.ByName("sources")
	require.True(t, ok)
	assert.Equal(t, models.ProtectionImmutable, c.Protection)
	assert.Len(t, e.Categories(), 2)
}

func TestEngine_IsCategoryAndContains(t *testing.T) {
	e := NewEngine(nil, []models.Category{
		cat("evidence", "evidence/**", models.ProtectionImmutable),
		cat("emails", "evidence/emails/**", models.ProtectionImmutable),
		{Name: "scripts", Pattern: "tools/**", Protection: models.ProtectionProtected, Kind: models.KindTools},
	})

	assert.True(t, e.IsCategory("evidence"))
	assert.True(t, e.IsCategory("emails"))
	assert.False(t, e.IsCategory("bank-leak"))

	assert.True(t, e.Contains("evidence", "evidence/emails/a.eml"))
	assert.True(t, e.Contains("emails", "evidence/emails/a.eml"))
	assert.False(t, e.Contains("emails", "evidence/a.pdf"))
	assert.True(t, e.Contains("evidence/emails", "evidence/emails/a.eml"))

	assert.Equal(t, []string{"tools"}, e.ToolDirs())
}

func TestValidate(t *testing.T) {
	existing := []models.Category{
		cat("evidence", "evidence/**", models.ProtectionProtected),
		cat("financial", "evidence/financial/**", models.ProtectionProtected),
	}

	tests := []struct {
		name      string
		candidate models.Category
		code      apierr.Code
	}{
		{"child may equal parent", cat("emails", "evidence/emails/**", models.ProtectionProtected), ""},
		{"child may strengthen parent", cat("emails", "evidence/emails/**", models.ProtectionImmutable), ""},
		{"child weaker than parent", cat("emails", "evidence/emails/**", models.ProtectionEditable), apierr.CodeLoosensProtection},
		{"file pattern weaker than parent", cat("pdfs", "evidence/*.pdf", models.ProtectionEditable), apierr.CodeLoosensProtection},
		{"parent stronger than existing child", cat("evidence", "evidence/**", models.ProtectionImmutable), apierr.CodeLoosensProtection},
		{"unrelated tree", cat("notes", "notes/**", models.ProtectionEditable), ""},
		{"reserved char in name", cat("a.b", "ab/**", models.ProtectionEditable), apierr.CodeInvalidName},
		{"bad pattern", cat("bad", "bad/[", models.ProtectionEditable), apierr.CodeInvalidName},
		{"duplicate pattern", cat("again", "evidence/**", models.ProtectionProtected), apierr.CodeInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(existing, tt.candidate)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, apierr.CodeOf(err))
		})
	}
}

func TestValidate_LoosensProtectionNamesAncestor(t *testing.T) {
	existing := []models.Category{cat("evidence", "evidence/**", models.ProtectionImmutable)}
	err := Validate(existing, cat("drafts", "evidence/drafts/**", models.ProtectionProtected))

	var loosens *LoosensProtectionError
	require.ErrorAs(t, err, &loosens)
	assert.Equal(t, "evidence", loosens.Ancestor)
	assert.Equal(t, models.ProtectionImmutable, loosens.AncestorLevel)
	assert.Equal(t, models.ProtectionProtected, loosens.Level)
}
