package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/store"
)

const customTemplates = `
templates:
  - name: engineering
    stages:
      - title: Suggested
        kind: suggested
      - title: Backlog
        kind: backlog
      - title: Build
        kind: custom
        linked_next: Code Review
      - title: Code Review
        kind: review
        review: true
        approved_target: Done
      - title: Done
        kind: completed
      - title: Archive
        kind: archived
`

func newTestSeeder(t *testing.T, templatePath string) (*store.Store, *Seeder) {
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	seeder, err := NewSeeder(st, templatePath, logger)
	require.NoError(t, err)
	return st, seeder
}

func writeTemplates(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTemplates_Valid(t *testing.T) {
	file, err := ParseTemplates([]byte(customTemplates))
	require.NoError(t, err)
	require.Len(t, file.Templates, 1)
	assert.Equal(t, "engineering", file.Templates[0].Name)
	assert.Len(t, file.Templates[0].Stages, 6)
}

func TestParseTemplates_MissingReservedKind(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - name: broken
    stages:
      - title: Backlog
        kind: backlog
`))
	assert.True(t, perrors.IsValidation(err))
}

func TestParseTemplates_UnknownKind(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - name: broken
    stages:
      - title: Weird
        kind: limbo
`))
	assert.True(t, perrors.IsValidation(err))
}

func TestParseTemplates_ReviewWithoutTarget(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - name: broken
    stages:
      - title: Suggested
        kind: suggested
      - title: Backlog
        kind: backlog
      - title: QA
        kind: review
        review: true
      - title: Done
        kind: completed
      - title: Archive
        kind: archived
`))
	assert.True(t, perrors.IsValidation(err))
}

func TestParseTemplates_DanglingReference(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - name: broken
    stages:
      - title: Suggested
        kind: suggested
      - title: Backlog
        kind: backlog
        linked_next: Nowhere
      - title: Done
        kind: completed
      - title: Archive
        kind: archived
`))
	assert.True(t, perrors.IsValidation(err))
}

func TestSeed_Default(t *testing.T) {
	st, seeder := newTestSeeder(t, "")
	p, err := st.CreateProject("Test", "owner-1")
	require.NoError(t, err)

	stages, err := seeder.Seed(p.ID, "")
	require.NoError(t, err)
	require.Len(t, stages, 5)

	assert.Equal(t, models.KindSuggested, stages[0].Kind)
	assert.Equal(t, models.KindBacklog, stages[1].Kind)
	assert.Equal(t, models.KindCompleted, stages[3].Kind)
	assert.Equal(t, models.KindArchived, stages[4].Kind)
	assert.Equal(t, 10, stages[0].Order)
	assert.Equal(t, 20, stages[1].Order)
}

func TestSeed_CustomTemplateResolvesReferences(t *testing.T) {
	st, seeder := newTestSeeder(t, writeTemplates(t, customTemplates))
	p, err := st.CreateProject("Eng", "owner-1")
	require.NoError(t, err)

	stages, err := seeder.Seed(p.ID, "engineering")
	require.NoError(t, err)
	require.Len(t, stages, 6)

	byTitle := map[string]*models.Stage{}
	for _, stage := range stages {
		byTitle[stage.Title] = stage
	}
	assert.Equal(t, byTitle["Code Review"].ID, byTitle["Build"].LinkedNextStageID)
	assert.Equal(t, byTitle["Done"].ID, byTitle["Code Review"].ApprovedTargetStageID)
	assert.True(t, byTitle["Code Review"].IsReviewStage)

	// Stored rows carry the resolved references too.
	stored, err := st.GetProjectStages(p.ID)
	require.NoError(t, err)
	for _, stage := range stored {
		if stage.Title == "Build" {
			assert.Equal(t, byTitle["Code Review"].ID, stage.LinkedNextStageID)
		}
	}
}

func TestSeed_UnknownTemplate(t *testing.T) {
	st, seeder := newTestSeeder(t, "")
	p, err := st.CreateProject("Test", "owner-1")
	require.NoError(t, err)

	_, err = seeder.Seed(p.ID, "nope")
	assert.True(t, perrors.IsNotFound(err))
}

func TestTemplateNames(t *testing.T) {
	_, seeder := newTestSeeder(t, writeTemplates(t, customTemplates))
	names := seeder.TemplateNames()
	assert.ElementsMatch(t, []string{"default", "engineering"}, names)
}
