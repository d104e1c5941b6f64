// Package pipeline loads stage pipeline templates from YAML and seeds new
// projects with a validated stage set.
package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/store"
	"github.com/p-blackswan/stageflow/internal/workflow"
)

// StageTemplate describes one stage in a pipeline template. Stages reference
// each other by title; IDs are assigned at seeding time.
type StageTemplate struct {
	Title          string `yaml:"title"`
	Kind           string `yaml:"kind"`
	Review         bool   `yaml:"review"`
	ApprovedTarget string `yaml:"approved_target"`
	LinkedNext     string `yaml:"linked_next"`
	MainOwner      string `yaml:"main_owner"`
	Backup1        string `yaml:"backup1"`
	Backup2        string `yaml:"backup2"`
	Group          string `yaml:"group"`
}

// Template is a named ordered pipeline.
type Template struct {
	Name   string          `yaml:"name"`
	Stages []StageTemplate `yaml:"stages"`
}

// File is the top-level templates document.
type File struct {
	Templates []Template `yaml:"templates"`
}

// defaultTemplate is used when no template file is configured. Order values
// are assigned from list position at seeding time.
var defaultTemplate = Template{
	Name: "default",
	Stages: []StageTemplate{
		{Title: "Suggested", Kind: string(models.KindSuggested)},
		{Title: "Backlog", Kind: string(models.KindBacklog)},
		{Title: "In Progress", Kind: string(models.KindCustom)},
		{Title: "Complete", Kind: string(models.KindCompleted)},
		{Title: "Archive", Kind: string(models.KindArchived)},
	},
}

// Seeder creates stage sets for new projects from templates.
type Seeder struct {
	store     *store.Store
	templates map[string]Template
	logger    zerolog.Logger
}

// NewSeeder loads templates from path. An empty path yields only the
// built-in default pipeline.
func NewSeeder(st *store.Store, path string, logger zerolog.Logger) (*Seeder, error) {
	s := &Seeder{
		store:     st,
		templates: map[string]Template{defaultTemplate.Name: defaultTemplate},
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	file, err := ParseTemplates(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse %s: %w", path, err)
	}
	for _, tpl := range file.Templates {
		s.templates[tpl.Name] = tpl
	}
	s.logger.Info().Int("templates", len(s.templates)).Msg("pipeline templates loaded")
	return s, nil
}

// ParseTemplates parses a YAML templates document and checks each template's
// structure before it can ever reach a project.
func ParseTemplates(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for _, tpl := range file.Templates {
		if tpl.Name == "" {
			return nil, perrors.NewValidationError("name", "template name required")
		}
		if errs := validateTemplate(tpl); len(errs) > 0 {
			return nil, fmt.Errorf("template %q: %w", tpl.Name, errs[0])
		}
	}
	return &file, nil
}

// TemplateNames lists the available pipelines.
func (s *Seeder) TemplateNames() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}

// Seed creates the template's stages in the given project. Order values come
// from list position, spaced by 10 so operators can insert stages later
// without renumbering.
func (s *Seeder) Seed(projectID, templateName string) ([]*models.Stage, error) {
	if templateName == "" {
		templateName = defaultTemplate.Name
	}
	tpl, ok := s.templates[templateName]
	if !ok {
		return nil, perrors.NewNotFoundError("pipeline template", templateName)
	}

	stages := make([]*models.Stage, 0, len(tpl.Stages))
	byTitle := make(map[string]*models.Stage, len(tpl.Stages))
	for i, st := range tpl.Stages {
		stage := &models.Stage{
			ProjectID:            projectID,
			Title:                st.Title,
			Order:                (i + 1) * 10,
			Kind:                 models.StageKind(st.Kind),
			IsReviewStage:        st.Review,
			MainResponsibleID:    st.MainOwner,
			BackupResponsibleID1: st.Backup1,
			BackupResponsibleID2: st.Backup2,
			StageGroupID:         st.Group,
		}
		stages = append(stages, stage)
		byTitle[strings.ToLower(st.Title)] = stage
	}

	// IDs exist only after CreateStage; resolve title references in a second
	// pass once every stage has one.
	for _, stage := range stages {
		if err := s.store.CreateStage(stage); err != nil {
			return nil, err
		}
	}
	for i, st := range tpl.Stages {
		changed := false
		if st.ApprovedTarget != "" {
			stages[i].ApprovedTargetStageID = byTitle[strings.ToLower(st.ApprovedTarget)].ID
			changed = true
		}
		if st.LinkedNext != "" {
			stages[i].LinkedNextStageID = byTitle[strings.ToLower(st.LinkedNext)].ID
			changed = true
		}
		if changed {
			if err := s.store.UpdateStage(stages[i]); err != nil {
				return nil, err
			}
		}
	}

	if errs := workflow.ValidateStages(stages); len(errs) > 0 {
		return nil, errs[0]
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("template", tpl.Name).
		Int("stages", len(stages)).
		Msg("project stages seeded")
	return stages, nil
}

// validateTemplate checks a template without touching the store: reserved
// kinds present exactly once, known kind names, resolvable title references.
func validateTemplate(tpl Template) []*perrors.ValidationError {
	var errs []*perrors.ValidationError

	kindCount := make(map[models.StageKind]int)
	titles := make(map[string]bool, len(tpl.Stages))
	for _, st := range tpl.Stages {
		kind := models.StageKind(st.Kind)
		switch kind {
		case models.KindSuggested, models.KindBacklog, models.KindCustom,
			models.KindReview, models.KindCompleted, models.KindArchived:
		default:
			errs = append(errs, perrors.NewValidationError("kind",
				fmt.Sprintf("stage %q has unknown kind %q", st.Title, st.Kind)))
			continue
		}
		kindCount[kind]++
		titles[strings.ToLower(st.Title)] = true
	}

	for _, kind := range models.ReservedKinds {
		if n := kindCount[kind]; n != 1 {
			errs = append(errs, perrors.NewValidationError("kind",
				fmt.Sprintf("template must have exactly one %s stage, found %d", kind, n)))
		}
	}

	for _, st := range tpl.Stages {
		if st.Review && st.ApprovedTarget == "" {
			errs = append(errs, perrors.NewValidationError("approved_target",
				fmt.Sprintf("review stage %q has no approved target", st.Title)))
		}
		if st.ApprovedTarget != "" && !titles[strings.ToLower(st.ApprovedTarget)] {
			errs = append(errs, perrors.NewValidationError("approved_target",
				fmt.Sprintf("stage %q references unknown stage %q", st.Title, st.ApprovedTarget)))
		}
		if st.LinkedNext != "" && !titles[strings.ToLower(st.LinkedNext)] {
			errs = append(errs, perrors.NewValidationError("linked_next",
				fmt.Sprintf("stage %q references unknown stage %q", st.Title, st.LinkedNext)))
		}
	}

	return errs
}
