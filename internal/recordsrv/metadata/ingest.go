package metadata

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"sigs.k8s.io/yaml"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
)

// Manifest is a declarative bundle of metadata for one entity. Manifests are
// authored in YAML or JSON and applied idempotently: the entity is created or
// updated, fields are created or updated, and definition documents are
// upserted, in dependency order.
type Manifest struct {
	Entity        EntityRequest      `json:"entity"`
	Fields        []FieldRequest     `json:"fields,omitempty"`
	OptionSets    []OptionSetSpec    `json:"option_sets,omitempty"`
	Forms         []FormSpec         `json:"forms,omitempty"`
	Views         []ViewSpec         `json:"views,omitempty"`
	BusinessRules []BusinessRuleSpec `json:"business_rules,omitempty"`
	// Publish freezes a new schema version after the manifest is applied.
	Publish bool `json:"publish,omitempty"`
}

// ApplyManifest parses and applies a metadata manifest. YAML input is
// converted to JSON before decoding, so both formats share one schema.
func ApplyManifest(ctx context.Context, data []byte) apperrors.Error {
	jsonData, errY := yaml.YAMLToJSON(data)
	if errY != nil {
		return ErrInvalidDefinition.Msg("manifest is not valid YAML or JSON: " + errY.Error())
	}
	manifest := &Manifest{}
	if errJs := json.Unmarshal(jsonData, manifest); errJs != nil {
		return ErrInvalidDefinition.Err(errJs)
	}

	if _, err := CreateEntity(ctx, &manifest.Entity); err != nil {
		if !errors.Is(err, ErrAlreadyExists) && !errors.Is(err, dberror.ErrAlreadyExists) {
			return err
		}
		if _, err := UpdateEntity(ctx, &manifest.Entity); err != nil {
			return err
		}
	}
	entityName := manifest.Entity.LogicalName

	// Option sets precede fields so option-set fields can reference them.
	for i := range manifest.OptionSets {
		if err := SaveOptionSet(ctx, entityName, &manifest.OptionSets[i]); err != nil {
			return err
		}
	}
	for i := range manifest.Fields {
		req := &manifest.Fields[i]
		if _, err := CreateField(ctx, entityName, req); err != nil {
			if !errors.Is(err, ErrAlreadyExists) && !errors.Is(err, dberror.ErrAlreadyExists) {
				return err
			}
			if _, err := UpdateField(ctx, entityName, req); err != nil {
				return err
			}
		}
	}
	for i := range manifest.Forms {
		if err := SaveForm(ctx, entityName, &manifest.Forms[i]); err != nil {
			return err
		}
	}
	for i := range manifest.Views {
		if err := SaveView(ctx, entityName, &manifest.Views[i]); err != nil {
			return err
		}
	}
	for i := range manifest.BusinessRules {
		if err := SaveBusinessRule(ctx, entityName, &manifest.BusinessRules[i]); err != nil {
			return err
		}
	}

	if manifest.Publish {
		if _, err := PublishEntity(ctx, entityName); err != nil {
			return err
		}
	}

	log.Ctx(ctx).Info().Str("entity", entityName).
		Int("fields", len(manifest.Fields)).
		Bool("published", manifest.Publish).
		Msg("applied metadata manifest")
	return nil
}
