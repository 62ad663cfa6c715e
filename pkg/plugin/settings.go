package plugin

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// emptySchema is the default settings schema for plugins that declare
// none: any object validates.
func emptySchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// SettingsSchema resolves the plugin's settings JSON schema with the
// precedence {schema override > model override > empty default}.
func (p *Plugin) SettingsSchema() map[string]any {
	ov := p.Overrides()
	if ov.SettingsSchema != nil {
		return ov.SettingsSchema()
	}
	if ov.SettingsModel != nil {
		return ov.SettingsModel().Schema
	}
	return emptySchema()
}

// SettingsModel resolves the plugin's settings model: schema plus the
// defaults a fresh document starts from. Without a model override, the
// defaults are extracted from the schema's per-property "default"
// keywords.
func (p *Plugin) SettingsModel() SettingsModel {
	if model := p.Overrides().SettingsModel; model != nil {
		return model()
	}

	schema := p.SettingsSchema()
	return SettingsModel{
		Schema:   schema,
		Defaults: defaultsFromSchema(schema),
	}
}

// defaultsFromSchema collects {property -> default} for every property
// carrying a "default" keyword.
func defaultsFromSchema(schema map[string]any) map[string]any {
	defaults := map[string]any{}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return defaults
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if def, ok := prop["default"]; ok {
			defaults[name] = def
		}
	}
	return defaults
}

// LoadSettings reads the agent's settings for this plugin, creating
// them from defaults when absent, and validates them against the
// resolved schema.
func (p *Plugin) LoadSettings(agentID string) (map[string]any, error) {
	if load := p.Overrides().LoadSettings; load != nil {
		return load(agentID)
	}

	stored, err := p.deps.Store.GetSettings(agentID, p.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for plugin %s: %w", p.id, err)
	}

	if stored == nil {
		defaults := p.SettingsModel().Defaults
		if err := p.deps.Store.SetSettings(agentID, p.id, defaults); err != nil {
			return nil, fmt.Errorf("failed to create settings for plugin %s: %w", p.id, err)
		}
		return defaults, nil
	}

	if err := p.validateSettings(stored); err != nil {
		return nil, fmt.Errorf("settings for plugin %s are invalid: %w", p.id, err)
	}
	return stored, nil
}

// SaveSettings writes the agent's settings for this plugin after
// validating them against the resolved schema.
func (p *Plugin) SaveSettings(agentID string, values map[string]any) (map[string]any, error) {
	if save := p.Overrides().SaveSettings; save != nil {
		return save(agentID, values)
	}

	if err := p.validateSettings(values); err != nil {
		return nil, fmt.Errorf("refusing to save invalid settings for plugin %s: %w", p.id, err)
	}

	if err := p.deps.Store.SetSettings(agentID, p.id, values); err != nil {
		return nil, fmt.Errorf("failed to save settings for plugin %s: %w", p.id, err)
	}
	return values, nil
}

// migrateSettings carries an agent's stored settings over to the
// plugin's current schema: values for keys the current schema still
// knows are kept, dropped keys vanish, new keys get their defaults.
// When the migrated document fails validation the schema defaults are
// stored verbatim instead. The operation is idempotent.
func (p *Plugin) migrateSettings(agentID string) error {
	defaults := p.SettingsModel().Defaults

	stored, err := p.deps.Store.GetSettings(agentID, p.id)
	if err != nil {
		return fmt.Errorf("failed to read stored settings: %w", err)
	}

	migrated := make(map[string]any, len(defaults))
	for key, def := range defaults {
		if stored != nil {
			if val, ok := stored[key]; ok {
				migrated[key] = val
				continue
			}
		}
		migrated[key] = def
	}

	if err := p.validateSettings(migrated); err != nil {
		p.logger.Warn().Err(err).Str("agent", agentID).
			Msg("Migrated settings failed validation, falling back to defaults")
		migrated = defaults
	}

	if err := p.deps.Store.SetSettings(agentID, p.id, migrated); err != nil {
		return fmt.Errorf("failed to store migrated settings: %w", err)
	}
	return nil
}

// validateSettings checks a settings document against the resolved
// schema.
func (p *Plugin) validateSettings(values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(p.SettingsSchema()),
		gojsonschema.NewGoLoader(values),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
