// Package extract turns conversation history into structured profile fields.
//
// Extraction is rule based: each canonical field has an ordered list of
// (matcher, transform) rules and the first rule that yields a value wins.
// Merge applies the profile's write policy and Validate reports every
// violation in a single pass.
package extract

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// StageSource provides stage definitions by id.
type StageSource interface {
	Stage(id models.StageID) (models.StageDefinition, bool)
}

// Extractor runs per-field rules over stage-bucketed user text.
type Extractor struct {
	stages StageSource
	rules  map[models.ProfileField][]Rule
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRules replaces the rule list for one field.
func WithRules(field models.ProfileField, rules []Rule) Option {
	return func(e *Extractor) {
		e.rules[field] = rules
	}
}

// New creates an Extractor over the given stages with the default rules.
func New(stages StageSource, opts ...Option) *Extractor {
	e := &Extractor{stages: stages, rules: DefaultRules()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// bucket is the concatenated user text sent while one stage was active.
type bucket struct {
	stage models.StageID
	texts []string
}

// Extract computes the profile delta implied by the session's whole history.
// User messages are grouped by the stage they were sent at, and each stage's
// target fields are extracted from that stage's text only.
func (e *Extractor) Extract(session *models.ConversationSession) models.CollectedProfile {
	delta := models.NewCollectedProfile()

	var buckets []*bucket
	byStage := make(map[models.StageID]*bucket)
	for _, m := range session.History {
		if m.Sender != models.SenderUser {
			continue
		}
		b, ok := byStage[m.Stage]
		if !ok {
			b = &bucket{stage: m.Stage}
			byStage[m.Stage] = b
			buckets = append(buckets, b)
		}
		b.texts = append(b.texts, m.Content)
	}

	for _, b := range buckets {
		def, ok := e.stages.Stage(b.stage)
		if !ok {
			slog.Warn("Extractor.Extract: history references unknown stage", "sessionID", session.ID, "stage", b.stage)
			continue
		}
		text := strings.Join(b.texts, "\n")
		for _, field := range def.TargetFields {
			if delta.Has(field) {
				continue
			}
			if v, ok := e.extractField(field, text); ok {
				delta.Set(field, v)
			}
		}
	}

	PostProcess(&delta)
	return delta
}

// ExtractField runs one field's rules against text.
func (e *Extractor) ExtractField(field models.ProfileField, text string) (models.ProfileValue, bool) {
	return e.extractField(field, text)
}

func (e *Extractor) extractField(field models.ProfileField, text string) (models.ProfileValue, bool) {
	for _, rule := range e.rules[field] {
		v, ok := rule.Apply(text)
		if !ok || v.IsEmpty() {
			continue
		}
		slog.Debug("Extractor.extractField: rule matched", "field", field, "rule", rule.Name)
		return v, true
	}
	return models.ProfileValue{}, false
}

// Novel returns the part of delta that would change profile under the merge
// policy: scalars missing from profile, and list items profile lacks.
func Novel(profile, delta models.CollectedProfile) models.CollectedProfile {
	out := models.NewCollectedProfile()
	for field, v := range delta.Fields {
		if v.IsEmpty() {
			continue
		}
		existing, ok := profile.Get(field)
		if !ok || existing.IsEmpty() {
			out.Set(field, v)
			continue
		}
		if v.Kind != models.KindList || existing.Kind != models.KindList {
			continue
		}
		have := make(map[string]bool, len(existing.List))
		for _, item := range existing.List {
			have[strings.ToLower(strings.TrimSpace(item))] = true
		}
		var fresh []string
		for _, item := range v.List {
			if !have[strings.ToLower(strings.TrimSpace(item))] {
				fresh = append(fresh, item)
			}
		}
		if len(fresh) > 0 {
			out.Set(field, models.ListValue(fresh...))
		}
	}
	return out
}

// Merge applies delta to dst. Scalar fields are written only when dst has no
// value yet. List fields are unioned, de-duplicated case-insensitively, with
// the first spelling kept. Values whose kind conflicts with dst are skipped.
func Merge(dst *models.CollectedProfile, delta models.CollectedProfile) {
	for field, v := range delta.Fields {
		if v.IsEmpty() {
			continue
		}
		existing, ok := dst.Get(field)
		if !ok || existing.IsEmpty() {
			if v.List != nil {
				v.List = append([]string(nil), v.List...)
			}
			dst.Set(field, v)
			continue
		}
		if existing.Kind != models.KindList || v.Kind != models.KindList {
			continue
		}
		dst.Set(field, models.ListValue(union(existing.List, v.List)...))
	}
	PostProcess(dst)
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

// PostProcess trims whitespace, drops empty list entries and removes fields
// left with no value.
func PostProcess(p *models.CollectedProfile) {
	for field, v := range p.Fields {
		switch v.Kind {
		case models.KindText:
			v.Text = strings.TrimSpace(v.Text)
		case models.KindList:
			items := v.List[:0:0]
			for _, item := range v.List {
				if s := strings.TrimSpace(item); s != "" {
					items = append(items, s)
				}
			}
			v.List = items
		}
		if v.IsEmpty() {
			delete(p.Fields, field)
			continue
		}
		p.Fields[field] = v
	}
}

// Completeness is the fraction of canonical fields holding a value.
func Completeness(p models.CollectedProfile) float64 {
	return float64(p.PopulatedCount()) / float64(len(models.CanonicalFields))
}
