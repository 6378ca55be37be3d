// Package script loads and validates the static intake script: the ordered
// stages, their prompts and targets, and the per-stage branch table.
//
// The script is parsed once at startup. Any dangling stage reference or unknown
// rule, field or response type fails the load with a *models.ConfigurationError.
package script

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_script.yaml
var defaultScript []byte

// wildcardStage in a branch applies it to every stage without an explicit entry.
const wildcardStage = "*"

// yamlStage matches a stage entry in the script YAML.
type yamlStage struct {
	ID             string   `yaml:"id"`
	Prompt         string   `yaml:"prompt"`
	Context        string   `yaml:"context"`
	FollowUps      []string `yaml:"follow_ups"`
	Targets        []string `yaml:"targets"`
	Required       []string `yaml:"required"`
	CrisisKeywords []string `yaml:"crisis_keywords"`
	MinExchanges   int      `yaml:"min_exchanges"`
	MaxDuration    string   `yaml:"max_duration"`
	Rules          []string `yaml:"rules"`
	Next           string   `yaml:"next"`
}

// yamlBranch matches a branch entry in the script YAML.
type yamlBranch struct {
	Stage    string `yaml:"stage"`
	Response string `yaml:"response"`
	Next     string `yaml:"next"`
	Stay     bool   `yaml:"stay"`
	Reply    string `yaml:"reply"`
}

type yamlScript struct {
	Stages    []yamlStage  `yaml:"stages"`
	Branches  []yamlBranch `yaml:"branches"`
	Resources []string     `yaml:"resources"`
}

type branchKey struct {
	stage    models.StageID
	response models.ResponseType
}

// Repository is the validated, read-only script.
type Repository struct {
	order     []models.StageID
	index     map[models.StageID]int
	stages    map[models.StageID]models.StageDefinition
	branches  map[branchKey]models.Branch
	resources []string
}

// Default loads the script embedded in the binary.
func Default() (*Repository, error) {
	return Load(defaultScript, "embedded default_script.yaml")
}

// LoadFile loads a script from a YAML file on disk.
func LoadFile(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	return Load(data, path)
}

// Load parses and validates a YAML script. source names the script in errors.
func Load(data []byte, source string) (*Repository, error) {
	var raw yamlScript
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &models.ConfigurationError{Source: source, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	repo, err := build(raw, source)
	if err != nil {
		slog.Error("script.Load: script rejected", "source", source, "error", err)
		return nil, err
	}
	slog.Debug("script.Load: script loaded", "source", source, "stages", len(repo.order), "branches", len(repo.branches))
	return repo, nil
}

func build(raw yamlScript, source string) (*Repository, error) {
	fail := func(format string, args ...any) error {
		return &models.ConfigurationError{Source: source, Reason: fmt.Sprintf(format, args...)}
	}

	if len(raw.Stages) == 0 {
		return nil, fail("script declares no stages")
	}

	repo := &Repository{
		index:     make(map[models.StageID]int, len(raw.Stages)),
		stages:    make(map[models.StageID]models.StageDefinition, len(raw.Stages)),
		branches:  make(map[branchKey]models.Branch),
		resources: append([]string(nil), raw.Resources...),
	}

	for i, ys := range raw.Stages {
		id := models.StageID(ys.ID)
		if id == "" {
			return nil, fail("stage %d has no id", i)
		}
		if _, dup := repo.index[id]; dup {
			return nil, fail("duplicate stage id %q", id)
		}
		repo.index[id] = i
		repo.order = append(repo.order, id)
	}

	for i, ys := range raw.Stages {
		def, err := convertStage(ys)
		if err != nil {
			return nil, fail("stage %q: %v", ys.ID, err)
		}
		if def.Next != "" {
			ni, ok := repo.index[def.Next]
			if !ok {
				return nil, fail("stage %q declares undefined next stage %q", def.ID, def.Next)
			}
			if ni <= i {
				return nil, fail("stage %q declares next stage %q that does not follow it", def.ID, def.Next)
			}
		}
		repo.stages[def.ID] = def
	}

	// Explicit branches take precedence over wildcard ones regardless of order.
	var wildcards []yamlBranch
	for _, yb := range raw.Branches {
		if yb.Stage == wildcardStage {
			wildcards = append(wildcards, yb)
			continue
		}
		b, err := repo.convertBranch(yb, models.StageID(yb.Stage))
		if err != nil {
			return nil, fail("%v", err)
		}
		key := branchKey{stage: b.Stage, response: b.ResponseType}
		if _, dup := repo.branches[key]; dup {
			return nil, fail("duplicate branch for stage %q and response %q", b.Stage, b.ResponseType)
		}
		repo.branches[key] = b
	}
	for _, yb := range wildcards {
		for _, id := range repo.order {
			key := branchKey{stage: id, response: models.ResponseType(yb.Response)}
			if _, explicit := repo.branches[key]; explicit {
				continue
			}
			b, err := repo.convertBranch(yb, id)
			if err != nil {
				return nil, fail("%v", err)
			}
			repo.branches[key] = b
		}
	}

	return repo, nil
}

func convertStage(ys yamlStage) (models.StageDefinition, error) {
	def := models.StageDefinition{
		ID:             models.StageID(ys.ID),
		Prompt:         ys.Prompt,
		Context:        ys.Context,
		FollowUps:      append([]string(nil), ys.FollowUps...),
		CrisisKeywords: append([]string(nil), ys.CrisisKeywords...),
		MinExchanges:   ys.MinExchanges,
		Next:           models.StageID(ys.Next),
	}
	if def.Prompt == "" {
		return def, fmt.Errorf("missing prompt")
	}
	if def.MinExchanges < 0 {
		return def, fmt.Errorf("min_exchanges must not be negative")
	}
	if ys.MaxDuration != "" {
		d, err := time.ParseDuration(ys.MaxDuration)
		if err != nil {
			return def, fmt.Errorf("invalid max_duration %q: %w", ys.MaxDuration, err)
		}
		def.MaxDuration = d
	}
	for _, f := range ys.Targets {
		pf := models.ProfileField(f)
		if !models.IsCanonicalField(pf) {
			return def, fmt.Errorf("unknown target field %q", f)
		}
		def.TargetFields = append(def.TargetFields, pf)
	}
	for _, f := range ys.Required {
		pf := models.ProfileField(f)
		if !models.IsCanonicalField(pf) {
			return def, fmt.Errorf("unknown required field %q", f)
		}
		def.RequiredFields = append(def.RequiredFields, pf)
	}
	for _, r := range ys.Rules {
		rule := models.ProgressionRule(r)
		if !models.IsValidProgressionRule(rule) {
			return def, fmt.Errorf("unknown progression rule %q", r)
		}
		def.Rules = append(def.Rules, rule)
	}
	return def, nil
}

func (r *Repository) convertBranch(yb yamlBranch, stage models.StageID) (models.Branch, error) {
	rt := models.ResponseType(yb.Response)
	if !models.IsValidResponseType(rt) {
		return models.Branch{}, fmt.Errorf("branch for stage %q has unknown response type %q", stage, yb.Response)
	}
	si, ok := r.index[stage]
	if !ok {
		return models.Branch{}, fmt.Errorf("branch references undefined stage %q", stage)
	}
	next := models.StageID(yb.Next)
	if yb.Stay {
		if next != "" && next != stage {
			return models.Branch{}, fmt.Errorf("branch for stage %q sets both stay and next", stage)
		}
		next = stage
	}
	ni, ok := r.index[next]
	if !ok {
		return models.Branch{}, fmt.Errorf("branch for stage %q targets undefined stage %q", stage, yb.Next)
	}
	if ni < si {
		return models.Branch{}, fmt.Errorf("branch for stage %q targets earlier stage %q", stage, next)
	}
	return models.Branch{Stage: stage, ResponseType: rt, Next: next, Reply: yb.Reply}, nil
}

// InitialStage returns the first declared stage.
func (r *Repository) InitialStage() models.StageDefinition {
	return r.copyStage(r.stages[r.order[0]])
}

// Stage returns the definition of a stage.
func (r *Repository) Stage(id models.StageID) (models.StageDefinition, bool) {
	def, ok := r.stages[id]
	if !ok {
		return models.StageDefinition{}, false
	}
	return r.copyStage(def), true
}

// Branch returns the branch declared for a stage and response type, if any.
func (r *Repository) Branch(stage models.StageID, rt models.ResponseType) (models.Branch, bool) {
	b, ok := r.branches[branchKey{stage: stage, response: rt}]
	return b, ok
}

// Order returns the declared stage order.
func (r *Repository) Order() []models.StageID {
	return append([]models.StageID(nil), r.order...)
}

// Index returns the position of a stage in the declared order, or -1.
func (r *Repository) Index(id models.StageID) int {
	i, ok := r.index[id]
	if !ok {
		return -1
	}
	return i
}

// Next returns the stage that follows id, or "" for the final stage.
func (r *Repository) Next(id models.StageID) models.StageID {
	return r.stages[id].Next
}

// IsFinal reports whether the stage has no successor.
func (r *Repository) IsFinal(id models.StageID) bool {
	return r.stages[id].Next == ""
}

// ProgressPercent maps a stage position to 0..100: the initial stage is 0 and
// the final stage 100, floored in between.
func (r *Repository) ProgressPercent(id models.StageID) int {
	i := r.Index(id)
	if i < 0 {
		return 0
	}
	if len(r.order) == 1 {
		return 100
	}
	return i * 100 / (len(r.order) - 1)
}

// CrisisResources returns the static crisis-support resource list.
func (r *Repository) CrisisResources() []string {
	return append([]string(nil), r.resources...)
}

func (r *Repository) copyStage(def models.StageDefinition) models.StageDefinition {
	def.FollowUps = append([]string(nil), def.FollowUps...)
	def.TargetFields = append([]models.ProfileField(nil), def.TargetFields...)
	def.RequiredFields = append([]models.ProfileField(nil), def.RequiredFields...)
	def.CrisisKeywords = append([]string(nil), def.CrisisKeywords...)
	def.Rules = append([]models.ProgressionRule(nil), def.Rules...)
	return def
}
