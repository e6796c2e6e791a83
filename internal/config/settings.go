package config

import (
	"maps"
	"slices"
	"time"
)

// SummaryMode selects how messages map onto summary blocks.
type SummaryMode string

const (
	// ModeIndividual produces one summary block per message.
	ModeIndividual SummaryMode = "individual"

	// ModeBatch produces one summary block per group of BatchGroupSize
	// messages.
	ModeBatch SummaryMode = "batch"
)

// IsValid reports whether m is a recognised summary mode.
func (m SummaryMode) IsValid() bool {
	return m == ModeIndividual || m == ModeBatch
}

// Language is the output language requested from the model.
type Language string

const (
	LangKorean   Language = "ko"
	LangEnglish  Language = "en"
	LangJapanese Language = "ja"

	// LangHybrid asks for English narrative with quoted dialogue kept verbatim
	// in its original language.
	LangHybrid Language = "hybrid"
)

// IsValid reports whether l is a supported output language.
func (l Language) IsValid() bool {
	switch l {
	case LangKorean, LangEnglish, LangJapanese, LangHybrid:
		return true
	}
	return false
}

// InjectionPosition is where the host inserts the memory block.
type InjectionPosition string

const (
	PositionInChat     InjectionPosition = "in-chat"
	PositionBeforeMain InjectionPosition = "before-main"
	PositionAfterMain  InjectionPosition = "after-main"
)

// IsValid reports whether p is a recognised injection position.
func (p InjectionPosition) IsValid() bool {
	switch p {
	case PositionInChat, PositionBeforeMain, PositionAfterMain:
		return true
	}
	return false
}

// Summary category identifiers. The order of [DefaultCategoryOrder] is the
// order categories appear in the output format block unless the user
// reorders them.
const (
	CategoryScenario      = "scenario"
	CategoryEmotion       = "emotion"
	CategoryInnerThoughts = "innerThoughts"
	CategoryAtmosphere    = "atmosphere"
	CategoryLocation      = "location"
	CategoryDate          = "date"
	CategoryTime          = "time"
	CategoryRelationship  = "relationship"
)

// DefaultCategoryOrder lists every known category id.
var DefaultCategoryOrder = []string{
	CategoryScenario,
	CategoryEmotion,
	CategoryInnerThoughts,
	CategoryAtmosphere,
	CategoryLocation,
	CategoryDate,
	CategoryTime,
	CategoryRelationship,
}

// IsCategory reports whether id is a known category identifier.
func IsCategory(id string) bool {
	return slices.Contains(DefaultCategoryOrder, id)
}

// Category configures one line of the structured summary.
type Category struct {
	// Enabled includes the category in the output format block.
	Enabled bool `yaml:"enabled"`

	// Label is the text before the colon in `* <Label>: <body>`.
	Label string `yaml:"label"`

	// Instruction tells the model what to write for this category.
	Instruction string `yaml:"instruction"`
}

// Settings is the typed summarizer configuration.
type Settings struct {
	Enabled       bool `yaml:"enabled"`
	AutomaticMode bool `yaml:"automatic_mode"`

	// SummaryInterval is the number of unsummarized messages that triggers an
	// automatic run.
	SummaryInterval int `yaml:"summary_interval"`

	// BatchSize is the number of messages sent per model call.
	BatchSize int `yaml:"batch_size"`

	// PreserveRecentMessages keeps the newest N messages visible even when
	// summarized.
	PreserveRecentMessages int `yaml:"preserve_recent_messages"`

	SummaryMode SummaryMode `yaml:"summary_mode"`

	// BatchGroupSize is the number of messages per group summary in batch
	// mode.
	BatchGroupSize int `yaml:"batch_group_size"`

	SummaryLanguage Language `yaml:"summary_language"`

	AutoHideEnabled          bool `yaml:"auto_hide_enabled"`
	CharacterTrackingEnabled bool `yaml:"character_tracking_enabled"`
	EventTrackingEnabled     bool `yaml:"event_tracking_enabled"`
	ItemTrackingEnabled      bool `yaml:"item_tracking_enabled"`

	IncludeWorldInfo     bool `yaml:"include_world_info"`
	IncludeCharacterCard bool `yaml:"include_character_card"`
	IncludePersona       bool `yaml:"include_persona"`

	// RawPromptMode omits the character's own scenario field from the profile
	// section because the host already sends it.
	RawPromptMode bool `yaml:"raw_prompt_mode"`

	InjectionPosition InjectionPosition `yaml:"injection_position"`
	InjectionDepth    int               `yaml:"injection_depth"`

	// TokenBudget caps the injected memory block.
	TokenBudget int `yaml:"token_budget"`

	// SummaryContextCount is how many recent summaries go into the prompt.
	// 0 disables the section and -1 includes all of them.
	SummaryContextCount int `yaml:"summary_context_count"`

	Categories    map[string]Category `yaml:"categories"`
	CategoryOrder []string            `yaml:"category_order"`

	CustomPromptTemplate          string `yaml:"custom_prompt_template"`
	CustomBatchPromptTemplate     string `yaml:"custom_batch_prompt_template"`
	CustomCharacterPromptTemplate string `yaml:"custom_character_prompt_template"`
	CustomEventPromptTemplate     string `yaml:"custom_event_prompt_template"`
	CustomItemPromptTemplate      string `yaml:"custom_item_prompt_template"`

	// MaxTokens caps the model's completion.
	MaxTokens int `yaml:"max_tokens"`

	// TimeoutSec bounds a single model call.
	TimeoutSec int `yaml:"timeout_sec"`

	// Model is passed to the generator for logging; the provider entry decides
	// the actual model.
	Model string `yaml:"model"`

	// ChatLoadingCooldown suppresses automatic runs right after a chat switch.
	ChatLoadingCooldown time.Duration `yaml:"chat_loading_cooldown"`

	// GenerationEndDelay is the pause between the host finishing a generation
	// and the automatic summary check.
	GenerationEndDelay time.Duration `yaml:"generation_end_delay"`
}

// Timeout returns TimeoutSec as a duration.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// GroupSize is the effective number of messages per summary block.
func (s Settings) GroupSize() int {
	if s.SummaryMode == ModeBatch && s.BatchGroupSize > 0 {
		return s.BatchGroupSize
	}
	return 1
}

// EnabledCategories returns enabled category ids in CategoryOrder, followed
// by any enabled category the order does not mention.
func (s Settings) EnabledCategories() []string {
	seen := make(map[string]bool, len(s.CategoryOrder))
	var out []string
	for _, id := range s.CategoryOrder {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := s.Categories[id]; ok && c.Enabled {
			out = append(out, id)
		}
	}
	for _, id := range DefaultCategoryOrder {
		if seen[id] {
			continue
		}
		if c, ok := s.Categories[id]; ok && c.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// Label returns the display label of a category, falling back to the
// default label.
func (s Settings) Label(id string) string {
	if c, ok := s.Categories[id]; ok && c.Label != "" {
		return c.Label
	}
	return defaultCategories[id].Label
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := s
	out.Categories = maps.Clone(s.Categories)
	out.CategoryOrder = slices.Clone(s.CategoryOrder)
	return out
}

var defaultCategories = map[string]Category{
	CategoryScenario: {
		Enabled:     true,
		Label:       "Scenario",
		Instruction: "What happened, in plot order. Keep names, actions and decisions; drop filler.",
	},
	CategoryEmotion: {
		Enabled:     true,
		Label:       "Emotion",
		Instruction: "Each main character's emotional state and how it changed.",
	},
	CategoryInnerThoughts: {
		Label:       "Inner Thoughts",
		Instruction: "Unspoken intentions or thoughts revealed in narration.",
	},
	CategoryAtmosphere: {
		Label:       "Atmosphere",
		Instruction: "Mood and tone of the scene in a few words.",
	},
	CategoryLocation: {
		Enabled:     true,
		Label:       "Location",
		Instruction: "Where the scene takes place. Write the previous location if unchanged.",
	},
	CategoryDate: {
		Label:       "Date",
		Instruction: "In-story date if stated or inferable.",
	},
	CategoryTime: {
		Enabled:     true,
		Label:       "Time",
		Instruction: "In-story time of day. Write the previous time if unchanged.",
	},
	CategoryRelationship: {
		Enabled:     true,
		Label:       "Relationship",
		Instruction: "Current relationship between the main character and the user.",
	},
}

// DefaultCategories returns a fresh copy of the built-in category table.
func DefaultCategories() map[string]Category {
	return maps.Clone(defaultCategories)
}

// DefaultSettings returns the settings used when no configuration is given.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                  true,
		AutomaticMode:            true,
		SummaryInterval:          10,
		BatchSize:                10,
		PreserveRecentMessages:   5,
		SummaryMode:              ModeBatch,
		BatchGroupSize:           5,
		SummaryLanguage:          LangEnglish,
		AutoHideEnabled:          true,
		CharacterTrackingEnabled: true,
		EventTrackingEnabled:     true,
		ItemTrackingEnabled:      true,
		IncludeWorldInfo:         true,
		IncludeCharacterCard:     true,
		IncludePersona:           true,
		InjectionPosition:        PositionInChat,
		InjectionDepth:           0,
		TokenBudget:              2000,
		SummaryContextCount:      5,
		Categories:               DefaultCategories(),
		CategoryOrder:            slices.Clone(DefaultCategoryOrder),
		MaxTokens:                4000,
		TimeoutSec:               120,
		ChatLoadingCooldown:      2 * time.Second,
		GenerationEndDelay:       time.Second,
	}
}

// Default returns a complete default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:  LogInfo,
			LogFormat: LogFormatText,
		},
		Storage: StorageConfig{
			Backend:    StorageSQLite,
			SQLitePath: "scenario-summarizer.db",
		},
		Tokenizer: TokenizerConfig{
			Kind: TokenizerHeuristic,
		},
		Summarizer: DefaultSettings(),
	}
}
