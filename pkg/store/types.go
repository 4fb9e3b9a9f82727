package store

// Character is a persona the user chats with. Voice is a soft reference to
// Voice.Voice; empty means unassigned.
type Character struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Voice        string   `json:"voice"`
	SystemPrompt string   `json:"system_prompt"`
	ImageURL     string   `json:"image_url"`
	Images       []string `json:"images"`
	IsActive     bool     `json:"is_active"`
	LastMessage  string   `json:"last_message"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// Clone returns a deep copy so cached records never leak to callers.
func (c Character) Clone() Character {
	out := c
	out.Images = append([]string{}, c.Images...)
	return out
}

type CharacterCreate struct {
	Name         string   `json:"name" yaml:"name"`
	Voice        string   `json:"voice" yaml:"voice"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	ImageURL     string   `json:"image_url" yaml:"image_url"`
	Images       []string `json:"images" yaml:"images"`
	IsActive     bool     `json:"is_active" yaml:"is_active"`
}

// CharacterUpdate applies only the non-nil fields.
type CharacterUpdate struct {
	Name         *string   `json:"name,omitempty"`
	Voice        *string   `json:"voice,omitempty"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	ImageURL     *string   `json:"image_url,omitempty"`
	Images       *[]string `json:"images,omitempty"`
	IsActive     *bool     `json:"is_active,omitempty"`
	LastMessage  *string   `json:"last_message,omitempty"`
}

func (u CharacterUpdate) empty() bool {
	return u.Name == nil && u.Voice == nil && u.SystemPrompt == nil && u.ImageURL == nil &&
		u.Images == nil && u.IsActive == nil && u.LastMessage == nil
}

// Voice is a TTS voice profile keyed by its unique name. AudioTokens holds
// the decoded token blob, or the raw stored text when it is not valid JSON.
type Voice struct {
	Voice       string  `json:"voice"`
	Method      string  `json:"method"`
	AudioPath   string  `json:"audio_path"`
	TextPath    string  `json:"text_path"`
	SpeakerDesc string  `json:"speaker_desc"`
	ScenePrompt string  `json:"scene_prompt"`
	AudioTokens any     `json:"audio_tokens"`
	ID          *string `json:"id"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// Clone copies v. JSON-shaped tokens (maps and slices of any) are copied
// deeply; other token values are shared with the original.
func (v Voice) Clone() Voice {
	out := v
	if v.ID != nil {
		id := *v.ID
		out.ID = &id
	}
	out.AudioTokens = CloneTokens(v.AudioTokens)
	return out
}

// CloneTokens deep-copies decoded JSON (maps and slices of any). Other
// values are returned as is.
func CloneTokens(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneTokens(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneTokens(val)
		}
		return out
	default:
		return v
	}
}

type VoiceCreate struct {
	Voice       string `json:"voice" yaml:"voice"`
	Method      string `json:"method" yaml:"method"`
	AudioPath   string `json:"audio_path" yaml:"audio_path"`
	TextPath    string `json:"text_path" yaml:"text_path"`
	SpeakerDesc string `json:"speaker_desc" yaml:"speaker_desc"`
	ScenePrompt string `json:"scene_prompt" yaml:"scene_prompt"`
}

// VoiceUpdate applies only the non-nil fields. A non-nil NewVoice renames the voice.
type VoiceUpdate struct {
	NewVoice    *string `json:"new_voice,omitempty"`
	Method      *string `json:"method,omitempty"`
	AudioPath   *string `json:"audio_path,omitempty"`
	TextPath    *string `json:"text_path,omitempty"`
	SpeakerDesc *string `json:"speaker_desc,omitempty"`
	ScenePrompt *string `json:"scene_prompt,omitempty"`
	AudioTokens any     `json:"audio_tokens,omitempty"`
}

// Conversation is never cached; reads always go to the store.
type Conversation struct {
	ConversationID   string           `json:"conversation_id"`
	Title            *string          `json:"title"`
	ActiveCharacters []map[string]any `json:"active_characters"`
	CreatedAt        string           `json:"created_at,omitempty"`
	UpdatedAt        string           `json:"updated_at,omitempty"`
}

type ConversationCreate struct {
	Title            *string          `json:"title,omitempty"`
	ActiveCharacters []map[string]any `json:"active_characters"`
}

type ConversationUpdate struct {
	Title            *string           `json:"title,omitempty"`
	ActiveCharacters *[]map[string]any `json:"active_characters,omitempty"`
}

type Message struct {
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Name           *string `json:"name"`
	Content        string  `json:"content"`
	CharacterID    *string `json:"character_id"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

type MessageCreate struct {
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	Name           *string `json:"name,omitempty"`
	CharacterID    *string `json:"character_id,omitempty"`
}

// CharacterFilter narrows ListCharacters. Zero value lists everything.
type CharacterFilter struct {
	ActiveOnly   bool
	NameContains string
}
