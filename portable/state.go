package portable

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current portable document schema.  It is written on
// every push so future readers can migrate old documents.
const SchemaVersion = 1

// Profile is the public slice of the portable state.
type Profile struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// UnmarshalJSON accepts both shapes of the avatar field found in the wild:
// a plain string and an object carrying a url property.  Either form
// normalizes to Profile.AvatarURL.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw struct {
		DisplayName string          `json:"displayName"`
		AvatarURL   json.RawMessage `json:"avatarUrl"`
		Bio         string          `json:"bio"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.DisplayName = raw.DisplayName
	p.Bio = raw.Bio
	p.AvatarURL = ""
	if len(raw.AvatarURL) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.AvatarURL, &s); err == nil {
		p.AvatarURL = s
		return nil
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw.AvatarURL, &obj); err == nil {
		p.AvatarURL = obj.URL
		return nil
	}
	// unrecognized avatar shape is dropped, not fatal
	return nil
}

// Merge overlays the set fields of partial onto p, field by field.  Empty
// fields in partial leave the current value alone.
func (p Profile) Merge(partial Profile) Profile {
	out := p
	if partial.DisplayName != "" {
		out.DisplayName = partial.DisplayName
	}
	if partial.AvatarURL != "" {
		out.AvatarURL = partial.AvatarURL
	}
	if partial.Bio != "" {
		out.Bio = partial.Bio
	}
	return out
}

// Preferences is the private settings slice of the portable state.
type Preferences struct {
	Theme         string          `json:"theme,omitempty"`
	Notifications map[string]bool `json:"notifications,omitempty"`
	Accessibility map[string]bool `json:"accessibility,omitempty"`
}

// DefaultPreferences is the document substituted when a user's Pod has no
// preferences resource yet.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:         "light",
		Notifications: map[string]bool{},
		Accessibility: map[string]bool{},
	}
}

// Merge overlays partial onto p.  Theme is last-write-wins; the
// notifications and accessibility maps merge key by key so flags omitted
// from partial are preserved.
func (p Preferences) Merge(partial Preferences) Preferences {
	out := Preferences{
		Theme:         p.Theme,
		Notifications: mergeFlags(p.Notifications, partial.Notifications),
		Accessibility: mergeFlags(p.Accessibility, partial.Accessibility),
	}
	if partial.Theme != "" {
		out.Theme = partial.Theme
	}
	return out
}

func mergeFlags(current, partial map[string]bool) map[string]bool {
	out := make(map[string]bool, len(current)+len(partial))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Event is one entry of the append-only activity ledger.
type Event struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	InstanceID  string                 `json:"instanceId,omitempty"`
	ResourceURL string                 `json:"resourceUrl,omitempty"`
	OccurredAt  time.Time              `json:"occurredAt"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Ledger is the ordered activity history stored on the Pod.  Entries are
// only ever appended.
type Ledger struct {
	SchemaVersion int     `json:"portableSchemaVersion"`
	Events        []Event `json:"events"`
}

// State is the assembled portable document set.
type State struct {
	SchemaVersion int          `json:"portableSchemaVersion"`
	Profile       *Profile     `json:"profile,omitempty"`
	Preferences   *Preferences `json:"preferences,omitempty"`
	Ledger        *Ledger      `json:"activityLedger,omitempty"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}
