// Package models defines the data shared between the session, the HTTP API and the CLI.
package models

// Voice is one synthesis voice offered by the speech engine.
type Voice struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language,omitempty" yaml:"language"`
}

// Label returns the text shown for the voice in a selection list.
func (v Voice) Label() string {
	if v.Language == "" {
		return v.Name
	}
	return v.Name + " (" + v.Language + ")"
}

// SessionView is a snapshot of everything the page shows.
type SessionView struct {
	FileName       string  `json:"file_name"`
	Error          string  `json:"error"`
	Loading        bool    `json:"loading"`
	ContentVisible bool    `json:"content_visible"`
	Content        string  `json:"content"`
	AudioVisible   bool    `json:"audio_visible"`
	Speaking       bool    `json:"speaking"`
	ConvertLabel   string  `json:"convert_label"`
	ConvertEnabled bool    `json:"convert_enabled"`
	Voices         []Voice `json:"voices"`
	SelectedVoice  int     `json:"selected_voice"`
}

// VoiceList is the voice selection as exposed over the API.
type VoiceList struct {
	Voices   []Voice `json:"voices"`
	Selected int     `json:"selected"`
}
