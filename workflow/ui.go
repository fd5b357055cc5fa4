package workflow

import "time"

// UIState is the render-only view of a State.
type UIState struct {
	Kind        string `json:"state"`
	ElapsedSecs int    `json:"elapsedSecs,omitempty"`
	PartialText string `json:"partialText,omitempty"`
	Source      string `json:"source,omitempty"`
	Message     string `json:"message,omitempty"`
	Text        string `json:"text,omitempty"`
	LastText    string `json:"lastText,omitempty"`
}

func ToUI(s State, now time.Time) UIState {
	ui := UIState{Kind: s.Name()}
	switch st := s.(type) {
	case Recording:
		ui.ElapsedSecs = int(now.Sub(st.StartedAt) / time.Second)
		ui.PartialText = st.PartialText
	case Stopping:
		ui.PartialText = st.PartialText
	case Transcribing:
		ui.PartialText = st.PartialText
	case NoSpeech:
		ui.Source = st.Source.String()
		ui.Message = st.Message
	case Done:
		ui.Text = st.Text
	case Error:
		ui.Message = st.Message
		ui.LastText = st.LastGoodText
	}
	return ui
}
