package tui

// Option configures a board Model.
type Option func(*Model)

// WithClipboard replaces the system clipboard writer used by the copy binding.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) {
		if write != nil {
			m.copyText = write
		}
	}
}

// WithActivityLimit sets how many change events the activity view loads.
func WithActivityLimit(limit int) Option {
	return func(m *Model) {
		if limit > 0 {
			m.activityLimit = limit
		}
	}
}

// WithMarkdownStyle sets the glamour style used for item descriptions ("auto", "dark", "light", "notty").
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		m.markdown.style = style
	}
}
