package broadcast

import "time"

// AudienceKind names a recipient-resolution rule.
type AudienceKind string

const (
	AudienceAll     AudienceKind = "all"    // every non-admin user
	AudienceActive  AudienceKind = "active" // users with an order in the active window
	AudienceSegment AudienceKind = "segment"
)

// Audience is a parsed audience selector. Segment audiences carry the
// segment name and resolve through a predicate registered on the Dispatcher.
type Audience struct {
	Kind    AudienceKind
	Segment string
}

// Post is one outbound broadcast message. When ImageRef is set the message
// goes out as media with Text as caption.
type Post struct {
	Text     string
	ImageRef string
}

// Config controls fan-out pacing.
//
// Throttle is the minimum spacing between consecutive sends of one dispatch.
// The source system used an extreme multi-minute delay to dodge platform
// rate limits; the real-world value is an open question, so it is a config
// knob, not a constant.
type Config struct {
	Throttle     time.Duration // default 3s
	ActiveWindow time.Duration // "active" audience lookback; default 30 days
	SendTimeout  time.Duration // per send call; default 10s
}

func (c Config) withDefaults() Config {
	if c.Throttle <= 0 {
		c.Throttle = 3 * time.Second
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 30 * 24 * time.Hour
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Result is the outcome of one dispatch: totals only, no per-recipient
// reporting and no resumption state.
type Result struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
}
