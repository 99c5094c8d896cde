package events

import (
	"net/url"

	"linkfolio/internal/pkg/referrers"
	"linkfolio/internal/pkg/user_agent"
)

// Environment holds the raw client strings an event is classified from.
type Environment struct {
	UserAgent     string
	Referrer      string
	PageQuery     url.Values
	ViewportWidth int
}

// EventContext is attached to every event at submission time.
type EventContext struct {
	DeviceType     string `json:"deviceType"`
	OS             string `json:"os"`
	Browser        string `json:"browser"`
	ReferrerSource string `json:"referrerSource"`
}

// Classify derives the event context. It is pure: equal environments give
// equal contexts.
func Classify(env Environment) EventContext {
	ua := user_agent.ParseUserAgent(env.UserAgent, env.ViewportWidth)
	return EventContext{
		DeviceType:     ua.Device,
		OS:             ua.OS,
		Browser:        ua.Browser,
		ReferrerSource: referrers.Source(env.Referrer, env.PageQuery),
	}
}
