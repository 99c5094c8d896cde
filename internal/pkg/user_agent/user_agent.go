package user_agent

import (
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device categories.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceTablet  = "tablet"
)

// Other is reported when no rule matches, an empty user agent included.
const Other = "Other"

type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
}

//go:embed database/rules.yml
var databaseFiles embed.FS

// Rule maps a pattern to a name. Rules are evaluated in order.
type Rule struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

type deviceRules struct {
	Mobile         string `yaml:"mobile"`
	Tablet         string `yaml:"tablet"`
	TabletMinWidth int    `yaml:"tablet_min_width"`
}

type ruleFile struct {
	Device   deviceRules `yaml:"device"`
	OSs      []Rule      `yaml:"oss"`
	Browsers []Rule      `yaml:"browsers"`
}

// Compiled regex cache
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

// Classifier evaluates rule tables against user-agent strings.
type Classifier struct {
	rules      ruleFile
	regexCache *RegexCache
}

var (
	defaultClassifier *Classifier
	once              sync.Once
)

// NewClassifier parses YAML rule tables and compiles every pattern.
func NewClassifier(data []byte) (*Classifier, error) {
	var rules ruleFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	c := &Classifier{rules: rules, regexCache: newRegexCache()}

	patterns := []string{rules.Device.Mobile, rules.Device.Tablet}
	for _, r := range rules.OSs {
		patterns = append(patterns, r.Regex)
	}
	for _, r := range rules.Browsers {
		patterns = append(patterns, r.Regex)
	}
	for _, p := range patterns {
		if _, err := c.regexCache.get(p); err != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", p, err)
		}
	}
	return c, nil
}

func getClassifier() *Classifier {
	once.Do(func() {
		data, err := databaseFiles.ReadFile("database/rules.yml")
		if err == nil {
			defaultClassifier, err = NewClassifier(data)
		}
		if err != nil {
			slog.Error("Failed to load user agent rules", slog.Any("error", err))
			defaultClassifier = &Classifier{regexCache: newRegexCache()}
		}
	})
	return defaultClassifier
}

func (c *Classifier) matches(pattern, s string) bool {
	if pattern == "" {
		return false
	}
	regex, err := c.regexCache.get(pattern)
	if err != nil {
		return false
	}
	return regex.MatchString(s)
}

func (c *Classifier) firstMatch(rules []Rule, s string) string {
	for _, r := range rules {
		if c.matches(r.Regex, s) {
			return r.Name
		}
	}
	return Other
}

// DeviceType classifies the device. Tablet requires a mobile match plus a
// tablet keyword or a wide viewport. A zero viewport width means unknown.
func (c *Classifier) DeviceType(userAgent string, viewportWidth int) string {
	mobile := c.matches(c.rules.Device.Mobile, userAgent)
	if !mobile {
		return DeviceDesktop
	}

	wide := c.rules.Device.TabletMinWidth > 0 && viewportWidth >= c.rules.Device.TabletMinWidth
	if wide || c.matches(c.rules.Device.Tablet, userAgent) {
		return DeviceTablet
	}
	return DeviceMobile
}

// OS returns the first matching operating system, or Other.
func (c *Classifier) OS(userAgent string) string {
	return c.firstMatch(c.rules.OSs, userAgent)
}

// Browser returns the first matching browser family, or Other.
func (c *Classifier) Browser(userAgent string) string {
	return c.firstMatch(c.rules.Browsers, userAgent)
}

// Parse classifies a user agent seen with the given viewport width.
func (c *Classifier) Parse(userAgent string, viewportWidth int) UserAgent {
	return UserAgent{
		UserAgent: userAgent,
		OS:        c.OS(userAgent),
		Browser:   c.Browser(userAgent),
		Device:    c.DeviceType(userAgent, viewportWidth),
	}
}

// ParseUserAgent classifies userAgent with the embedded rule tables.
func ParseUserAgent(userAgent string, viewportWidth int) UserAgent {
	return getClassifier().Parse(userAgent, viewportWidth)
}
