package referrers

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Source tags.
const (
	Direct    = "direct"
	Other     = "other"
	QR        = "qr"
	Instagram = "instagram"
	Twitter   = "twitter"
	Facebook  = "facebook"
	TikTok    = "tiktok"
	LinkedIn  = "linkedin"
	YouTube   = "youtube"
	Reddit    = "reddit"
	Pinterest = "pinterest"
	Snapchat  = "snapchat"
)

// rule maps referrer substrings to a source tag.
type rule struct {
	fragments []string
	source    string
}

// Evaluated in order; the first rule with a fragment contained in the
// lowercased referrer wins.
var sourceRules = []rule{
	{[]string{"instagram.com"}, Instagram},
	{[]string{"twitter.com", "x.com"}, Twitter},
	{[]string{"facebook.com", "fb.com"}, Facebook},
	{[]string{"tiktok.com"}, TikTok},
	{[]string{"linkedin.com"}, LinkedIn},
	{[]string{"youtube.com"}, YouTube},
	{[]string{"reddit.com"}, Reddit},
	{[]string{"pinterest.com"}, Pinterest},
	{[]string{"snapchat.com"}, Snapchat},
	{[]string{"t.co"}, Twitter},
	{[]string{"l.instagram.com"}, Instagram},
}

// Source classifies the traffic origin from the document referrer and the
// query parameters of the visited page.
func Source(referrer string, pageQuery url.Values) string {
	if referrer == "" {
		return Direct
	}

	ref := strings.ToLower(referrer)
	for _, r := range sourceRules {
		for _, fragment := range r.fragments {
			if strings.Contains(ref, fragment) {
				return r.source
			}
		}
	}

	if pageQuery.Get("qr") == "1" || pageQuery.Get("source") == "qr" {
		return QR
	}
	return Other
}

// ParseQuery parses a raw query string, tolerating a leading "?" and
// malformed pairs.
func ParseQuery(raw string) url.Values {
	values, _ := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if values == nil {
		return url.Values{}
	}
	return values
}

var sourceLabels = map[string]string{
	Direct:    "Direct",
	Other:     "Other",
	QR:        "QR Code",
	Instagram: "Instagram",
	Twitter:   "X/Twitter",
	Facebook:  "Facebook",
	TikTok:    "TikTok",
	LinkedIn:  "LinkedIn",
	YouTube:   "YouTube",
	Reddit:    "Reddit",
	Pinterest: "Pinterest",
	Snapchat:  "Snapchat",
}

// FriendlyName returns the display name for a source tag. Unknown tags are
// title-cased.
func FriendlyName(source string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	if name, ok := sourceLabels[source]; ok {
		return name
	}
	if source == "" {
		return sourceLabels[Direct]
	}
	return cases.Title(language.AmericanEnglish).String(source)
}
