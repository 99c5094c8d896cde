package visitors

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const visitorCookieMaxAge = 365 * 24 * time.Hour

// CookieOptions controls the attributes of identity cookies.
type CookieOptions struct {
	Secure bool
	// CrossSite issues SameSite=None; Secure cookies so beacons from
	// profile pages on another origin send them back. It needs credentialed
	// CORS for those origins.
	CrossSite bool
}

func (o CookieOptions) sameSite() string {
	if o.CrossSite {
		return fiber.CookieSameSiteNoneMode
	}
	return fiber.CookieSameSiteLaxMode
}

// CookieStore keeps identifiers in request/response cookies. A durable
// store sets a one-year max-age; a session store sets none, so the browser
// drops the cookie when the session ends.
type CookieStore struct {
	c       *fiber.Ctx
	durable bool
	opts    CookieOptions
	written map[string]string
}

// NewDurableCookieStore backs the visitor id.
func NewDurableCookieStore(c *fiber.Ctx, opts CookieOptions) *CookieStore {
	return &CookieStore{c: c, durable: true, opts: opts, written: map[string]string{}}
}

// NewSessionCookieStore backs the session id.
func NewSessionCookieStore(c *fiber.Ctx, opts CookieOptions) *CookieStore {
	return &CookieStore{c: c, opts: opts, written: map[string]string{}}
}

// Get returns a copy of the cookie value; fiber reuses request buffers once
// the handler returns and identities outlive the request.
func (s *CookieStore) Get(key string) (string, bool) {
	if v, ok := s.written[key]; ok {
		return v, true
	}
	v := utils.CopyString(s.c.Cookies(key))
	return v, v != ""
}

func (s *CookieStore) Set(key, value string) {
	s.written[key] = value
	cookie := &fiber.Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   s.opts.Secure || s.opts.CrossSite,
		SameSite: s.opts.sameSite(),
	}
	if s.durable {
		cookie.MaxAge = int(visitorCookieMaxAge.Seconds())
	}
	s.c.Cookie(cookie)
}

// RequestResolver builds a resolver over the cookies of the current request.
func RequestResolver(c *fiber.Ctx, opts CookieOptions) *Resolver {
	return NewResolver(NewDurableCookieStore(c, opts), NewSessionCookieStore(c, opts))
}
