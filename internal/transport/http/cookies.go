package http

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// Cookies issues the signed visitor cookie that keys server-side sessions,
// and the one-shot notice cookie shown after a redirect.
type Cookies struct {
	codec  *securecookie.SecureCookie
	name   string
	ttl    time.Duration
	secure bool
}

func NewCookies(secret, name string, ttl time.Duration, secure bool) *Cookies {
	hashKey := sha256.Sum256([]byte(secret))
	codec := securecookie.New(hashKey[:], nil)
	codec.MaxAge(int(ttl / time.Second))
	return &Cookies{codec: codec, name: name, ttl: ttl, secure: secure}
}

// VisitorID returns the visitor's id, minting one when the cookie is missing,
// tampered with or too old. The cookie is re-issued on every call so its
// lifetime slides with activity.
func (c *Cookies) VisitorID(w http.ResponseWriter, r *http.Request) string {
	var id string
	if cookie, err := r.Cookie(c.name); err == nil {
		if err := c.codec.Decode(c.name, cookie.Value, &id); err != nil {
			id = ""
		}
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	if encoded, err := c.codec.Encode(c.name, id); err == nil {
		http.SetCookie(w, c.cookie(c.name, encoded, int(c.ttl/time.Second)))
	}
	return id
}

// Flash stores a notice for the next page view.
func (c *Cookies) Flash(w http.ResponseWriter, notice string) {
	name := c.noticeName()
	encoded, err := c.codec.Encode(name, notice)
	if err != nil {
		return
	}
	http.SetCookie(w, c.cookie(name, encoded, 0))
}

// PopFlash returns and clears the pending notice.
func (c *Cookies) PopFlash(w http.ResponseWriter, r *http.Request) string {
	name := c.noticeName()
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	http.SetCookie(w, c.cookie(name, "", -1))
	var notice string
	if err := c.codec.Decode(name, cookie.Value, &notice); err != nil {
		return ""
	}
	return notice
}

func (c *Cookies) noticeName() string {
	return c.name + "_notice"
}

func (c *Cookies) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
