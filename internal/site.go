// Package site defines domain types and interfaces for the mason content API.
// This package has no project imports -- it is the dependency root.
package site

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// --- Content ---

// Collection names double as cache namespaces for their public reads.
const (
	CollectionServices = "services"
	CollectionProjects = "projects"
	CollectionStories  = "stories"
	CollectionAbout    = "about"
	CollectionMessages = "messages"
)

// AboutID is the fixed document ID of the about page.
const AboutID = "about"

// Document is implemented by every stored content type.
type Document interface {
	DocID() string
	SetID(id string)
	SetCreatedAt(t time.Time)
	Stamp(now time.Time)
}

// Meta carries the fields every document shares.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocID returns the document ID.
func (m *Meta) DocID() string { return m.ID }

// SetID assigns the document ID.
func (m *Meta) SetID(id string) { m.ID = id }

// SetCreatedAt overrides the creation time.
func (m *Meta) SetCreatedAt(t time.Time) { m.CreatedAt = t }

// Stamp sets UpdatedAt, and CreatedAt when it is still zero.
func (m *Meta) Stamp(now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

// Service is an offered line of work (e.g. "Kitchen remodeling").
type Service struct {
	Meta
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

// Project is a completed or ongoing job shown in the portfolio.
type Project struct {
	Meta
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Category    string   `json:"category,omitempty"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images,omitempty"`
	Featured    bool     `json:"featured"`
	CompletedOn string   `json:"completed_on,omitempty"` // YYYY-MM-DD
	SortOrder   int      `json:"sort_order"`
}

// Story is a client success story.
type Story struct {
	Meta
	Title     string `json:"title"`
	Client    string `json:"client"`
	Quote     string `json:"quote,omitempty"`
	Body      string `json:"body,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	SortOrder int    `json:"sort_order"`
}

// About is the singleton "about us" content.
type About struct {
	Meta
	Headline          string   `json:"headline"`
	Body              string   `json:"body"`
	YearsInBusiness   int      `json:"years_in_business,omitempty"`
	ProjectsCompleted int      `json:"projects_completed,omitempty"`
	Values            []string `json:"values,omitempty"`
}

// Message is a contact-form submission.
type Message struct {
	Meta
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
	Read    bool   `json:"read"`
}

// ListOptions filters and pages a collection listing.
type ListOptions struct {
	// Filters maps a document field path (gjson syntax) to the required value.
	Filters map[string]string
	Offset  int
	Limit   int
}

// Slugify lowercases s and joins its alphanumeric runs with '-'.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// --- Auth ---

// APIKey represents an API key for authentication.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	KeyHash    string     `json:"-"`          // SHA-256 hex, never exposed
	KeyPrefix  string     `json:"key_prefix"` // first chars for display
	Role       string     `json:"role"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Blocked    bool       `json:"blocked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is the authenticated caller attached to request context.
type Identity struct {
	Subject string     `json:"subject"` // key prefix
	KeyID   string     `json:"key_id"`
	Role    string     `json:"role"`
	Perms   Permission `json:"-"`
}

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermEditContent   Permission = 1 << iota // create/update/delete services, projects, stories, about
	PermReadMessages                         // read and triage contact messages
	PermManageKeys                           // create/delete API keys
	PermManageCache                          // purge and invalidate the response cache
)

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":  PermEditContent | PermReadMessages | PermManageKeys | PermManageCache,
	"editor": PermEditContent | PermReadMessages,
}

// ValidRole reports whether role is a known role name.
func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// APIKeyPrefix is the prefix for all mason API keys.
const APIKeyPrefix = "msn_"

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// Identity is set later by the authenticate middleware via mutation.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, otherwise in a new one (e.g. in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
