package runner

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrDuplicateHandler indicates a token already has a handler registered.
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrNoHandler indicates a token has no handler.
	ErrNoHandler = errors.New("no handler registered")
)

// Handler maps one command token to the shell command line that implements it.
type Handler struct {
	Token   string `json:"token"`
	Command string `json:"command"`
}

// Registry holds the external handlers known to this process.
type Registry struct {
	handlers sync.Map
}

// NewRegistry registers every handler, failing on the first invalid entry.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register stores a handler for its token.
func (r *Registry) Register(h Handler) error {
	key := normalizeToken(h.Token)
	if key == "" {
		return errors.New("handler token required")
	}
	if strings.TrimSpace(h.Command) == "" {
		return errors.New("handler command required for " + key)
	}
	h.Token = key
	if _, loaded := r.handlers.LoadOrStore(key, h); loaded {
		return ErrDuplicateHandler
	}
	return nil
}

// Fetch retrieves the handler for a token.
func (r *Registry) Fetch(token string) (Handler, bool) {
	key := normalizeToken(token)
	if key == "" {
		return Handler{}, false
	}
	if value, ok := r.handlers.Load(key); ok {
		if h, ok := value.(Handler); ok {
			return h, true
		}
	}
	return Handler{}, false
}

// Status returns "registered" or "missing".
func (r *Registry) Status(token string) string {
	if _, ok := r.Fetch(token); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for a list of tokens.
func (r *Registry) Snapshot(tokens []string) map[string]string {
	out := make(map[string]string, len(tokens))
	for _, token := range tokens {
		if normalized := normalizeToken(token); normalized != "" {
			out[normalized] = r.Status(normalized)
		}
	}
	return out
}

// Tokens lists registered tokens in sorted order.
func (r *Registry) Tokens() []string {
	var tokens []string
	r.handlers.Range(func(key, _ any) bool {
		tokens = append(tokens, key.(string))
		return true
	})
	sort.Strings(tokens)
	return tokens
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
