package vocechat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const nicknameFallbackPrefix = "User_"

// nicknameResolver maps numeric VoceChat user ids to display names. Resolved
// names are cached for the process lifetime; failed lookups are not, so the
// next message retries.
type nicknameResolver struct {
	client  *client
	enabled bool
	log     *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

func newNicknameResolver(client *client, enabled bool, log *slog.Logger) *nicknameResolver {
	return &nicknameResolver{
		client:  client,
		enabled: enabled,
		log:     log,
		cache:   make(map[string]string),
	}
}

// Resolve never fails: every lookup error degrades to a deterministic
// placeholder name.
func (r *nicknameResolver) Resolve(ctx context.Context, userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		r.log.Warn("Nickname lookup skipped, empty user id")
		return nicknameFallbackPrefix + "InvalidID"
	}
	if !isDigits(trimmed) {
		r.log.Warn("Nickname lookup skipped, user id is not numeric", "user_id", trimmed)
		return nicknameFallbackPrefix + trimmed
	}

	if name, ok := r.cached(trimmed); ok {
		return name
	}

	fallback := nicknameFallbackPrefix + trimmed
	if !r.enabled {
		// Left uncached so enabling the lookup later takes effect.
		return fallback
	}

	info, err := r.client.fetchUser(ctx, trimmed)
	if err != nil {
		r.log.Warn("Nickname lookup failed", "user_id", trimmed, "error", err)
		return fallback
	}

	name := firstNonBlank(info.Name, info.UserDetail.Name, info.Username)
	if name == "" {
		r.log.Info("Nickname lookup returned no usable name field", "user_id", trimmed)
		return fallback
	}

	r.store(trimmed, name)
	return name
}

func (r *nicknameResolver) cached(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.cache[userID]
	return name, ok
}

func (r *nicknameResolver) store(userID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[userID] = name
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
