package engine

import (
	"fmt"
	"sync"

	"github.com/LinkingMx/Law-sub002/internal/config"
	"github.com/LinkingMx/Law-sub002/internal/template"
	"github.com/LinkingMx/Law-sub002/model"
)

// AssigneeResolver turns a step's assignee configuration into a concrete
// user ID.
type AssigneeResolver interface {
	Resolve(assignee *model.AssigneeConfig, contextData map[string]any) (string, error)
}

// ConfigAssigneeResolver resolves assignees from static configuration:
// "user" assignees resolve to their value (with {{variable}} substitution
// against context data), "role" assignees rotate round-robin through the
// users configured for that role.
type ConfigAssigneeResolver struct {
	roles map[string][]string

	mu   sync.Mutex
	next map[string]int
}

// NewConfigAssigneeResolver creates a resolver from the assignees config
// section.
func NewConfigAssigneeResolver(cfg config.AssigneesConfig) *ConfigAssigneeResolver {
	return &ConfigAssigneeResolver{
		roles: cfg.Roles,
		next:  make(map[string]int),
	}
}

// Resolve implements AssigneeResolver.
func (r *ConfigAssigneeResolver) Resolve(assignee *model.AssigneeConfig, contextData map[string]any) (string, error) {
	if assignee == nil {
		return "", model.NewConfigurationError("step has no assignee configured")
	}

	switch assignee.Type {
	case "user":
		user := template.Render(assignee.Value, contextData)
		if user == "" {
			return "", model.NewConfigurationError(
				fmt.Sprintf("assignee %q resolved to an empty user", assignee.Value),
			)
		}
		return user, nil
	case "role":
		r.mu.Lock()
		defer r.mu.Unlock()

		users := r.roles[assignee.Value]
		if len(users) == 0 {
			return "", model.NewConfigurationError(
				fmt.Sprintf("role %q has no users configured", assignee.Value),
			)
		}
		idx := r.next[assignee.Value] % len(users)
		r.next[assignee.Value]++
		return users[idx], nil
	default:
		return "", model.NewConfigurationError(
			fmt.Sprintf("unknown assignee type %q", assignee.Type),
		)
	}
}
