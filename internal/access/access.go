package access

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"ladder-bot-go/internal/models"
)

// Control 维护允许修改策略的调用方列表。
// 管理员即策略所有者, 始终被授权且不能被撤销; 其他调用方的授权随时可以收回。
type Control struct {
	mu         sync.RWMutex
	admin      string
	authorized map[string]struct{}
}

// New 创建访问控制, admin 是唯一的管理员
func New(admin string) *Control {
	return &Control{
		admin:      admin,
		authorized: make(map[string]struct{}),
	}
}

// Admin 返回管理员身份, 也就是策略所有者
func (c *Control) Admin() string {
	return c.admin
}

// Authorize 把调用方加入授权列表, 只有管理员可以操作
func (c *Control) Authorize(actor, caller string) error {
	if actor != c.admin {
		return fmt.Errorf("%s may not authorize callers: %w", actor, models.ErrUnauthorized)
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return models.NewParamError("caller", "must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized[caller] = struct{}{}
	return nil
}

// Revoke 从授权列表移除调用方, 只有管理员可以操作。撤销对后续调用立即生效。
func (c *Control) Revoke(actor, caller string) error {
	if actor != c.admin {
		return fmt.Errorf("%s may not revoke callers: %w", actor, models.ErrUnauthorized)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.authorized, caller)
	return nil
}

// IsAuthorized 判断调用方当前是否可以修改策略
func (c *Control) IsAuthorized(caller string) bool {
	if caller == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if caller == c.admin {
		return true
	}
	_, ok := c.authorized[caller]
	return ok
}

// Check 在调用方未被授权时返回 ErrUnauthorized
func (c *Control) Check(caller string) error {
	if !c.IsAuthorized(caller) {
		return fmt.Errorf("caller %q: %w", caller, models.ErrUnauthorized)
	}
	return nil
}

// List 返回显式授权的调用方, 已排序
func (c *Control) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.authorized))
	for k := range c.authorized {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Restore 用持久化快照中的列表替换当前授权列表
func (c *Control) Restore(callers []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = make(map[string]struct{}, len(callers))
	for _, caller := range callers {
		if caller != "" {
			c.authorized[caller] = struct{}{}
		}
	}
}
