package fingerprint

import (
	"context"
	"strings"
	"sync"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/snmp"
)

// MatcherFunc is a programmatic fallback for platforms whose identity is not
// expressible as declarative rules. It may issue live SNMP requests through
// client; client can be nil when the session is gone, and implementations
// must tolerate that.
type MatcherFunc func(ctx context.Context, client snmp.Client, dev *models.Device) bool

var (
	customMu       sync.RWMutex
	customMatchers = map[string]MatcherFunc{}
)

// RegisterMatcher installs fn under name so OS definitions can reference it
// via their matcher field. Later registrations under the same name replace
// earlier ones.
func RegisterMatcher(name string, fn MatcherFunc) {
	customMu.Lock()
	customMatchers[name] = fn
	customMu.Unlock()
}

func customMatcher(name string) (MatcherFunc, bool) {
	customMu.RLock()
	fn, ok := customMatchers[name]
	customMu.RUnlock()
	return fn, ok
}

func init() {
	// Old HP/Compaq iLO boards report a bare management-card sysDescr with
	// no enterprise sysObjectID; the board model string is the only tell.
	RegisterMatcher("ilo-legacy", func(ctx context.Context, client snmp.Client, dev *models.Device) bool {
		return strings.Contains(dev.SysDescr, "Integrated Lights-Out") ||
			strings.Contains(dev.SysDescr, "Remote Insight")
	})
}
