package health

import (
	"regexp"
	"strings"
	"time"
)

// Health states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex         = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component, optionally composed of the
// statuses of its parts.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy reports err with URLs, paths, addresses and credentials
// masked.
func NewUnhealthy(component string, err error) Status {
	msg := "unhealthy"
	if err != nil {
		msg = Sanitize(err.Error())
	}
	return newStatus(component, StateUnhealthy, msg)
}

// Aggregate combines sub-statuses: any unhealthy part makes the whole
// unhealthy, otherwise any degraded part makes it degraded.
func Aggregate(component string, subs []Status) Status {
	var out Status
	switch {
	case len(subs) == 0:
		return NewHealthy(component, "no checks registered")
	case anyState(subs, StateUnhealthy):
		out = newStatus(component, StateUnhealthy, "one or more checks are unhealthy")
	case anyState(subs, StateDegraded):
		out = newStatus(component, StateDegraded, "one or more checks are degraded")
	default:
		out = NewHealthy(component, "all checks are healthy")
	}
	out.SubStatuses = append([]Status(nil), subs...)
	return out
}

func anyState(subs []Status, state string) bool {
	for _, s := range subs {
		if s.Status == state {
			return true
		}
	}
	return false
}

// Sanitize masks URLs, file paths, IP addresses, ports and credentials in a
// message that may be served to unauthenticated clients.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	// URLs first; they contain paths.
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = windowsPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = portRegex.ReplaceAllString(msg, "[PORT]")

	lower := strings.ToLower(msg)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(msg, "[REDACTED]")
		}
	}
	return msg
}
