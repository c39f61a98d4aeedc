package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /auth.v1.AuthService/RefreshToken).
// Action is a verb derived from the method name; resource is the service name without the
// "Service" suffix (AuthService -> auth).
func ParseFullMethod(fullMethod string) ActionResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := strings.TrimPrefix(fullMethod[:slash], "/")
	serviceName := beforeSlash
	if dot := strings.LastIndex(beforeSlash, "."); dot >= 0 {
		serviceName = beforeSlash[dot+1:]
	}
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(serviceName)}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	switch {
	case method == "":
		return "unknown"
	case strings.HasPrefix(method, "Get") && method != "Get":
		return "get"
	case strings.HasPrefix(method, "List"):
		return "list"
	case strings.HasPrefix(method, "Refresh"):
		return ActionRefresh
	case strings.HasPrefix(method, "Register"):
		return ActionRegister
	case strings.HasPrefix(method, "Revoke"):
		return "revoke"
	case method == "Check" || method == "Watch":
		return "health"
	default:
		return strings.ToLower(method)
	}
}
