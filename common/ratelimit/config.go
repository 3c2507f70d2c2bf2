package ratelimit

import (
	"net/http"
	"strings"
)

// OperationClass groups requests that share a rate limit budget
type OperationClass string

const (
	ClassRead     OperationClass = "read"     // GET endpoints
	ClassMutation OperationClass = "mutation" // reservation and registry writes
	ClassScan     OperationClass = "scan"     // checkout, checkin and scan
)

// ClassConfig defines the limit of one operation class
type ClassConfig struct {
	Class         OperationClass
	Limit         int64  // Requests allowed per window
	WindowSeconds int    // Time window in seconds
	Description   string // Human-readable description
}

// Default class configurations
var DefaultClassConfigs = map[OperationClass]ClassConfig{
	ClassRead: {
		Class:         ClassRead,
		Limit:         300,
		WindowSeconds: 60,
		Description:   "Dashboard and lookup reads - 300/minute",
	},
	ClassMutation: {
		Class:         ClassMutation,
		Limit:         60,
		WindowSeconds: 60,
		Description:   "Reservation and registry writes - 60/minute",
	},
	ClassScan: {
		Class:         ClassScan,
		Limit:         30,
		WindowSeconds: 60,
		Description:   "Checkout, checkin and scan - 30/minute",
	},
}

// GlobalConfig contains global service-wide limits
type GlobalConfig struct {
	Limit         int64 // Total requests per window (all actors)
	WindowSeconds int   // Time window
}

// Default global configuration
var DefaultGlobalConfig = GlobalConfig{
	Limit:         1000,
	WindowSeconds: 60,
}

// GetLimitForClass returns the limit of a class, falling back to the
// strictest one
func GetLimitForClass(class OperationClass) int64 {
	if cfg, ok := DefaultClassConfigs[class]; ok {
		return cfg.Limit
	}
	return DefaultClassConfigs[ClassScan].Limit
}

// GetWindowForClass returns the window of a class
func GetWindowForClass(class OperationClass) int {
	if cfg, ok := DefaultClassConfigs[class]; ok {
		return cfg.WindowSeconds
	}
	return DefaultClassConfigs[ClassScan].WindowSeconds
}

// GetAllClasses returns all configured classes for documentation/API responses
func GetAllClasses() []ClassConfig {
	return []ClassConfig{
		DefaultClassConfigs[ClassRead],
		DefaultClassConfigs[ClassMutation],
		DefaultClassConfigs[ClassScan],
	}
}

// ClassifyRequest maps an HTTP method and path onto an operation class
func ClassifyRequest(method, path string) OperationClass {
	if method == http.MethodGet || method == http.MethodHead {
		return ClassRead
	}
	for _, suffix := range []string{"/checkout", "/checkin", "/scan"} {
		if strings.HasSuffix(path, suffix) {
			return ClassScan
		}
	}
	return ClassMutation
}
