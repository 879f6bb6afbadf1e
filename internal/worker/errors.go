// ABOUTME: Errors that end a worker
// ABOUTME: Each names the failing substrate operation and wraps its cause
package worker

import (
	"fmt"
	"time"
)

// ServiceRegistrationError means the worker's own announcement failed
type ServiceRegistrationError struct {
	Instance string
	Err      error
}

func (e *ServiceRegistrationError) Error() string {
	return fmt.Sprintf("service registration of %s failed: %v", e.Instance, e.Err)
}

func (e *ServiceRegistrationError) Unwrap() error {
	return e.Err
}

// ServiceBrowseError means watching the category failed
type ServiceBrowseError struct {
	Category string
	Err      error
}

func (e *ServiceBrowseError) Error() string {
	return fmt.Sprintf("browsing %s failed: %v", e.Category, e.Err)
}

func (e *ServiceBrowseError) Unwrap() error {
	return e.Err
}

// ServiceResolveError means the substrate reported a fault while resolving a peer
type ServiceResolveError struct {
	Instance string
	Err      error
}

func (e *ServiceResolveError) Error() string {
	return fmt.Sprintf("resolving %s failed: %v", e.Instance, e.Err)
}

func (e *ServiceResolveError) Unwrap() error {
	return e.Err
}

// NameResolutionTimeoutError means a peer did not resolve in time
type NameResolutionTimeoutError struct {
	Instance string
	Timeout  time.Duration
}

func (e *NameResolutionTimeoutError) Error() string {
	return fmt.Sprintf("resolving %s timed out after %s", e.Instance, e.Timeout)
}
