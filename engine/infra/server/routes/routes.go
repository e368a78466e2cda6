package routes

import "fmt"

const apiVersion = "v0"

// Version returns the current API version string used in routing (e.g., "v0").
func Version() string {
	return apiVersion
}

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return fmt.Sprintf("/api/%s", Version())
}

func buildResourceRoute(resource string) string {
	return Base() + "/" + resource
}

func Ingest() string  { return buildResourceRoute("ingest") }
func Chat() string    { return buildResourceRoute("chat") }
func Search() string  { return buildResourceRoute("search") }
func Sources() string { return buildResourceRoute("sources") }
func Sync() string    { return buildResourceRoute("sync") }

// Source returns the path of a single source (e.g., "/api/v0/sources/abc").
func Source(id string) string {
	return Sources() + "/" + id
}

// Healthz is the unversioned liveness probe.
func Healthz() string {
	return "/healthz"
}
