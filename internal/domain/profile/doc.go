// Package profile scopes capabilities fetchers to browsing profiles.
//
// Each profile owns a private fetcher and cache, created lazily on first use
// and torn down with the profile. Callers hold a Manager explicitly instead of
// looking fetchers up through a global registry.
package profile
