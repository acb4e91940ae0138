/*
Package http exposes the per-profile capabilities fetchers over a gin router.

Routes:

	GET    /health
	POST   /profiles
	GET    /profiles/:profile
	DELETE /profiles/:profile
	GET    /profiles/:profile/capabilities?origin=
	GET    /profiles/:profile/capabilities/trigger-form?origin=&form_signature=
	GET    /profiles/:profile/capabilities/consentless?origin=
	POST   /profiles/:profile/capabilities/prefetch

Only GET /profiles/:profile/capabilities and the prefetch route issue
lookups; the query routes answer from the cache. The lookup routes create
the profile on first use, up to the manager's limit. The query routes never
create one.
*/
package http
