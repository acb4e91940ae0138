/*
Package capabilities answers "may fast checkout run on this form?" for an origin.

# Overview

A Fetcher sits in front of a remote capabilities Service. Each lookup sends only
a short hash prefix of the origin, and the service answers with every record
sharing that prefix. The fetcher keeps the record that matches the origin
exactly and caches it, or caches an empty result when none matches.

# Components

  - Cache: bounded, age-evicting map from Origin to Result. Reads evict stale
    entries before answering.
  - Fetcher: at most one lookup in flight per origin; callers arriving while a
    lookup is pending are queued and notified in order when it completes.
  - Origin / HashPrefix: normalization and k-anonymous lookup keys.

# Usage

	fetcher, err := capabilities.NewFetcher(service, capabilities.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer fetcher.Close()

	origin := capabilities.MustParseOrigin("https://shop.example")
	fetcher.FetchAvailability(origin, func(success bool) {
		if success && fetcher.IsTriggerFormSupported(origin, sig) {
			// offer fast checkout
		}
	})

A successful fetch only means availability is known; IsTriggerFormSupported
must still be consulted.
*/
package capabilities
