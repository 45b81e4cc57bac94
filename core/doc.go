// Package core defines the domain model shared by the Intelify pipeline.
//
// # Overview
//
// The core package provides:
//   - Indicator types (IOC, Candidate, Enrichment) and their normalization
//   - Feed configuration and health (Source, SourceHealth)
//   - News records used by the news linker (NewsSource, NewsArticle)
//   - The pipeline error taxonomy (FetchError, ParseError, UnknownAdapterError,
//     EnrichmentLookupError)
//   - Explicit per-record parse outcomes (Ok, Skip, Err)
//   - A circuit breaker for flaky lookup dependencies
//
// Storage, transport and scheduling live in their own packages and depend on core,
// never the other way around.
package core
