// Package crawler defines the domain types, collaborator interfaces and error
// taxonomy shared by the targeted paginated crawl engine: the target registry,
// partitioner, workers, pass dispatcher, retry controller and aggregator.
package crawler
