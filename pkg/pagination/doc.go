// Package pagination walks Link-paginated GitHub collections sequentially.
//
// GitHub announces further pages in the Link response header. The fetcher
// requests one page, extracts its items, reads rel="next" from the same
// response and follows it until no next link remains or the page budget is
// spent. Retries, backoff and rate limits are handled by the client package;
// errors from it are returned unchanged apart from page context.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig(headers))
//	fetcher := pagination.NewFetcher(c, pagination.DefaultConfig())
//	total, err := fetcher.FetchAll(ctx, "psf", "requests", 50, 3)
//
// Pages are never fetched in parallel: each next URL is only known once the
// previous page has arrived.
package pagination
