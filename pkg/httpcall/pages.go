package httpcall

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// interPageDelay paces sequential page fetches so a deep listing does
// not burst a provider's budget.
const interPageDelay = 100 * time.Millisecond

// DefaultMaxPages caps runaway pagination when an upstream never
// signals its last page.
const DefaultMaxPages = 20

// PageFunc consumes one page body and reports whether another page
// should be fetched. Each provider's envelope decides: total_pages
// reached, a null next cursor, or has_more false all end the walk.
type PageFunc func(page int, body []byte) (more bool, err error)

// GetPages walks a paginated endpoint, setting pageParam on each
// request, until fn reports no more pages, maxPages is hit, or ctx is
// done. Pages are fetched sequentially with a small delay between
// them.
func (c *Caller) GetPages(ctx context.Context, req Request, pageParam string, startPage, maxPages int, fn PageFunc) error {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	page := startPage
	for fetched := 0; fetched < maxPages; fetched++ {
		query := make(url.Values, len(req.Query)+1)
		for k, v := range req.Query {
			query[k] = v
		}
		query.Set(pageParam, strconv.Itoa(page))

		pageReq := req
		pageReq.Query = query

		resp, err := c.Do(ctx, pageReq)
		if err != nil {
			return err
		}

		more, err := fn(page, resp.Body)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		page++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interPageDelay):
		}
	}
	return nil
}
