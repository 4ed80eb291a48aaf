package graph

import (
	"context"
	"log"
	"net/url"
	"strconv"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 500

// FetchAll drives a paged list endpoint with $top/$skip/$count and returns
// the flattened value records. Extra query parameters are merged into
// every page request.
//
// A transient page failure is logged and skipped when the reported count
// shows more pages remain; the loop still advances so one bad page never
// stalls the cycle. Paging ends on an empty page, on exhausting a
// reported @odata.count, or on a short page when the server sends no
// count.
func (c *Client) FetchAll(ctx context.Context, path string, pageSize int, extra url.Values) ([]map[string]any, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var records []map[string]any
	skip := 0
	remaining := -1 // unknown until the first page reports @odata.count

	for {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}

		query := url.Values{}
		for key, values := range extra {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		query.Set("$top", strconv.Itoa(pageSize))
		query.Set("$skip", strconv.Itoa(skip))
		query.Set("$count", "true")

		page, err := c.Get(ctx, path, query)
		if err != nil {
			if IsRetryable(err) && remaining > 0 {
				log.Printf("graph: skipping page at %s skip=%d: %v", path, skip, err)
				skip += pageSize
				remaining -= pageSize
				if remaining <= 0 {
					break
				}
				continue
			}
			return records, err
		}

		values := Children(page, "value")
		if count, ok := Int(page, "@odata.count"); ok {
			remaining = count - skip
		}
		if len(values) == 0 {
			break
		}

		records = append(records, values...)

		skip += pageSize
		if remaining >= 0 {
			remaining -= pageSize
			if remaining <= 0 {
				break
			}
		} else if len(values) < pageSize {
			// No count from the server: a short page is the last one.
			break
		}
	}

	return records, nil
}
