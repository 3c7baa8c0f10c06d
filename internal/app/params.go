package app

import "net/url"

// withOptional builds a query from the non-empty entries of params.
func withOptional(params map[string]string) url.Values {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}
