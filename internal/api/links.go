package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/fields>; rel="fields"`,
		`</api/v1/permissions>; rel="permissions"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/stats>; rel="stats"`,
	},
	"/api/v1/fields": {
		`</api/v1/nearby>; rel="nearby"`,
		`</api/v1/permissions>; rel="permissions"`,
		`</api/v1/map/tiles/{z}/{x}/{y}>; rel="tiles"`,
	},
	"/api/v1/fields/{id}": {
		`</api/v1/fields>; rel="collection"`,
	},
	"/api/v1/fields/{id}/adjacent": {
		`</api/v1/fields>; rel="collection"`,
	},
	"/api/v1/permissions": {
		`</api/v1/fields>; rel="fields"`,
		`</api/v1/provider-access>; rel="provider-access"`,
	},
	"/api/v1/permissions/{id}/respond": {
		`</api/v1/permissions>; rel="collection"`,
	},
	"/api/v1/permissions/{id}/revoke": {
		`</api/v1/permissions>; rel="collection"`,
	},
	"/api/v1/provider-access": {
		`</api/v1/permissions>; rel="permissions"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		return v, nil
	}
}
