package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern stores the matched router pattern on the context. Metrics
// and logs label by pattern rather than raw path to keep cardinality bounded.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the stored route pattern, or "" when the
// request never passed through the router.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routePatternKey{}).(string)
	return pattern
}
