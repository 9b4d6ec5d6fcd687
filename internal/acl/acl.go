// Package acl builds reader filter predicates for vector-store queries.
// The search engine treats the resulting filter as an opaque token and
// applies it identically to every retrieval channel.
package acl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openecm/ragsearch/internal/ragerr"
)

// Everyone is the principal granted to all authenticated users.
const Everyone = "GROUP_EVERYONE"

// Filter is a reader predicate for one (repository, user) pair. Query is
// the filter in Solr syntax for remote stores; Principals carries the same
// expanded set for in-process evaluation by embedded stores.
type Filter struct {
	Query      string
	Principals []string
}

// Matches reports whether a document with the given reader set is visible
// through this filter.
func (f Filter) Matches(readers []string) bool {
	for _, r := range readers {
		for _, p := range f.Principals {
			if r == p {
				return true
			}
		}
	}
	return false
}

// GroupResolver expands a user into the group principals it belongs to.
type GroupResolver interface {
	Groups(ctx context.Context, repositoryID, userID string) ([]string, error)
}

// PredicateBuilder builds reader filters from group membership.
type PredicateBuilder struct {
	resolver GroupResolver
}

// NewPredicateBuilder creates a builder backed by the given resolver.
func NewPredicateBuilder(resolver GroupResolver) *PredicateBuilder {
	return &PredicateBuilder{resolver: resolver}
}

// BuildReaderFilter expands userID into its principal set (the user itself,
// its groups, and the everyone group) and renders the filter. Resolution
// failures are permanent ACL errors.
func (b *PredicateBuilder) BuildReaderFilter(ctx context.Context, repositoryID, userID string) (Filter, error) {
	groups, err := b.resolver.Groups(ctx, repositoryID, userID)
	if err != nil {
		return Filter{}, ragerr.ACLError(fmt.Sprintf("failed to resolve groups for user %s", userID), err)
	}

	principals := make([]string, 0, len(groups)+2)
	principals = append(principals, userID)
	principals = append(principals, groups...)
	principals = append(principals, Everyone)
	principals = dedupe(principals)

	quoted := make([]string, len(principals))
	for i, p := range principals {
		quoted[i] = `"` + escapePrincipal(p) + `"`
	}

	return Filter{
		Query:      "readers:(" + strings.Join(quoted, " OR ") + ")",
		Principals: principals,
	}, nil
}

// escapePrincipal escapes characters that would break the quoted Solr term.
func escapePrincipal(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	return strings.ReplaceAll(p, `"`, `\"`)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// StaticResolver is an in-memory GroupResolver keyed by user ID. Useful
// for tests and single-node deployments.
type StaticResolver struct {
	membership map[string][]string
}

var _ GroupResolver = (*StaticResolver)(nil)

// NewStaticResolver creates a resolver from a user to groups mapping.
func NewStaticResolver(membership map[string][]string) *StaticResolver {
	return &StaticResolver{membership: membership}
}

// Groups returns the configured groups for userID, sorted for stable
// filter rendering.
func (r *StaticResolver) Groups(_ context.Context, _ string, userID string) ([]string, error) {
	groups := append([]string(nil), r.membership[userID]...)
	sort.Strings(groups)
	return groups, nil
}
