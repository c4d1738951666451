package topic

import (
	"strings"
)

// Builder constructs topic strings of the form {root}/{segment}/{id}.
// Segments are defined by the caller, see internal/pkg/mqtt/paths.
type Builder struct {
	// root is the base namespace for all topics (e.g. "athena/v1").
	root string

	// group, when set, turns filters into $share/{group}/... subscriptions.
	group string
}

// NewBuilder creates a Builder for the root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/")}
}

// Shared returns a copy whose wildcard filters use the shared subscription
// group. An empty group disables sharing.
func (b *Builder) Shared(group string) *Builder {
	c := *b
	c.group = group
	return &c
}

// Root returns the namespace.
func (b *Builder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return b.root + "/" + segment + "/" + id
}

// BuildWildcard returns the filter matching every id under segment.
// Result: [$share/{group}/]{root}/{segment}/+
func (b *Builder) BuildWildcard(segment string) string {
	filter := b.Build(segment, Wildcard)
	if b.group != "" {
		return SharePrefix + "/" + b.group + "/" + filter
	}
	return filter
}

// Parse extracts the trailing id from a topic built for segment. ok is false
// when the topic does not belong to the segment or the id is empty or nested.
func (b *Builder) Parse(segment, topic string) (id string, ok bool) {
	prefix := b.root + "/" + segment + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id = topic[len(prefix):]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
