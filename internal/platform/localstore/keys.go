package localstore

import "strings"

const defaultNamespace = "storefront"

// Keys holds the local store keys for one identity. Build it once per identity swap with
// Namespace.For instead of concatenating keys at each call site.
type Keys struct {
	Identity  string
	Cart      string
	Claimed   string
	Coupon    string
	Remaining string
}

// Namespace prefixes every key written by the storefront.
type Namespace string

// NewNamespace returns the namespace, defaulting to "storefront" when prefix is blank.
func NewNamespace(prefix string) Namespace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultNamespace
	}
	return Namespace(prefix)
}

// For derives the keys scoped to identity. The remaining-offer counter is global and never
// carries the identity; the empty identity addresses the anonymous session.
func (n Namespace) For(identity string) Keys {
	base := string(n)
	if base == "" {
		base = defaultNamespace
	}
	scoped := func(name string) string {
		if identity == "" {
			return base + ":" + name
		}
		return base + ":" + name + ":" + identity
	}
	return Keys{
		Identity:  identity,
		Cart:      scoped("cart"),
		Claimed:   scoped("offer:claimed"),
		Coupon:    scoped("offer:coupon"),
		Remaining: base + ":offer:remaining",
	}
}
