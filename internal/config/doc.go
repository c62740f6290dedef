// Package config manages user-level settings stored at
// ~/.extmarket/config.yaml: gallery endpoints, request timeout, signature
// policy, and the on-disk roots for extensions and profiles. It also loads
// the optional admin policy file (excluded version ranges, allowed
// publishers) consumed by the version resolver.
package config
