/*
Package nsuconfig loads the node status updater's YAML configuration file
(gopkg.in/yaml.v3, the same library cmd/warren/apply.go uses for resource
manifests) onto a struct pre-seeded with Default(), validates the
startup-fatal invariants (non-negative stopped-container retention, a
positive heartbeat floor), and exposes the controller-minimum-version gate
via golang.org/x/mod/semver.
*/
package nsuconfig
